package scheduling

import (
	"context"
	"strings"

	"github.com/ehr/telehealth/internal/domain/availability"
	"github.com/ehr/telehealth/internal/platform/apperr"
	"github.com/ehr/telehealth/internal/platform/civil"
	"github.com/ehr/telehealth/internal/platform/rpc"
)

// Operation names.
const (
	OpCreateAppointment       = "CREATE_APPOINTMENT"
	OpUpdateAppointment       = "UPDATE_APPOINTMENT"
	OpUpdateAppointmentStatus = "UPDATE_APPOINTMENT_STATUS"
	OpCancelAppointment       = "CANCEL_APPOINTMENT"
	OpDeleteAppointment       = "DELETE_APPOINTMENT"
	OpGetAppointments         = "GET_APPOINTMENTS"
	OpCheckAvailability       = "CHECK_AVAILABILITY"
	OpCreateUnavailability    = "CREATE_UNAVAILABILITY"
	OpDeleteUnavailability    = "DELETE_UNAVAILABILITY"
	OpGetUnavailability       = "GET_UNAVAILABILITY"
)

// Administrators answers whether a user may perform administrative
// operations.
type Administrators interface {
	IsAdministrator(ctx context.Context, userID string) (bool, error)
}

type Handler struct {
	svc    *Service
	admins Administrators
}

func NewHandler(svc *Service, admins Administrators) *Handler {
	return &Handler{svc: svc, admins: admins}
}

func (h *Handler) RegisterOps(r *rpc.Router) {
	r.Handle(OpCreateAppointment, rpc.Typed(h.createAppointment))
	r.Handle(OpUpdateAppointment, rpc.Typed(h.updateAppointment))
	r.Handle(OpUpdateAppointmentStatus, rpc.Typed(h.updateAppointmentStatus))
	r.Handle(OpCancelAppointment, rpc.Typed(h.cancelAppointment))
	r.Handle(OpDeleteAppointment, rpc.Typed(h.deleteAppointment))
	r.Handle(OpGetAppointments, rpc.Typed(h.getAppointments), rpc.WithTag("APPOINTMENTS_RESPONSE"))
	r.Handle(OpCheckAvailability, rpc.Typed(h.checkAvailability))
	r.Handle(OpCreateUnavailability, rpc.Typed(h.createUnavailability))
	r.Handle(OpDeleteUnavailability, rpc.Typed(h.deleteUnavailability))
	r.Handle(OpGetUnavailability, rpc.Typed(h.getUnavailability))
}

type createAppointmentFields struct {
	ID        string           `json:"id"`
	PatientID string           `json:"patientId"`
	DoctorID  string           `json:"doctorId"`
	Date      civil.Date       `json:"date"`
	Time      *civil.TimeOfDay `json:"time"`
	Status    string           `json:"status"`
}

func (f *createAppointmentFields) Validate() error {
	if f.PatientID == "" || f.DoctorID == "" || f.Date.IsZero() || f.Time == nil {
		return apperr.Validation("patientId, doctorId, date and time are required")
	}
	return nil
}

func (h *Handler) createAppointment(ctx context.Context, _ *rpc.Request, f *createAppointmentFields) (rpc.Reply, error) {
	a, err := h.svc.Book(ctx, BookInput{
		ID:        f.ID,
		PatientID: f.PatientID,
		DoctorID:  f.DoctorID,
		Date:      f.Date,
		Time:      *f.Time,
		Status:    f.Status,
	})
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Appointment created successfully", Payload: map[string]interface{}{
		"appointment": a,
	}}, nil
}

type updateAppointmentFields struct {
	AppointmentID string           `json:"appointmentId"`
	Status        string           `json:"status"`
	Date          *civil.Date      `json:"date"`
	Time          *civil.TimeOfDay `json:"time"`
}

func (f *updateAppointmentFields) Validate() error {
	if f.AppointmentID == "" {
		return apperr.Validation("appointmentId is required")
	}
	if (f.Date == nil) != (f.Time == nil) {
		return apperr.Validation("date and time must be given together")
	}
	if f.Date == nil && f.Status == "" {
		return apperr.Validation("either date and time, or status, is required")
	}
	return nil
}

// updateAppointment reschedules when a new date and time are given and
// otherwise changes the status only.
func (h *Handler) updateAppointment(ctx context.Context, _ *rpc.Request, f *updateAppointmentFields) (rpc.Reply, error) {
	var (
		a   *Appointment
		err error
	)
	if f.Date != nil {
		a, err = h.svc.Reschedule(ctx, f.AppointmentID, *f.Date, *f.Time)
	} else {
		a, err = h.svc.UpdateStatus(ctx, f.AppointmentID, f.Status)
	}
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Appointment updated successfully", Payload: map[string]interface{}{
		"appointment": a,
	}}, nil
}

type appointmentStatusFields struct {
	AppointmentID string `json:"appointmentId"`
	Status        string `json:"status"`
}

func (f *appointmentStatusFields) Validate() error {
	if f.AppointmentID == "" || f.Status == "" {
		return apperr.Validation("appointmentId and status are required")
	}
	return nil
}

func (h *Handler) updateAppointmentStatus(ctx context.Context, _ *rpc.Request, f *appointmentStatusFields) (rpc.Reply, error) {
	a, err := h.svc.UpdateStatus(ctx, f.AppointmentID, f.Status)
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Appointment status updated", Payload: map[string]interface{}{
		"appointment": a,
	}}, nil
}

type appointmentIDFields struct {
	AppointmentID string `json:"appointmentId"`
}

func (f *appointmentIDFields) Validate() error {
	if f.AppointmentID == "" {
		return apperr.Validation("appointmentId is required")
	}
	return nil
}

func (h *Handler) cancelAppointment(ctx context.Context, _ *rpc.Request, f *appointmentIDFields) (rpc.Reply, error) {
	a, err := h.svc.Cancel(ctx, f.AppointmentID)
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Appointment cancelled", Payload: map[string]interface{}{
		"appointment": a,
	}}, nil
}

func (h *Handler) deleteAppointment(ctx context.Context, req *rpc.Request, f *appointmentIDFields) (rpc.Reply, error) {
	isAdmin, err := h.admins.IsAdministrator(ctx, req.ActorID)
	if err != nil {
		return rpc.Reply{}, err
	}
	if !isAdmin {
		return rpc.Reply{}, apperr.Forbidden("Only administrators can delete appointments")
	}
	if err := h.svc.Delete(ctx, f.AppointmentID); err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Appointment deleted successfully"}, nil
}

type getAppointmentsFields struct {
	PatientID string `json:"patientId"`
	DoctorID  string `json:"doctorId"`
	UserType  string `json:"userType"`
}

// getAppointments filters by the given ids. Without ids, a userType of
// PATIENT or DOCTOR scopes the listing to the actor.
func (h *Handler) getAppointments(ctx context.Context, req *rpc.Request, f *getAppointmentsFields) (rpc.Reply, error) {
	filter := AppointmentFilter{PatientID: f.PatientID, DoctorID: f.DoctorID}
	if filter == (AppointmentFilter{}) {
		switch strings.ToUpper(f.UserType) {
		case "PATIENT":
			filter.PatientID = req.ActorID
		case "DOCTOR":
			filter.DoctorID = req.ActorID
		}
	}
	items, err := h.svc.ListAppointments(ctx, filter)
	if err != nil {
		return rpc.Reply{}, err
	}
	if items == nil {
		items = []*Appointment{}
	}
	return rpc.Reply{Message: "Appointments retrieved", Payload: map[string]interface{}{
		"appointments": items,
		"count":        len(items),
	}}, nil
}

type checkAvailabilityFields struct {
	DoctorID string           `json:"doctorId"`
	Date     civil.Date       `json:"date"`
	Time     *civil.TimeOfDay `json:"time"`
}

func (f *checkAvailabilityFields) Validate() error {
	if f.DoctorID == "" || f.Date.IsZero() {
		return apperr.Validation("doctorId and date are required")
	}
	return nil
}

func (h *Handler) checkAvailability(ctx context.Context, _ *rpc.Request, f *checkAvailabilityFields) (rpc.Reply, error) {
	res, err := h.svc.CheckAvailability(ctx, f.DoctorID, f.Date, f.Time)
	if err != nil {
		return rpc.Reply{}, err
	}
	msg := "Doctor is available"
	if !res.Available {
		msg = "Doctor is unavailable at this time. Reason: " + res.Reason
	}
	return rpc.Reply{Message: msg, Payload: res}, nil
}

type createUnavailabilityFields struct {
	DoctorID  string           `json:"doctorId"`
	StartDate civil.Date       `json:"startDate"`
	EndDate   civil.Date       `json:"endDate"`
	StartTime *civil.TimeOfDay `json:"startTime"`
	EndTime   *civil.TimeOfDay `json:"endTime"`
	IsAllDay  bool             `json:"isAllDay"`
	Reason    string           `json:"reason"`
}

func (h *Handler) createUnavailability(ctx context.Context, req *rpc.Request, f *createUnavailabilityFields) (rpc.Reply, error) {
	p, err := h.svc.CreateUnavailability(ctx, req.ActorID, availability.Period{
		DoctorID:  f.DoctorID,
		StartDate: f.StartDate,
		EndDate:   f.EndDate,
		StartTime: f.StartTime,
		EndTime:   f.EndTime,
		IsAllDay:  f.IsAllDay,
		Reason:    f.Reason,
	})
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Unavailability period created", Payload: map[string]interface{}{
		"unavailability": p,
	}}, nil
}

type deleteUnavailabilityFields struct {
	ID               string `json:"id"`
	UnavailabilityID string `json:"unavailabilityId"`
}

func (f *deleteUnavailabilityFields) Validate() error {
	if f.ID == "" {
		f.ID = f.UnavailabilityID
	}
	if f.ID == "" {
		return apperr.Validation("id is required")
	}
	return nil
}

func (h *Handler) deleteUnavailability(ctx context.Context, req *rpc.Request, f *deleteUnavailabilityFields) (rpc.Reply, error) {
	if err := h.svc.DeleteUnavailability(ctx, req.ActorID, f.ID); err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Unavailability period deleted"}, nil
}

type getUnavailabilityFields struct {
	DoctorID string `json:"doctorId"`
}

func (h *Handler) getUnavailability(ctx context.Context, _ *rpc.Request, f *getUnavailabilityFields) (rpc.Reply, error) {
	items, err := h.svc.ListUnavailability(ctx, f.DoctorID)
	if err != nil {
		return rpc.Reply{}, err
	}
	if items == nil {
		items = []availability.Period{}
	}
	return rpc.Reply{Message: "Unavailability periods retrieved", Payload: map[string]interface{}{
		"unavailability": items,
		"count":          len(items),
	}}, nil
}
