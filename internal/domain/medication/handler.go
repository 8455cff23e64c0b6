package medication

import (
	"context"
	"strings"

	"github.com/ehr/telehealth/internal/platform/apperr"
	"github.com/ehr/telehealth/internal/platform/civil"
	"github.com/ehr/telehealth/internal/platform/rpc"
)

const (
	OpCreatePrescription       = "CREATE_PRESCRIPTION"
	OpGetPrescriptions         = "GET_PRESCRIPTIONS"
	OpUpdatePrescriptionStatus = "UPDATE_PRESCRIPTION_STATUS"
	OpUpdatePrescription       = "UPDATE_PRESCRIPTION"
	OpRequestRefill            = "REQUEST_REFILL"
	OpRefillPrescription       = "REFILL_PRESCRIPTION"
	OpRejectPrescriptionRefill = "REJECT_PRESCRIPTION_REFILL"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterOps(r *rpc.Router) {
	r.Handle(OpCreatePrescription, rpc.Typed(h.create))
	r.Handle(OpGetPrescriptions, rpc.Typed(h.list), rpc.WithTag("PRESCRIPTIONS_RESPONSE"))
	r.Handle(OpUpdatePrescriptionStatus, rpc.Typed(h.updateStatus))
	r.Handle(OpUpdatePrescription, rpc.Typed(h.updateStatus))
	r.Handle(OpRequestRefill, rpc.Typed(h.requestRefill))
	r.Handle(OpRefillPrescription, rpc.Typed(h.approveRefill))
	r.Handle(OpRejectPrescriptionRefill, rpc.Typed(h.rejectRefill))
}

type createFields struct {
	ID           string     `json:"id"`
	PatientID    string     `json:"patientId"`
	DoctorID     string     `json:"doctorId"`
	Medication   string     `json:"medication"`
	Dosage       string     `json:"dosage"`
	Frequency    string     `json:"frequency"`
	Instructions string     `json:"instructions"`
	Date         civil.Date `json:"date"`
	Status       string     `json:"status"`
}

func (h *Handler) create(ctx context.Context, _ *rpc.Request, f *createFields) (rpc.Reply, error) {
	p, err := h.svc.Create(ctx, CreateInput{
		ID:           f.ID,
		PatientID:    f.PatientID,
		DoctorID:     f.DoctorID,
		Medication:   f.Medication,
		Dosage:       f.Dosage,
		Frequency:    f.Frequency,
		Instructions: f.Instructions,
		Date:         f.Date,
		Status:       f.Status,
	})
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Prescription created successfully", Payload: map[string]interface{}{
		"prescription": p,
	}}, nil
}

type listFields struct {
	PatientID string `json:"patientId"`
	DoctorID  string `json:"doctorId"`
	Status    string `json:"status"`
	UserType  string `json:"userType"`
}

func (h *Handler) list(ctx context.Context, req *rpc.Request, f *listFields) (rpc.Reply, error) {
	filter := Filter{PatientID: f.PatientID, DoctorID: f.DoctorID}
	if f.Status != "" {
		st, err := ParseStatus(f.Status)
		if err != nil {
			return rpc.Reply{}, apperr.WrapValidation(err)
		}
		filter.Status = st
	}
	if filter.PatientID == "" && filter.DoctorID == "" {
		switch strings.ToUpper(f.UserType) {
		case "PATIENT":
			filter.PatientID = req.ActorID
		case "DOCTOR":
			filter.DoctorID = req.ActorID
		}
	}
	items, err := h.svc.List(ctx, filter)
	if err != nil {
		return rpc.Reply{}, err
	}
	if items == nil {
		items = []*Prescription{}
	}
	return rpc.Reply{Message: "Prescriptions retrieved", Payload: map[string]interface{}{
		"prescriptions": items,
		"count":         len(items),
	}}, nil
}

type statusFields struct {
	PrescriptionID string `json:"prescriptionId"`
	Status         string `json:"status"`
}

func (f *statusFields) Validate() error {
	if f.PrescriptionID == "" || f.Status == "" {
		return apperr.Validation("prescriptionId and status are required")
	}
	return nil
}

func (h *Handler) updateStatus(ctx context.Context, _ *rpc.Request, f *statusFields) (rpc.Reply, error) {
	p, err := h.svc.UpdateStatus(ctx, f.PrescriptionID, f.Status)
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Prescription updated successfully", Payload: map[string]interface{}{
		"prescription": p,
	}}, nil
}

type idFields struct {
	PrescriptionID string `json:"prescriptionId"`
}

func (f *idFields) Validate() error {
	if f.PrescriptionID == "" {
		return apperr.Validation("prescriptionId is required")
	}
	return nil
}

func (h *Handler) requestRefill(ctx context.Context, _ *rpc.Request, f *idFields) (rpc.Reply, error) {
	p, err := h.svc.RequestRefill(ctx, f.PrescriptionID)
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Refill requested successfully", Payload: map[string]interface{}{
		"prescription": p,
	}}, nil
}

func (h *Handler) approveRefill(ctx context.Context, _ *rpc.Request, f *idFields) (rpc.Reply, error) {
	p, err := h.svc.ApproveRefill(ctx, f.PrescriptionID)
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Refill approved", Payload: map[string]interface{}{
		"prescription": p,
	}}, nil
}

func (h *Handler) rejectRefill(ctx context.Context, _ *rpc.Request, f *idFields) (rpc.Reply, error) {
	p, err := h.svc.RejectRefill(ctx, f.PrescriptionID)
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Refill rejected", Payload: map[string]interface{}{
		"prescription": p,
	}}, nil
}
