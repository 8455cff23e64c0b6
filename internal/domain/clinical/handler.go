package clinical

import (
	"context"
	"strings"

	"github.com/ehr/telehealth/internal/platform/apperr"
	"github.com/ehr/telehealth/internal/platform/civil"
	"github.com/ehr/telehealth/internal/platform/rpc"
)

const (
	OpRecordVitals            = "RECORD_VITALS"
	OpGetVitals               = "GET_VITALS"
	OpGetVitalsTrend          = "GET_VITALS_TREND"
	OpCreateDiagnosis         = "CREATE_DIAGNOSIS"
	OpCreateDiagnosisExtended = "CREATE_DIAGNOSIS_EXTENDED"
	OpGetDiagnoses            = "GET_DIAGNOSES"
	OpCreateReferral          = "CREATE_REFERRAL"
	OpGetReferrals            = "GET_REFERRALS"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterOps(r *rpc.Router) {
	r.Handle(OpRecordVitals, rpc.Typed(h.recordVitals))
	r.Handle(OpGetVitals, rpc.Typed(h.getVitals), rpc.WithTag("VITALS_RESPONSE"))
	r.Handle(OpGetVitalsTrend, rpc.Typed(h.getTrend), rpc.WithTag("VITALS_TREND_RESPONSE"))
	r.Handle(OpCreateDiagnosis, rpc.Typed(h.createDiagnosis))
	r.Handle(OpCreateDiagnosisExtended, rpc.Typed(h.createDiagnosisExtended))
	r.Handle(OpGetDiagnoses, rpc.Typed(h.listDiagnoses), rpc.WithTag("DIAGNOSES_RESPONSE"))
	r.Handle(OpCreateReferral, rpc.Typed(h.createReferral))
	r.Handle(OpGetReferrals, rpc.Typed(h.listReferrals), rpc.WithTag("REFERRALS_RESPONSE"))
}

type vitalsFields struct {
	PatientID     string  `json:"patientId"`
	Pulse         int     `json:"pulse"`
	Temperature   float64 `json:"temperature"`
	Respiration   int     `json:"respiration"`
	BloodPressure string  `json:"bloodPressure"`
}

func (h *Handler) recordVitals(ctx context.Context, req *rpc.Request, f *vitalsFields) (rpc.Reply, error) {
	patientID := f.PatientID
	if patientID == "" {
		patientID = req.ActorID
	}
	res, err := h.svc.RecordVitals(ctx, VitalsInput{
		PatientID:     patientID,
		Pulse:         f.Pulse,
		Temperature:   f.Temperature,
		Respiration:   f.Respiration,
		BloodPressure: f.BloodPressure,
	})
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Vital signs recorded successfully", Payload: map[string]interface{}{
		"vitals": res.Vitals,
		"alerts": res.Alerts,
	}}, nil
}

type patientFields struct {
	PatientID string `json:"patientId"`
	DaysBack  int    `json:"daysBack"`
}

func (f *patientFields) Validate() error {
	if f.PatientID == "" {
		return apperr.Validation("patientId is required")
	}
	if f.DaysBack < 0 {
		return apperr.Validation("daysBack must not be negative")
	}
	return nil
}

func (h *Handler) getVitals(ctx context.Context, _ *rpc.Request, f *patientFields) (rpc.Reply, error) {
	list, err := h.svc.GetVitals(ctx, f.PatientID)
	if err != nil {
		return rpc.Reply{}, err
	}
	if list == nil {
		list = []*Vitals{}
	}
	return rpc.Reply{Message: "Vital signs retrieved", Payload: map[string]interface{}{
		"vitals": list,
		"count":  len(list),
	}}, nil
}

func (h *Handler) getTrend(ctx context.Context, _ *rpc.Request, f *patientFields) (rpc.Reply, error) {
	trend, err := h.svc.Trend(ctx, f.PatientID, f.DaysBack)
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Vital signs trend analysis complete", Payload: trend}, nil
}

type diagnosisFields struct {
	PatientID     string `json:"patientId"`
	DoctorID      string `json:"doctorId"`
	Notes         string `json:"notes"`
	TreatmentPlan string `json:"treatmentPlan"`
	Code          string `json:"code"`
	Description   string `json:"description"`
	Severity      string `json:"severity"`
}

func (f *diagnosisFields) input() DiagnosisInput {
	return DiagnosisInput{
		PatientID:     f.PatientID,
		DoctorID:      f.DoctorID,
		Notes:         f.Notes,
		TreatmentPlan: f.TreatmentPlan,
		Code:          f.Code,
		Description:   f.Description,
		Severity:      f.Severity,
	}
}

func (h *Handler) createDiagnosis(ctx context.Context, req *rpc.Request, f *diagnosisFields) (rpc.Reply, error) {
	if f.DoctorID == "" {
		f.DoctorID = req.ActorID
	}
	d, err := h.svc.CreateDiagnosis(ctx, f.input())
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Diagnosis created successfully", Payload: map[string]interface{}{
		"diagnosis": d,
	}}, nil
}

func (h *Handler) createDiagnosisExtended(ctx context.Context, req *rpc.Request, f *diagnosisFields) (rpc.Reply, error) {
	if f.DoctorID == "" {
		f.DoctorID = req.ActorID
	}
	d, err := h.svc.CreateDiagnosisExtended(ctx, f.input())
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Diagnosis created successfully", Payload: map[string]interface{}{
		"diagnosis": d,
	}}, nil
}

type listFields struct {
	PatientID string `json:"patientId"`
	DoctorID  string `json:"doctorId"`
	UserType  string `json:"userType"`
}

// filter scopes an unfiltered listing to the caller when userType is given.
func (f *listFields) filter(actorID string) Filter {
	filter := Filter{PatientID: f.PatientID, DoctorID: f.DoctorID}
	if filter.PatientID == "" && filter.DoctorID == "" {
		switch strings.ToUpper(f.UserType) {
		case "PATIENT":
			filter.PatientID = actorID
		case "DOCTOR":
			filter.DoctorID = actorID
		}
	}
	return filter
}

func (h *Handler) listDiagnoses(ctx context.Context, req *rpc.Request, f *listFields) (rpc.Reply, error) {
	list, err := h.svc.ListDiagnoses(ctx, f.filter(req.ActorID))
	if err != nil {
		return rpc.Reply{}, err
	}
	if list == nil {
		list = []*Diagnosis{}
	}
	return rpc.Reply{Message: "Diagnoses retrieved", Payload: map[string]interface{}{
		"diagnoses": list,
		"count":     len(list),
	}}, nil
}

type referralFields struct {
	PatientID  string     `json:"patientId"`
	DoctorID   string     `json:"doctorId"`
	ClinicName string     `json:"clinicName"`
	Reason     string     `json:"reason"`
	Date       civil.Date `json:"date"`
}

func (h *Handler) createReferral(ctx context.Context, req *rpc.Request, f *referralFields) (rpc.Reply, error) {
	doctorID := f.DoctorID
	if doctorID == "" {
		doctorID = req.ActorID
	}
	ref, err := h.svc.CreateReferral(ctx, ReferralInput{
		PatientID:  f.PatientID,
		DoctorID:   doctorID,
		ClinicName: f.ClinicName,
		Reason:     f.Reason,
		Date:       f.Date,
	})
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Referral created successfully", Payload: map[string]interface{}{
		"referral": ref,
	}}, nil
}

func (h *Handler) listReferrals(ctx context.Context, req *rpc.Request, f *listFields) (rpc.Reply, error) {
	list, err := h.svc.ListReferrals(ctx, f.filter(req.ActorID))
	if err != nil {
		return rpc.Reply{}, err
	}
	if list == nil {
		list = []*Referral{}
	}
	return rpc.Reply{Message: "Referrals retrieved", Payload: map[string]interface{}{
		"referrals": list,
		"count":     len(list),
	}}, nil
}
