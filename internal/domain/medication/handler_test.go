package medication

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/telehealth/internal/platform/rpc"
	"github.com/ehr/telehealth/internal/platform/wire"
)

func call(t *testing.T, r *rpc.Router, typ string, fields interface{}) *wire.Response {
	t.Helper()
	req, err := wire.NewRequest("req-1", typ, "DOC001", fields)
	if err != nil {
		t.Fatal(err)
	}
	return r.Dispatch(context.Background(), req, "test")
}

func TestHandler_PrescriptionLifecycle(t *testing.T) {
	svc, _ := newTestService()
	r := rpc.NewRouter(zerolog.Nop())
	NewHandler(svc).RegisterOps(r)

	resp := call(t, r, OpCreatePrescription, map[string]string{
		"patientId": "PAT001", "doctorId": "DOC001", "medication": "Metformin",
		"dosage": "850mg", "date": "2025-04-01", "status": "ACTIVE",
	})
	if !resp.Success || resp.Message != "Prescription created successfully" {
		t.Fatalf("create failed: %+v", resp)
	}
	var created struct {
		Prescription Prescription `json:"prescription"`
	}
	if err := resp.DecodePayload(&created); err != nil {
		t.Fatal(err)
	}
	id := created.Prescription.ID

	resp = call(t, r, OpRequestRefill, map[string]string{"prescriptionId": id})
	if !resp.Success || resp.Type != "REQUEST_REFILL_RESPONSE" {
		t.Fatalf("request refill failed: %+v", resp)
	}
	resp = call(t, r, OpRefillPrescription, map[string]string{"prescriptionId": id})
	if !resp.Success {
		t.Fatalf("approve failed: %+v", resp)
	}
	resp = call(t, r, OpRejectPrescriptionRefill, map[string]string{"prescriptionId": id})
	if resp.Success || resp.Message != "prescription "+id+" is APPROVED; expected PENDING or ACTIVE" {
		t.Errorf("expected reject of approved prescription to fail, got %+v", resp)
	}

	resp = call(t, r, OpUpdatePrescription, map[string]string{"prescriptionId": id, "status": "COMPLETED"})
	if !resp.Success || resp.Type != "UPDATE_PRESCRIPTION_RESPONSE" {
		t.Errorf("update failed: %+v", resp)
	}

	resp = call(t, r, OpGetPrescriptions, map[string]string{"userType": "DOCTOR"})
	var list struct {
		Prescriptions []Prescription `json:"prescriptions"`
		Count         int            `json:"count"`
	}
	if err := resp.DecodePayload(&list); err != nil || resp.Type != "PRESCRIPTIONS_RESPONSE" {
		t.Fatalf("list failed: %+v (%v)", resp, err)
	}
	if list.Count != 1 || list.Prescriptions[0].Status != StatusCompleted {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestHandler_MissingPrescriptionID(t *testing.T) {
	svc, _ := newTestService()
	r := rpc.NewRouter(zerolog.Nop())
	NewHandler(svc).RegisterOps(r)

	resp := call(t, r, OpRefillPrescription, nil)
	if resp.Success || resp.Message != "prescriptionId is required" {
		t.Errorf("unexpected response %+v", resp)
	}
}
