package availability

import (
	"testing"

	"github.com/ehr/telehealth/internal/platform/civil"
)

func date(t *testing.T, s string) civil.Date {
	t.Helper()
	d, err := civil.ParseDate(s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

func tod(t *testing.T, s string) *civil.TimeOfDay {
	t.Helper()
	v, err := civil.ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return &v
}

func TestConflicts_AllDay(t *testing.T) {
	p := Period{
		DoctorID:  "DOC001",
		StartDate: date(t, "2025-01-01"),
		EndDate:   date(t, "2025-01-05"),
		IsAllDay:  true,
		Reason:    "Conference",
	}

	tests := []struct {
		date string
		time *civil.TimeOfDay
		want bool
	}{
		{"2025-01-01", tod(t, "00:00"), true},
		{"2025-01-03", tod(t, "12:30"), true},
		{"2025-01-05", tod(t, "23:59"), true},
		{"2025-01-03", nil, true},
		{"2024-12-31", tod(t, "10:00"), false},
		{"2025-01-06", tod(t, "10:00"), false},
		{"2025-01-06", nil, false},
	}
	for _, tt := range tests {
		if got := Conflicts(p, date(t, tt.date), tt.time); got != tt.want {
			t.Errorf("Conflicts(%s, %v) = %v, want %v", tt.date, tt.time, got, tt.want)
		}
	}
}

func TestConflicts_TimedBoundaries(t *testing.T) {
	p := Period{
		DoctorID:  "DOC001",
		StartDate: date(t, "2025-03-10"),
		EndDate:   date(t, "2025-03-10"),
		StartTime: tod(t, "09:00"),
		EndTime:   tod(t, "17:00"),
		Reason:    "Surgery",
	}

	tests := []struct {
		time string
		want bool
	}{
		{"09:00", true},
		{"12:00", true},
		{"17:00", true},
		{"08:59", false},
		{"17:01", false},
	}
	for _, tt := range tests {
		t.Run(tt.time, func(t *testing.T) {
			if got := Conflicts(p, date(t, "2025-03-10"), tod(t, tt.time)); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if Conflicts(p, date(t, "2025-03-11"), tod(t, "12:00")) {
		t.Error("expected no conflict on a date outside the period")
	}
}

func TestConflicts_TimedWithoutProbeTime(t *testing.T) {
	p := Period{
		StartDate: date(t, "2025-03-10"),
		EndDate:   date(t, "2025-03-12"),
		StartTime: tod(t, "09:00"),
		EndTime:   tod(t, "17:00"),
	}
	if Conflicts(p, date(t, "2025-03-11"), nil) {
		t.Error("expected timed period to not conflict when no time is given")
	}
}

func TestConflicts_MissingBoundFallsBackToAllDay(t *testing.T) {
	p := Period{
		StartDate: date(t, "2025-03-10"),
		EndDate:   date(t, "2025-03-10"),
		StartTime: tod(t, "09:00"),
	}
	if Conflicts(p, date(t, "2025-03-10"), tod(t, "10:00")) {
		t.Error("expected no conflict for a timed period missing its end time")
	}
}

func TestIsAvailable_IgnoresOtherDoctors(t *testing.T) {
	periods := []Period{
		{DoctorID: "DOC002", StartDate: date(t, "2025-01-01"), EndDate: date(t, "2025-01-31"), IsAllDay: true, Reason: "Leave"},
	}
	if !IsAvailable(periods, "DOC001", date(t, "2025-01-10"), tod(t, "10:00")) {
		t.Error("expected DOC001 to be available")
	}
	if IsAvailable(periods, "DOC002", date(t, "2025-01-10"), tod(t, "10:00")) {
		t.Error("expected DOC002 to be unavailable")
	}
	if !IsAvailable(nil, "DOC001", date(t, "2025-01-10"), nil) {
		t.Error("expected availability with no periods")
	}
}

func TestUnavailabilityReason_FirstMatchWins(t *testing.T) {
	periods := []Period{
		{DoctorID: "DOC001", StartDate: date(t, "2025-02-01"), EndDate: date(t, "2025-02-01"), StartTime: tod(t, "13:00"), EndTime: tod(t, "14:00"), Reason: "Lunch meeting"},
		{DoctorID: "DOC001", StartDate: date(t, "2025-01-30"), EndDate: date(t, "2025-02-02"), IsAllDay: true, Reason: "Annual leave"},
		{DoctorID: "DOC001", StartDate: date(t, "2025-02-01"), EndDate: date(t, "2025-02-01"), IsAllDay: true, Reason: "Training"},
	}

	reason, ok := UnavailabilityReason(periods, "DOC001", date(t, "2025-02-01"), tod(t, "10:00"))
	if !ok || reason != "Annual leave" {
		t.Errorf("expected Annual leave, got %q (ok=%v)", reason, ok)
	}

	reason, ok = UnavailabilityReason(periods, "DOC001", date(t, "2025-02-01"), tod(t, "13:30"))
	if !ok || reason != "Lunch meeting" {
		t.Errorf("expected Lunch meeting, got %q (ok=%v)", reason, ok)
	}

	if _, ok := UnavailabilityReason(periods, "DOC001", date(t, "2025-02-05"), tod(t, "10:00")); ok {
		t.Error("expected no reason outside every period")
	}
}

func TestConflictingPeriods(t *testing.T) {
	periods := []Period{
		{ID: "a", DoctorID: "DOC001", StartDate: date(t, "2025-02-01"), EndDate: date(t, "2025-02-03"), IsAllDay: true},
		{ID: "b", DoctorID: "DOC002", StartDate: date(t, "2025-02-01"), EndDate: date(t, "2025-02-03"), IsAllDay: true},
		{ID: "c", DoctorID: "DOC001", StartDate: date(t, "2025-02-02"), EndDate: date(t, "2025-02-02"), IsAllDay: true},
	}
	got := ConflictingPeriods(periods, "DOC001", date(t, "2025-02-02"), nil)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("unexpected conflicting periods: %+v", got)
	}
}

func TestPeriod_Validate(t *testing.T) {
	tests := []struct {
		name    string
		period  Period
		wantErr error
	}{
		{
			name:   "all day",
			period: Period{StartDate: date(t, "2025-01-01"), EndDate: date(t, "2025-01-05"), IsAllDay: true},
		},
		{
			name:   "timed single day",
			period: Period{StartDate: date(t, "2025-01-01"), EndDate: date(t, "2025-01-01"), StartTime: tod(t, "09:00"), EndTime: tod(t, "09:00")},
		},
		{
			name:    "dates reversed",
			period:  Period{StartDate: date(t, "2025-01-05"), EndDate: date(t, "2025-01-01"), IsAllDay: true},
			wantErr: ErrDateOrder,
		},
		{
			name:    "times reversed",
			period:  Period{StartDate: date(t, "2025-01-01"), EndDate: date(t, "2025-01-01"), StartTime: tod(t, "17:00"), EndTime: tod(t, "09:00")},
			wantErr: ErrTimeOrder,
		},
		{
			name:    "timed without end",
			period:  Period{StartDate: date(t, "2025-01-01"), EndDate: date(t, "2025-01-01"), StartTime: tod(t, "09:00")},
			wantErr: ErrTimeRequired,
		},
		{
			name:    "all day with times",
			period:  Period{StartDate: date(t, "2025-01-01"), EndDate: date(t, "2025-01-01"), IsAllDay: true, StartTime: tod(t, "09:00")},
			wantErr: ErrAllDayTimes,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.period.Validate()
			if err != tt.wantErr {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
