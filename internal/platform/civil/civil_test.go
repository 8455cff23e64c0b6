package civil

import (
	"encoding/json"
	"testing"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Year != 2025 || d.Month != 3 || d.Day != 10 {
		t.Errorf("unexpected date %+v", d)
	}
	if d.String() != "2025-03-10" {
		t.Errorf("expected 2025-03-10, got %s", d)
	}
}

func TestParseDate_Invalid(t *testing.T) {
	for _, in := range []string{"", "2025-13-01", "10/03/2025", "2025-02-30"} {
		if _, err := ParseDate(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestDate_Compare(t *testing.T) {
	a := Date{2024, 12, 31}
	b := Date{2025, 1, 1}
	if !a.Before(b) || b.Before(a) {
		t.Error("expected 2024-12-31 before 2025-01-01")
	}
	if !b.After(a) {
		t.Error("expected 2025-01-01 after 2024-12-31")
	}
	if a.Compare(a) != 0 {
		t.Error("expected date to equal itself")
	}
}

func TestDate_AddDays(t *testing.T) {
	d := Date{2024, 12, 31}.AddDays(1)
	if d != (Date{2025, 1, 1}) {
		t.Errorf("expected 2025-01-01, got %s", d)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in   string
		want TimeOfDay
		str  string
	}{
		{"09:00", TimeOfDay{9, 0, 0}, "09:00"},
		{"17:01", TimeOfDay{17, 1, 0}, "17:01"},
		{"08:59:30", TimeOfDay{8, 59, 30}, "08:59:30"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
			if got.String() != tt.str {
				t.Errorf("expected %s, got %s", tt.str, got.String())
			}
		})
	}
}

func TestParseTimeOfDay_Invalid(t *testing.T) {
	for _, in := range []string{"", "25:00", "9am", "09:60"} {
		if _, err := ParseTimeOfDay(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestTimeOfDay_Seconds(t *testing.T) {
	tod := TimeOfDay{17, 0, 0}
	if FromSeconds(tod.Seconds()) != tod {
		t.Error("expected seconds conversion to be reversible")
	}
}

func TestJSON(t *testing.T) {
	var v struct {
		Date Date       `json:"date"`
		Time *TimeOfDay `json:"time"`
	}
	if err := json.Unmarshal([]byte(`{"date":"2025-01-05","time":"09:30"}`), &v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Date != (Date{2025, 1, 5}) {
		t.Errorf("unexpected date %s", v.Date)
	}
	if v.Time == nil || *v.Time != (TimeOfDay{9, 30, 0}) {
		t.Errorf("unexpected time %v", v.Time)
	}

	if err := json.Unmarshal([]byte(`{"date":"05-01-2025"}`), &v); err == nil {
		t.Error("expected error for malformed date")
	}
}
