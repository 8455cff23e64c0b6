package clinical

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ehr/telehealth/internal/platform/civil"
)

// Accepted ranges for recorded vital signs.
const (
	minPulse, maxPulse             = 1, 220
	minRespiration, maxRespiration = 1, 60
	minTemperature, maxTemperature = 30.0, 45.0
	minSystolic, maxSystolic       = 40, 300
	minDiastolic, maxDiastolic     = 20, 200
)

type Vitals struct {
	ID            string    `json:"id"`
	PatientID     string    `json:"patientId"`
	Pulse         int       `json:"pulse"`
	Temperature   float64   `json:"temperature"`
	Respiration   int       `json:"respiration"`
	BloodPressure string    `json:"bloodPressure"`
	Systolic      int       `json:"systolic"`
	Diastolic     int       `json:"diastolic"`
	RecordedAt    time.Time `json:"recordedAt"`
}

// ParseBloodPressure splits a "systolic/diastolic" reading such as "120/80".
func ParseBloodPressure(s string) (systolic, diastolic int, err error) {
	sys, dia, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return 0, 0, fmt.Errorf("blood pressure must be in systolic/diastolic form, got %q", s)
	}
	if systolic, err = strconv.Atoi(strings.TrimSpace(sys)); err != nil {
		return 0, 0, fmt.Errorf("invalid systolic value %q", sys)
	}
	if diastolic, err = strconv.Atoi(strings.TrimSpace(dia)); err != nil {
		return 0, 0, fmt.Errorf("invalid diastolic value %q", dia)
	}
	return systolic, diastolic, nil
}

// validate checks every reading against its accepted range and fills in
// Systolic and Diastolic from BloodPressure.
func (v *Vitals) validate() error {
	if strings.TrimSpace(v.PatientID) == "" {
		return fmt.Errorf("patientId is required")
	}
	if v.Pulse < minPulse || v.Pulse > maxPulse {
		return fmt.Errorf("pulse must be between %d and %d bpm, got %d", minPulse, maxPulse, v.Pulse)
	}
	if v.Respiration < minRespiration || v.Respiration > maxRespiration {
		return fmt.Errorf("respiration must be between %d and %d breaths/min, got %d",
			minRespiration, maxRespiration, v.Respiration)
	}
	if v.Temperature < minTemperature || v.Temperature > maxTemperature {
		return fmt.Errorf("temperature must be between %.0f and %.0f °C, got %.1f",
			minTemperature, maxTemperature, v.Temperature)
	}
	sys, dia, err := ParseBloodPressure(v.BloodPressure)
	if err != nil {
		return err
	}
	if sys < minSystolic || sys > maxSystolic {
		return fmt.Errorf("systolic pressure must be between %d and %d mmHg, got %d", minSystolic, maxSystolic, sys)
	}
	if dia < minDiastolic || dia > maxDiastolic {
		return fmt.Errorf("diastolic pressure must be between %d and %d mmHg, got %d", minDiastolic, maxDiastolic, dia)
	}
	if dia >= sys {
		return fmt.Errorf("diastolic pressure must be lower than systolic, got %d/%d", sys, dia)
	}
	v.Systolic, v.Diastolic = sys, dia
	v.BloodPressure = fmt.Sprintf("%d/%d", sys, dia)
	return nil
}

type AlertLevel string

const (
	AlertHigh AlertLevel = "HIGH"
	AlertLow  AlertLevel = "LOW"
)

type Alert struct {
	Sign    string     `json:"sign"`
	Level   AlertLevel `json:"level"`
	Message string     `json:"message"`
}

// Alerts flags readings outside the normal adult range. At most one alert
// is raised per sign.
func Alerts(v *Vitals) []Alert {
	var out []Alert
	switch {
	case v.Systolic > 140 || v.Diastolic > 90:
		out = append(out, Alert{"bloodPressure", AlertHigh, "HIGH BLOOD PRESSURE: " + v.BloodPressure})
	case v.Systolic < 90 || v.Diastolic < 60:
		out = append(out, Alert{"bloodPressure", AlertLow, "LOW BLOOD PRESSURE: " + v.BloodPressure})
	}
	switch {
	case v.Pulse > 100:
		out = append(out, Alert{"pulse", AlertHigh, fmt.Sprintf("HIGH HEART RATE: %d bpm", v.Pulse)})
	case v.Pulse < 60:
		out = append(out, Alert{"pulse", AlertLow, fmt.Sprintf("LOW HEART RATE: %d bpm", v.Pulse)})
	}
	switch {
	case v.Temperature > 38.0:
		out = append(out, Alert{"temperature", AlertHigh, fmt.Sprintf("HIGH TEMPERATURE: %.1f°C", v.Temperature)})
	case v.Temperature < 36.0:
		out = append(out, Alert{"temperature", AlertLow, fmt.Sprintf("LOW TEMPERATURE: %.1f°C", v.Temperature)})
	}
	return out
}

// Trend summarises the readings of one patient over a trailing window.
type Trend struct {
	PatientID      string  `json:"patientId"`
	DaysBack       int     `json:"daysBack"`
	Readings       int     `json:"readings"`
	AvgPulse       float64 `json:"avgPulse"`
	AvgTemperature float64 `json:"avgTemperature"`
	AvgRespiration float64 `json:"avgRespiration"`
	AvgSystolic    float64 `json:"avgSystolic"`
	AvgDiastolic   float64 `json:"avgDiastolic"`
	Analysis       string  `json:"analysis"`
}

func summarise(patientID string, daysBack int, list []*Vitals) *Trend {
	t := &Trend{PatientID: patientID, DaysBack: daysBack, Readings: len(list)}
	if len(list) == 0 {
		t.Analysis = "No vital signs data available for analysis."
		return t
	}
	for _, v := range list {
		t.AvgPulse += float64(v.Pulse)
		t.AvgTemperature += v.Temperature
		t.AvgRespiration += float64(v.Respiration)
		t.AvgSystolic += float64(v.Systolic)
		t.AvgDiastolic += float64(v.Diastolic)
	}
	n := float64(len(list))
	t.AvgPulse /= n
	t.AvgTemperature /= n
	t.AvgRespiration /= n
	t.AvgSystolic /= n
	t.AvgDiastolic /= n

	var b strings.Builder
	fmt.Fprintf(&b, "Vital Signs Trend Analysis (Last %d days):\n", daysBack)
	fmt.Fprintf(&b, "Total readings: %d\n\n", t.Readings)
	fmt.Fprintf(&b, "Average Heart Rate: %.0f bpm\n", t.AvgPulse)
	fmt.Fprintf(&b, "Average Temperature: %.1f°C\n", t.AvgTemperature)
	fmt.Fprintf(&b, "Average Respiration: %.0f breaths/min\n", t.AvgRespiration)
	fmt.Fprintf(&b, "Average Blood Pressure: %.0f/%.0f mmHg\n", t.AvgSystolic, t.AvgDiastolic)
	t.Analysis = b.String()
	return t
}

type Severity string

const (
	SeverityMild     Severity = "MILD"
	SeverityModerate Severity = "MODERATE"
	SeveritySevere   Severity = "SEVERE"
	SeverityCritical Severity = "CRITICAL"
)

func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	switch sev {
	case SeverityMild, SeverityModerate, SeveritySevere, SeverityCritical:
		return sev, nil
	}
	return "", fmt.Errorf("invalid severity: %s", s)
}

type Diagnosis struct {
	ID            string    `json:"id"`
	PatientID     string    `json:"patientId"`
	DoctorID      string    `json:"doctorId"`
	Notes         string    `json:"notes"`
	TreatmentPlan string    `json:"treatmentPlan"`
	Code          string    `json:"code,omitempty"`
	Description   string    `json:"description,omitempty"`
	Severity      Severity  `json:"severity,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type Referral struct {
	ID         string     `json:"id"`
	PatientID  string     `json:"patientId"`
	DoctorID   string     `json:"doctorId"`
	ClinicName string     `json:"clinicName"`
	Reason     string     `json:"reason"`
	Date       civil.Date `json:"date"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Filter narrows diagnosis and referral listings. Empty fields match all.
type Filter struct {
	PatientID string
	DoctorID  string
}

func (f Filter) matches(patientID, doctorID string) bool {
	if f.PatientID != "" && f.PatientID != patientID {
		return false
	}
	if f.DoctorID != "" && f.DoctorID != doctorID {
		return false
	}
	return true
}
