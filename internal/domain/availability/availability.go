// Package availability decides whether a doctor can be booked for a given
// date and time, based on the doctor's unavailability periods.
//
// The functions here do no I/O and hold no state. Callers fetch the periods
// and pass in a snapshot that is not mutated for the duration of the call.
package availability

import (
	"errors"

	"github.com/ehr/telehealth/internal/platform/civil"
)

// Period is a span of dates during which a doctor is unavailable, either for
// whole days or for the same time window on each covered date.
type Period struct {
	ID        string           `json:"id"`
	DoctorID  string           `json:"doctorId"`
	StartDate civil.Date       `json:"startDate"`
	EndDate   civil.Date       `json:"endDate"`
	StartTime *civil.TimeOfDay `json:"startTime"`
	EndTime   *civil.TimeOfDay `json:"endTime"`
	IsAllDay  bool             `json:"isAllDay"`
	Reason    string           `json:"reason"`
}

var (
	ErrDateOrder    = errors.New("start date must be on or before end date")
	ErrTimeOrder    = errors.New("start time must be on or before end time")
	ErrTimeRequired = errors.New("start time and end time are required unless the period is all-day")
	ErrAllDayTimes  = errors.New("an all-day period cannot have start or end times")
)

// Validate checks the ordering invariants of p. An all-day period has no
// times; a timed period has both.
func (p *Period) Validate() error {
	if p.StartDate.After(p.EndDate) {
		return ErrDateOrder
	}
	if p.IsAllDay {
		if p.StartTime != nil || p.EndTime != nil {
			return ErrAllDayTimes
		}
		return nil
	}
	if p.StartTime == nil || p.EndTime == nil {
		return ErrTimeRequired
	}
	if p.StartTime.After(*p.EndTime) {
		return ErrTimeOrder
	}
	return nil
}

// Conflicts reports whether p blocks a booking at date and t. Both ends of
// the date range and of the time window are inclusive. A nil t, or a timed
// period with a missing bound, falls back to p.IsAllDay.
func Conflicts(p Period, date civil.Date, t *civil.TimeOfDay) bool {
	if date.Before(p.StartDate) || date.After(p.EndDate) {
		return false
	}
	if p.IsAllDay {
		return true
	}
	if t == nil || p.StartTime == nil || p.EndTime == nil {
		return p.IsAllDay
	}
	return !t.Before(*p.StartTime) && !t.After(*p.EndTime)
}

// IsAvailable reports whether none of doctorID's periods conflict with the
// slot. Periods belonging to other doctors are ignored.
func IsAvailable(periods []Period, doctorID string, date civil.Date, t *civil.TimeOfDay) bool {
	_, conflict := UnavailabilityReason(periods, doctorID, date, t)
	return !conflict
}

// UnavailabilityReason returns the reason of the first of doctorID's periods
// that conflicts with the slot, in the order given. When several periods
// overlap the slot, which reason is reported depends only on that order.
func UnavailabilityReason(periods []Period, doctorID string, date civil.Date, t *civil.TimeOfDay) (string, bool) {
	for _, p := range periods {
		if p.DoctorID != doctorID {
			continue
		}
		if Conflicts(p, date, t) {
			return p.Reason, true
		}
	}
	return "", false
}

// ConflictingPeriods returns every period of doctorID that conflicts with the
// slot, preserving input order.
func ConflictingPeriods(periods []Period, doctorID string, date civil.Date, t *civil.TimeOfDay) []Period {
	var out []Period
	for _, p := range periods {
		if p.DoctorID == doctorID && Conflicts(p, date, t) {
			out = append(out, p)
		}
	}
	return out
}
