package db

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ehr/telehealth/internal/platform/civil"
)

const microsPerSecond = int64(time.Second / time.Microsecond)

// DateValue converts d for a DATE column.
func DateValue(d civil.Date) pgtype.Date {
	return pgtype.Date{Time: d.In(time.UTC), Valid: !d.IsZero()}
}

// CivilDate converts a scanned DATE column. NULL becomes the zero Date.
func CivilDate(v pgtype.Date) civil.Date {
	if !v.Valid {
		return civil.Date{}
	}
	return civil.DateOf(v.Time)
}

// TimeValue converts t for a TIME column. nil is written as NULL.
func TimeValue(t *civil.TimeOfDay) pgtype.Time {
	if t == nil {
		return pgtype.Time{}
	}
	return pgtype.Time{Microseconds: int64(t.Seconds()) * microsPerSecond, Valid: true}
}

// CivilTime converts a scanned TIME column. Fractional seconds are dropped
// and NULL becomes nil.
func CivilTime(v pgtype.Time) *civil.TimeOfDay {
	if !v.Valid {
		return nil
	}
	t := civil.FromSeconds(int(v.Microseconds / microsPerSecond))
	return &t
}
