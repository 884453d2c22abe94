package decoder

import (
	"fmt"
	"time"
)

// Field names a position inside the six-byte date of a sync packet.
type Field int

const (
	FieldNone Field = iota
	FieldYear
	FieldMonth
	FieldDay
	FieldHour
	FieldMinute
	FieldSecond
)

var fieldNames = [...]string{"none", "year", "month", "day", "hour", "minute", "second"}

func (f Field) String() string {
	if f < 0 || int(f) >= len(fieldNames) {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fieldNames[f]
}

// Timestamp is the result of parsing a packet date. When Valid is false,
// Field names the first field that was out of range and Time is zero.
type Timestamp struct {
	Time  time.Time
	Valid bool
	Field Field
	Value byte
}

func (ts Timestamp) String() string {
	if ts.Valid {
		return ts.Time.Format("2006-01-02 15:04:05")
	}
	return fmt.Sprintf("invalid %s %d", ts.Field, ts.Value)
}

// ParseTimestamp parses YY MM DD hh mm ss (year as offset from 2000) in loc.
// Out-of-range fields reject the whole date; nothing is normalised.
func ParseTimestamp(b [6]byte, loc *time.Location) Timestamp {
	if loc == nil {
		loc = time.Local
	}
	yy, mm, dd, hh, mi, ss := b[0], b[1], b[2], b[3], b[4], b[5]

	reject := func(f Field, v byte) Timestamp {
		return Timestamp{Field: f, Value: v}
	}
	switch {
	case yy > 99:
		return reject(FieldYear, yy)
	case mm < 1 || mm > 12:
		return reject(FieldMonth, mm)
	case dd < 1 || int(dd) > daysIn(time.Month(mm), 2000+int(yy)):
		return reject(FieldDay, dd)
	case hh > 23:
		return reject(FieldHour, hh)
	case mi > 59:
		return reject(FieldMinute, mi)
	case ss > 59:
		return reject(FieldSecond, ss)
	}

	t := time.Date(2000+int(yy), time.Month(mm), int(dd), int(hh), int(mi), int(ss), 0, loc)
	return Timestamp{Time: t, Valid: true}
}

func daysIn(m time.Month, year int) int {
	switch m {
	case time.February:
		if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
			return 29
		}
		return 28
	case time.April, time.June, time.September, time.November:
		return 30
	default:
		return 31
	}
}
