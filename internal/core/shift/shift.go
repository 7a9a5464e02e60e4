// Package shift maps timestamps to 12-hour production shifts.
//
// Day shift covers 06:00–18:00 local, night shift 18:00–06:00 the next
// day. The night hours after midnight belong to the night shift of the
// previous calendar date: a reading at 02:00 counts toward yesterday's
// night shift. All math is done on civil calendar components in a single
// fixed location, never on raw millisecond differences.
package shift

import (
	"fmt"
	"time"
)

const (
	TypeDay   = "day"
	TypeNight = "night"

	dayStartHour = 6
	dayEndHour   = 18

	// Duration is the fixed length of every shift.
	Duration = 12 * time.Hour
)

// Info identifies one shift: its civil date, type, 1-based sequential
// number within the calendar year, and absolute boundaries.
type Info struct {
	Type    string
	Date    string // YYYY-MM-DD
	Number  int
	StartAt time.Time
	EndAt   time.Time
}

// Of returns the shift a timestamp falls into, evaluated in the
// timestamp's own location.
func Of(t time.Time) Info {
	year, month, day := t.Date()
	hour := t.Hour()

	typ := TypeNight
	if hour >= dayStartHour && hour < dayEndHour {
		typ = TypeDay
	}

	// 00:00–06:00 belongs to the night shift that started yesterday.
	shiftDate := time.Date(year, month, day, 0, 0, 0, 0, t.Location())
	if hour < dayStartHour {
		shiftDate = shiftDate.AddDate(0, 0, -1)
	}

	start, end := Boundaries(shiftDate, typ)
	return Info{
		Type:    typ,
		Date:    shiftDate.Format(time.DateOnly),
		Number:  Number(shiftDate, typ),
		StartAt: start,
		EndAt:   end,
	}
}

// Boundaries returns the half-open [start, end) interval of the shift of
// the given type on the given civil date.
func Boundaries(date time.Time, typ string) (start, end time.Time) {
	year, month, day := date.Date()
	loc := date.Location()

	if typ == TypeDay {
		start = time.Date(year, month, day, dayStartHour, 0, 0, 0, loc)
		end = time.Date(year, month, day, dayEndHour, 0, 0, 0, loc)
		return start, end
	}

	start = time.Date(year, month, day, dayEndHour, 0, 0, 0, loc)
	end = time.Date(year, month, day+1, dayStartHour, 0, 0, 0, loc)
	return start, end
}

// Number returns the 1-based sequential shift number within the calendar
// year: two shifts per day, day before night.
func Number(date time.Time, typ string) int {
	base := (date.YearDay() - 1) * 2
	if typ == TypeDay {
		return base + 1
	}
	return base + 2
}

// Current returns the shift in progress at now.
func Current(now time.Time) Info {
	return Of(now)
}

// Previous returns the shift immediately before s. The shift before a day
// shift is yesterday's night shift; the shift before a night shift is the
// day shift of the same date.
func Previous(s Info) Info {
	// A representative instant one hour into the previous shift keeps the
	// calendar arithmetic in Of.
	return Of(s.StartAt.Add(-Duration + time.Hour))
}

// Between enumerates all shifts whose start lies in [start, end),
// ascending by start time.
func Between(start, end time.Time) []Info {
	var shifts []Info

	// Begin from the shift containing start and walk forward.
	cur := Of(start)
	if cur.StartAt.Before(start) {
		cur = next(cur)
	}
	for cur.StartAt.Before(end) {
		shifts = append(shifts, cur)
		cur = next(cur)
	}
	return shifts
}

func next(s Info) Info {
	return Of(s.EndAt.Add(time.Hour))
}

// BusinessDate returns the production date a timestamp belongs to.
// Hours before 06:00 are attributed to the previous day.
func BusinessDate(t time.Time) string {
	year, month, day := t.Date()
	d := time.Date(year, month, day, 0, 0, 0, 0, t.Location())
	if t.Hour() < dayStartHour {
		d = d.AddDate(0, 0, -1)
	}
	return d.Format(time.DateOnly)
}

// ParseDate parses a YYYY-MM-DD shift date in the given location.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid shift date %q: %w", s, err)
	}
	return t, nil
}
