package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed 5-field cron expression:
// "minute hour day-of-month month day-of-week". Fields accept "*", single
// values, ranges ("1-5"), steps ("*/15", "0-30/10") and comma lists.
// When both day fields are restricted a day matches if either does.
type Schedule struct {
	expr       string
	minute     fieldSet
	hour       fieldSet
	dayOfMonth fieldSet
	month      fieldSet
	weekday    fieldSet
	// a day field starting with "*" does not restrict the day.
	anyDay     bool
	anyWeekday bool
}

type fieldSet map[int]bool

var cronBounds = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// ParseSchedule parses expr.
func ParseSchedule(expr string) (Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("pipeline: cron expression %q must have 5 fields, got %d", expr, len(fields))
	}
	var sets [5]fieldSet
	for i, f := range fields {
		set, err := parseField(f, cronBounds[i].min, cronBounds[i].max)
		if err != nil {
			return Schedule{}, fmt.Errorf("pipeline: cron %s field: %w", cronBounds[i].name, err)
		}
		sets[i] = set
	}
	return Schedule{
		expr:       expr,
		minute:     sets[0],
		hour:       sets[1],
		dayOfMonth: sets[2],
		month:      sets[3],
		weekday:    sets[4],
		anyDay:     strings.HasPrefix(fields[2], "*"),
		anyWeekday: strings.HasPrefix(fields[4], "*"),
	}, nil
}

func parseField(field string, lo, hi int) (fieldSet, error) {
	set := fieldSet{}
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		step := 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step %q", s)
			}
			part, step = base, n
		}

		from, to := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return nil, fmt.Errorf("invalid value %q", a)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return nil, fmt.Errorf("invalid value %q", b)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q", part)
			}
			from, to = v, v
			if step > 1 {
				to = hi
			}
		}
		if from < lo || to > hi || from > to {
			return nil, fmt.Errorf("range %d-%d outside [%d, %d]", from, to, lo, hi)
		}
		for v := from; v <= to; v += step {
			set[v] = true
		}
	}
	return set, nil
}

func (s Schedule) String() string { return s.expr }

func (s Schedule) matches(t time.Time) bool {
	if !s.minute[t.Minute()] || !s.hour[t.Hour()] || !s.month[int(t.Month())] {
		return false
	}
	dom, dow := s.dayOfMonth[t.Day()], s.weekday[int(t.Weekday())]
	if s.anyDay || s.anyWeekday {
		return dom && dow
	}
	return dom || dow
}

// Next returns the first matching minute strictly after after. The search
// is bounded to one year.
func (s Schedule) Next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("pipeline: no time matches %q within one year", s.expr)
}
