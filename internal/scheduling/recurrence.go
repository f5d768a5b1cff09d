// Package scheduling holds the pure, I/O-free parts of the availability engine:
// expanding a recurrence rule into concrete occurrence windows and planning the
// bookable slots inside one window. Every function here is deterministic and
// works on UTC instants; conversion to a provider's wall clock happens in the
// caller.
package scheduling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultHorizonDays caps expansion when the caller does not set a horizon.
const DefaultHorizonDays = 365

const day = 24 * time.Hour

// Frequency is the closed set of recurrence kinds.
type Frequency string

const (
	FrequencyDaily  Frequency = "DAILY"
	FrequencyWeekly Frequency = "WEEKLY"
	FrequencyCustom Frequency = "CUSTOM"
)

var (
	ErrUnknownFrequency = errors.New("unknown recurrence frequency")
	ErrMissingWeekdays  = errors.New("custom recurrence requires at least one weekday")
	ErrUnexpectedDays   = errors.New("weekdays are only allowed for custom recurrence")
	ErrInvalidWindow    = errors.New("end time must be after start time")
)

var weekdayNames = map[string]time.Weekday{
	"SUN": time.Sunday,
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
}

// RecurrencePattern is a validated recurrence rule. Build it with
// NewRecurrencePattern or by unmarshalling JSON; both reject malformed rules,
// so code holding a RecurrencePattern never re-checks its shape.
type RecurrencePattern struct {
	frequency Frequency
	weekdays  []time.Weekday
	endDate   *time.Time
}

// NewRecurrencePattern validates and normalizes a rule. Weekday names are
// three-letter English abbreviations, case-insensitive. endDate is a calendar
// date (inclusive) and may be nil.
func NewRecurrencePattern(frequency Frequency, weekdays []string, endDate *time.Time) (RecurrencePattern, error) {
	p := RecurrencePattern{frequency: Frequency(strings.ToUpper(string(frequency)))}

	switch p.frequency {
	case FrequencyDaily, FrequencyWeekly:
		if len(weekdays) > 0 {
			return RecurrencePattern{}, ErrUnexpectedDays
		}
	case FrequencyCustom:
		if len(weekdays) == 0 {
			return RecurrencePattern{}, ErrMissingWeekdays
		}
		seen := make(map[time.Weekday]bool, len(weekdays))
		for _, name := range weekdays {
			wd, ok := weekdayNames[strings.ToUpper(strings.TrimSpace(name))]
			if !ok {
				return RecurrencePattern{}, fmt.Errorf("unknown weekday %q", name)
			}
			if !seen[wd] {
				seen[wd] = true
				p.weekdays = append(p.weekdays, wd)
			}
		}
		sort.Slice(p.weekdays, func(i, j int) bool { return p.weekdays[i] < p.weekdays[j] })
	default:
		return RecurrencePattern{}, fmt.Errorf("%w: %q", ErrUnknownFrequency, frequency)
	}

	if endDate != nil {
		d := truncateToDate(*endDate)
		p.endDate = &d
	}

	return p, nil
}

func (p RecurrencePattern) Frequency() Frequency { return p.frequency }

// Weekdays returns a copy of the custom weekday set in Sunday-first order.
func (p RecurrencePattern) Weekdays() []time.Weekday {
	return append([]time.Weekday(nil), p.weekdays...)
}

// EndDate returns the inclusive last date, or nil when open-ended.
func (p RecurrencePattern) EndDate() *time.Time {
	if p.endDate == nil {
		return nil
	}
	d := *p.endDate
	return &d
}

// WithEndDate returns a copy of p ending on the given date.
func (p RecurrencePattern) WithEndDate(endDate time.Time) RecurrencePattern {
	d := truncateToDate(endDate)
	p.weekdays = p.Weekdays()
	p.endDate = &d
	return p
}

func (p RecurrencePattern) includes(offsetDays int, date time.Time) bool {
	switch p.frequency {
	case FrequencyDaily:
		return true
	case FrequencyWeekly:
		return offsetDays%7 == 0
	case FrequencyCustom:
		for _, wd := range p.weekdays {
			if wd == date.Weekday() {
				return true
			}
		}
	}
	return false
}

type patternJSON struct {
	Frequency      Frequency `json:"frequency"`
	CustomWeekdays []string  `json:"custom_weekdays,omitempty"`
	EndDate        string    `json:"end_date,omitempty"`
}

func (p RecurrencePattern) MarshalJSON() ([]byte, error) {
	out := patternJSON{Frequency: p.frequency}
	for _, wd := range p.weekdays {
		out.CustomWeekdays = append(out.CustomWeekdays, strings.ToUpper(wd.String()[:3]))
	}
	if p.endDate != nil {
		out.EndDate = p.endDate.Format(time.DateOnly)
	}
	return json.Marshal(out)
}

func (p *RecurrencePattern) UnmarshalJSON(data []byte) error {
	var in patternJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	var endDate *time.Time
	if in.EndDate != "" {
		d, err := time.Parse(time.DateOnly, in.EndDate)
		if err != nil {
			return fmt.Errorf("invalid end_date %q: %w", in.EndDate, err)
		}
		endDate = &d
	}

	parsed, err := NewRecurrencePattern(in.Frequency, in.CustomWeekdays, endDate)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Occurrence is one concrete window produced by Expand.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

func (o Occurrence) Duration() time.Duration { return o.End.Sub(o.Start) }

// Covers reports whether [start, end) lies fully inside the occurrence.
func (o Occurrence) Covers(start, end time.Time) bool {
	return !start.Before(o.Start) && !end.After(o.End)
}

// Expand turns a rule anchored at [anchorStart, anchorEnd) into its ordered
// occurrences. A nil pattern yields the anchor alone. Every occurrence keeps
// the anchor's time of day and duration. Expansion stops at the pattern's end
// date (inclusive) or after horizonDays days from anchorStart, whichever comes
// first; horizonDays <= 0 means DefaultHorizonDays.
func Expand(pattern *RecurrencePattern, anchorStart, anchorEnd time.Time, horizonDays int) ([]Occurrence, error) {
	anchorStart, anchorEnd = anchorStart.UTC(), anchorEnd.UTC()
	if !anchorEnd.After(anchorStart) {
		return nil, ErrInvalidWindow
	}

	if pattern == nil {
		return []Occurrence{{Start: anchorStart, End: anchorEnd}}, nil
	}
	if pattern.frequency == "" {
		return nil, ErrUnknownFrequency
	}

	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}

	duration := anchorEnd.Sub(anchorStart)
	occurrences := make([]Occurrence, 0, estimate(pattern, horizonDays))

	for offset := 0; offset < horizonDays; offset++ {
		start := anchorStart.AddDate(0, 0, offset)
		if pattern.endDate != nil && truncateToDate(start).After(*pattern.endDate) {
			break
		}
		if !pattern.includes(offset, start) {
			continue
		}
		occurrences = append(occurrences, Occurrence{Start: start, End: start.Add(duration)})
	}

	return occurrences, nil
}

func estimate(pattern *RecurrencePattern, horizonDays int) int {
	switch pattern.frequency {
	case FrequencyWeekly:
		return horizonDays/7 + 1
	case FrequencyCustom:
		return (horizonDays/7 + 1) * len(pattern.weekdays)
	default:
		return horizonDays
	}
}

func truncateToDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DateOf returns the UTC calendar date of t at midnight.
func DateOf(t time.Time) time.Time { return truncateToDate(t) }

// AtDateOf moves t onto the calendar date of ref, keeping t's time of day.
func AtDateOf(t, ref time.Time) time.Time {
	t, ref = t.UTC(), ref.UTC()
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// PreviousDay returns the calendar date before t.
func PreviousDay(t time.Time) time.Time { return truncateToDate(t).Add(-day) }
