package scheduling

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchedulingRule selects how a window is cut into slots.
type SchedulingRule string

const (
	// RuleFixedInterval cuts the window into slots of the availability's
	// interval, offered for every service.
	RuleFixedInterval SchedulingRule = "FIXED_INTERVAL"
	// RulePerServiceDuration cuts the window once per service, using that
	// service's own duration. Partitions of different services overlap.
	RulePerServiceDuration SchedulingRule = "PER_SERVICE_DURATION"
)

// ParseSchedulingRule validates a rule name.
func ParseSchedulingRule(raw string) (SchedulingRule, error) {
	switch rule := SchedulingRule(strings.ToUpper(strings.TrimSpace(raw))); rule {
	case RuleFixedInterval, RulePerServiceDuration:
		return rule, nil
	default:
		return "", fmt.Errorf("unknown scheduling rule %q", raw)
	}
}

// NeedsInterval reports whether the rule reads the scheduling interval.
func (r SchedulingRule) NeedsInterval() bool { return r == RuleFixedInterval }

// Window is the availability being planned.
type Window struct {
	AvailabilityID uuid.UUID
	Start          time.Time
	End            time.Time
}

// ServiceOffer is a service bookable inside the window.
type ServiceOffer struct {
	ConfigID        uuid.UUID
	ServiceID       uuid.UUID
	DurationMinutes int
	Price           float64
}

// PlannedSlot is a slot record ready to persist.
type PlannedSlot struct {
	AvailabilityID  uuid.UUID
	ServiceConfigID uuid.UUID
	ServiceID       uuid.UUID
	Start           time.Time
	End             time.Time
	DurationMinutes int
	Price           float64
}

// PlanError describes a config that was skipped. ServiceConfigID is uuid.Nil
// when the problem is the window or the rule itself.
type PlanError struct {
	ServiceConfigID uuid.UUID `json:"service_config_id"`
	Reason          string    `json:"reason"`
}

func (e PlanError) Error() string {
	if e.ServiceConfigID == uuid.Nil {
		return e.Reason
	}
	return fmt.Sprintf("service config %s: %s", e.ServiceConfigID, e.Reason)
}

// PlanResult is the outcome of Plan. Errors lists skipped configs; Notices
// lists informational conditions such as a window too short for one slot.
type PlanResult struct {
	Slots      []PlannedSlot
	TotalSlots int
	Errors     []PlanError
	Notices    []string
}

// Plan computes the slots of one window. Invalid configs are reported in
// Errors and skipped, the remaining configs are still planned. Output is
// sorted by start time then service config id, so equal input always gives
// identical output.
func Plan(window Window, rule SchedulingRule, intervalMinutes int, services []ServiceOffer) PlanResult {
	var result PlanResult

	if !window.End.After(window.Start) {
		result.Errors = append(result.Errors, PlanError{Reason: ErrInvalidWindow.Error()})
		return result
	}

	if len(services) == 0 {
		result.Notices = append(result.Notices, "no services offered in window")
		return result
	}

	switch rule {
	case RuleFixedInterval:
		planFixedInterval(&result, window, intervalMinutes, services)
	case RulePerServiceDuration:
		planPerServiceDuration(&result, window, services)
	default:
		result.Errors = append(result.Errors, PlanError{Reason: fmt.Sprintf("unknown scheduling rule %q", rule)})
		return result
	}

	sort.SliceStable(result.Slots, func(i, j int) bool {
		a, b := result.Slots[i], result.Slots[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.ServiceConfigID.String() < b.ServiceConfigID.String()
	})
	result.TotalSlots = len(result.Slots)

	if result.TotalSlots == 0 && len(result.Errors) == 0 {
		result.Notices = append(result.Notices, "window is shorter than one slot")
	}

	return result
}

func planFixedInterval(result *PlanResult, window Window, intervalMinutes int, services []ServiceOffer) {
	if intervalMinutes <= 0 {
		result.Errors = append(result.Errors, PlanError{
			Reason: fmt.Sprintf("scheduling interval must be positive, got %d", intervalMinutes),
		})
		return
	}

	ranges := partition(window.Start, window.End, time.Duration(intervalMinutes)*time.Minute)
	for _, svc := range services {
		if perr, ok := checkDuration(svc); !ok {
			result.Errors = append(result.Errors, perr)
			continue
		}
		if perr, ok := checkPrice(svc); !ok {
			result.Errors = append(result.Errors, perr)
			continue
		}
		for _, r := range ranges {
			result.Slots = append(result.Slots, newSlot(window, svc, r, intervalMinutes))
		}
	}
}

func planPerServiceDuration(result *PlanResult, window Window, services []ServiceOffer) {
	for _, svc := range services {
		if perr, ok := checkDuration(svc); !ok {
			result.Errors = append(result.Errors, perr)
			continue
		}
		if perr, ok := checkPrice(svc); !ok {
			result.Errors = append(result.Errors, perr)
			continue
		}

		ranges := partition(window.Start, window.End, time.Duration(svc.DurationMinutes)*time.Minute)
		if len(ranges) == 0 {
			result.Notices = append(result.Notices,
				fmt.Sprintf("service config %s: window shorter than %d minutes", svc.ConfigID, svc.DurationMinutes))
		}
		for _, r := range ranges {
			result.Slots = append(result.Slots, newSlot(window, svc, r, svc.DurationMinutes))
		}
	}
}

func checkDuration(svc ServiceOffer) (PlanError, bool) {
	if svc.DurationMinutes <= 0 {
		return PlanError{
			ServiceConfigID: svc.ConfigID,
			Reason:          fmt.Sprintf("duration must be positive, got %d", svc.DurationMinutes),
		}, false
	}
	return PlanError{}, true
}

func checkPrice(svc ServiceOffer) (PlanError, bool) {
	if svc.Price < 0 {
		return PlanError{
			ServiceConfigID: svc.ConfigID,
			Reason:          fmt.Sprintf("price must not be negative, got %.2f", svc.Price),
		}, false
	}
	return PlanError{}, true
}

func newSlot(window Window, svc ServiceOffer, r Occurrence, minutes int) PlannedSlot {
	return PlannedSlot{
		AvailabilityID:  window.AvailabilityID,
		ServiceConfigID: svc.ConfigID,
		ServiceID:       svc.ServiceID,
		Start:           r.Start,
		End:             r.End,
		DurationMinutes: minutes,
		Price:           svc.Price,
	}
}

// partition cuts [start, end) into consecutive ranges of length step and
// drops a trailing remainder shorter than step.
func partition(start, end time.Time, step time.Duration) []Occurrence {
	var out []Occurrence
	for s := start; !s.Add(step).After(end); s = s.Add(step) {
		out = append(out, Occurrence{Start: s, End: s.Add(step)})
	}
	return out
}
