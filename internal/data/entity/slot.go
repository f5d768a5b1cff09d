package entity

import (
	"time"

	"clinic-scheduling/internal/scheduling"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "AVAILABLE"
	SlotStatusBooked    SlotStatus = "BOOKED"
	SlotStatusBlocked   SlotStatus = "BLOCKED"
	SlotStatusInvalid   SlotStatus = "INVALID"
)

// CalculatedSlot is one bookable unit of an availability for one service.
type CalculatedSlot struct {
	Base
	AvailabilityID  uuid.UUID  `db:"availability_id"`
	ServiceConfigID uuid.UUID  `db:"service_config_id"`
	StartTime       time.Time  `db:"start_time"`
	EndTime         time.Time  `db:"end_time"`
	Status          SlotStatus `db:"status"`
	DurationMinutes int        `db:"duration_minutes"`
	Price           float64    `db:"price"`
}

// NewSlotFromPlan converts a planned slot into an AVAILABLE slot row.
func NewSlotFromPlan(p scheduling.PlannedSlot, now time.Time) *CalculatedSlot {
	return &CalculatedSlot{
		Base:            NewBase(now),
		AvailabilityID:  p.AvailabilityID,
		ServiceConfigID: p.ServiceConfigID,
		StartTime:       p.Start,
		EndTime:         p.End,
		Status:          SlotStatusAvailable,
		DurationMinutes: p.DurationMinutes,
		Price:           p.Price,
	}
}

// Overlaps reports whether the slot intersects [start, end).
func (s *CalculatedSlot) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}

// SlotClaim is a slot read under row lock together with the facts a claim
// decision depends on.
type SlotClaim struct {
	Slot                 CalculatedSlot
	ProviderID           uuid.UUID
	RequiresConfirmation bool
	ActiveBookingID      *uuid.UUID
}

// SlotFilter narrows slot searches. Zero values are ignored.
type SlotFilter struct {
	ProviderID     *uuid.UUID
	AvailabilityID *uuid.UUID
	From           *time.Time
	To             *time.Time
	Status         SlotStatus
	Limit          int
	Offset         int
}
