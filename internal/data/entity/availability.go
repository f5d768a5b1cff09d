package entity

import (
	"time"

	"clinic-scheduling/internal/scheduling"

	"github.com/google/uuid"
)

type AvailabilityStatus string

const (
	AvailabilityStatusPending   AvailabilityStatus = "PENDING"
	AvailabilityStatusAccepted  AvailabilityStatus = "ACCEPTED"
	AvailabilityStatusRejected  AvailabilityStatus = "REJECTED"
	AvailabilityStatusCancelled AvailabilityStatus = "CANCELLED"
)

// Availability is one concrete window in which a provider can be booked,
// possibly one occurrence of a recurring series.
type Availability struct {
	Base
	ProviderID           uuid.UUID                     `db:"provider_id"`
	OrganizationID       *uuid.UUID                    `db:"organization_id"`
	LocationID           *uuid.UUID                    `db:"location_id"`
	ConnectionID         *uuid.UUID                    `db:"connection_id"`
	StartTime            time.Time                     `db:"start_time"`
	EndTime              time.Time                     `db:"end_time"`
	IsRecurring          bool                          `db:"is_recurring"`
	RecurrencePattern    *scheduling.RecurrencePattern `db:"recurrence_pattern"`
	SeriesID             *uuid.UUID                    `db:"series_id"`
	SchedulingRule       scheduling.SchedulingRule     `db:"scheduling_rule"`
	SchedulingInterval   *int                          `db:"scheduling_interval"`
	Status               AvailabilityStatus            `db:"status"`
	IsOnlineAvailable    bool                          `db:"is_online_available"`
	RequiresConfirmation bool                          `db:"requires_confirmation"`
	Notes                *string                       `db:"notes"`
	CreatedByID          uuid.UUID                     `db:"created_by_id"`
}

// Window returns the planning window of this availability.
func (a *Availability) Window() scheduling.Window {
	return scheduling.Window{AvailabilityID: a.ID, Start: a.StartTime, End: a.EndTime}
}

// Interval returns the scheduling interval in minutes, zero when unset.
func (a *Availability) Interval() int {
	if a.SchedulingInterval == nil {
		return 0
	}
	return *a.SchedulingInterval
}

// CanHaveSlots reports whether slots may exist for this availability.
func (a *Availability) CanHaveSlots() bool {
	return a.Status == AvailabilityStatusAccepted
}
