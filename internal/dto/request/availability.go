package request

import "time"

type RecurrencePatternRequest struct {
	Frequency      string   `json:"frequency" validate:"required,oneof=DAILY WEEKLY CUSTOM"`
	CustomWeekdays []string `json:"custom_weekdays,omitempty" validate:"omitempty,unique,dive,oneof=SUN MON TUE WED THU FRI SAT"`
	EndDate        *string  `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type ServiceConfigRequest struct {
	ServiceID       string  `json:"service_id" validate:"required,uuid"`
	DurationMinutes int     `json:"duration_minutes" validate:"required,gt=0"`
	Price           float64 `json:"price" validate:"gte=0"`
}

type CreateAvailabilityRequest struct {
	ProviderID           string                    `json:"provider_id" validate:"required,uuid"`
	OrganizationID       *string                   `json:"organization_id,omitempty" validate:"omitempty,uuid"`
	LocationID           *string                   `json:"location_id,omitempty" validate:"omitempty,uuid"`
	ConnectionID         *string                   `json:"connection_id,omitempty" validate:"omitempty,uuid"`
	StartTime            time.Time                 `json:"start_time" validate:"required"`
	EndTime              time.Time                 `json:"end_time" validate:"required,gtfield=StartTime"`
	IsRecurring          bool                      `json:"is_recurring"`
	RecurrencePattern    *RecurrencePatternRequest `json:"recurrence_pattern,omitempty"`
	SchedulingRule       string                    `json:"scheduling_rule" validate:"required,oneof=FIXED_INTERVAL PER_SERVICE_DURATION"`
	SchedulingInterval   *int                      `json:"scheduling_interval,omitempty" validate:"omitempty,gt=0"`
	IsOnlineAvailable    bool                      `json:"is_online_available"`
	RequiresConfirmation bool                      `json:"requires_confirmation"`
	Notes                *string                   `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Services             []ServiceConfigRequest    `json:"services" validate:"dive"`

	// set when an organization proposes the window to the provider
	ProposedByOrganization bool `json:"proposed_by_organization"`
}

// UpdateAvailabilityRequest carries only the fields to change. A nil Services
// keeps the current service set, an empty one removes every service.
type UpdateAvailabilityRequest struct {
	StartTime            *time.Time                `json:"start_time,omitempty"`
	EndTime              *time.Time                `json:"end_time,omitempty"`
	LocationID           *string                   `json:"location_id,omitempty" validate:"omitempty,uuid"`
	ConnectionID         *string                   `json:"connection_id,omitempty" validate:"omitempty,uuid"`
	RecurrencePattern    *RecurrencePatternRequest `json:"recurrence_pattern,omitempty"`
	SchedulingRule       *string                   `json:"scheduling_rule,omitempty" validate:"omitempty,oneof=FIXED_INTERVAL PER_SERVICE_DURATION"`
	SchedulingInterval   *int                      `json:"scheduling_interval,omitempty" validate:"omitempty,gt=0"`
	IsOnlineAvailable    *bool                     `json:"is_online_available,omitempty"`
	RequiresConfirmation *bool                     `json:"requires_confirmation,omitempty"`
	Notes                *string                   `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Services             []ServiceConfigRequest    `json:"services,omitempty" validate:"omitempty,dive"`
}

type DeleteAvailabilitiesRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=100,dive,uuid"`
}
