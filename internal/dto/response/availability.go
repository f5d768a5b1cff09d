package response

import (
	"time"

	"clinic-scheduling/internal/data/entity"
	"clinic-scheduling/internal/scheduling"
)

type AvailabilityResponse struct {
	ID                   string                        `json:"id"`
	ProviderID           string                        `json:"provider_id"`
	OrganizationID       *string                       `json:"organization_id,omitempty"`
	LocationID           *string                       `json:"location_id,omitempty"`
	ConnectionID         *string                       `json:"connection_id,omitempty"`
	StartTime            time.Time                     `json:"start_time"`
	EndTime              time.Time                     `json:"end_time"`
	IsRecurring          bool                          `json:"is_recurring"`
	RecurrencePattern    *scheduling.RecurrencePattern `json:"recurrence_pattern,omitempty"`
	SeriesID             *string                       `json:"series_id,omitempty"`
	SchedulingRule       scheduling.SchedulingRule     `json:"scheduling_rule"`
	SchedulingInterval   *int                          `json:"scheduling_interval,omitempty"`
	Status               entity.AvailabilityStatus     `json:"status"`
	IsOnlineAvailable    bool                          `json:"is_online_available"`
	RequiresConfirmation bool                          `json:"requires_confirmation"`
	Notes                *string                       `json:"notes,omitempty"`
	CreatedByID          string                        `json:"created_by_id"`
	CreatedAt            time.Time                     `json:"created_at"`
	UpdatedAt            time.Time                     `json:"updated_at"`
}

type ServiceConfigResponse struct {
	ID              string  `json:"id"`
	ServiceID       string  `json:"service_id"`
	DurationMinutes int     `json:"duration_minutes"`
	Price           float64 `json:"price"`
}

type AvailabilityDetailResponse struct {
	AvailabilityResponse
	Services     []ServiceConfigResponse `json:"services"`
	SeriesLength int                     `json:"series_length,omitempty"`
	SlotsTotal   int                     `json:"slots_total"`
	SlotsBooked  int                     `json:"slots_booked"`
}

// GenerationFailure reports an occurrence whose slots were only partly
// generated, or not at all.
type GenerationFailure struct {
	AvailabilityID string                 `json:"availability_id"`
	StartTime      time.Time              `json:"start_time"`
	Reason         string                 `json:"reason,omitempty"`
	Errors         []scheduling.PlanError `json:"errors,omitempty"`
}

type CreateAvailabilityResponse struct {
	Availability   AvailabilityResponse   `json:"availability"`
	Occurrences    []AvailabilityResponse `json:"occurrences"`
	SlotsGenerated int                    `json:"slots_generated"`
	Failures       []GenerationFailure    `json:"failures,omitempty"`
	Notices        []string               `json:"notices,omitempty"`
}

type UpdateAvailabilityResponse struct {
	Scope            string                 `json:"scope"`
	Updated          []AvailabilityResponse `json:"updated"`
	Regenerated      bool                   `json:"regenerated"`
	SlotsRegenerated int                    `json:"slots_regenerated"`
	SlotsPreserved   int                    `json:"slots_preserved"`
	Failures         []GenerationFailure    `json:"failures,omitempty"`
	Notices          []string               `json:"notices,omitempty"`
}

type DeleteAvailabilityResponse struct {
	DeletedCount int64 `json:"deleted_count"`
	SlotsDeleted int64 `json:"slots_deleted"`
}

type StatusChangeResponse struct {
	Updated        []AvailabilityResponse `json:"updated"`
	SlotsGenerated int                    `json:"slots_generated"`
	Failures       []GenerationFailure    `json:"failures,omitempty"`
	Notices        []string               `json:"notices,omitempty"`
}

// Helper converters
func AvailabilityToResponse(a *entity.Availability) AvailabilityResponse {
	resp := AvailabilityResponse{
		ID:                   a.ID.String(),
		ProviderID:           a.ProviderID.String(),
		OrganizationID:       uuidString(a.OrganizationID),
		LocationID:           uuidString(a.LocationID),
		ConnectionID:         uuidString(a.ConnectionID),
		StartTime:            a.StartTime,
		EndTime:              a.EndTime,
		IsRecurring:          a.IsRecurring,
		RecurrencePattern:    a.RecurrencePattern,
		SeriesID:             uuidString(a.SeriesID),
		SchedulingRule:       a.SchedulingRule,
		SchedulingInterval:   a.SchedulingInterval,
		Status:               a.Status,
		IsOnlineAvailable:    a.IsOnlineAvailable,
		RequiresConfirmation: a.RequiresConfirmation,
		Notes:                a.Notes,
		CreatedByID:          a.CreatedByID.String(),
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            a.UpdatedAt,
	}
	return resp
}

func AvailabilitiesToResponse(list []*entity.Availability) []AvailabilityResponse {
	out := make([]AvailabilityResponse, 0, len(list))
	for _, a := range list {
		out = append(out, AvailabilityToResponse(a))
	}
	return out
}

func ServiceConfigToResponse(c *entity.ServiceAvailabilityConfig) ServiceConfigResponse {
	return ServiceConfigResponse{
		ID:              c.ID.String(),
		ServiceID:       c.ServiceID.String(),
		DurationMinutes: c.DurationMinutes,
		Price:           c.Price,
	}
}
