package response

import (
	"time"

	"clinic-scheduling/internal/data/entity"

	"github.com/google/uuid"
)

type SlotResponse struct {
	ID              string            `json:"id"`
	AvailabilityID  string            `json:"availability_id"`
	ServiceConfigID string            `json:"service_config_id"`
	StartTime       time.Time         `json:"start_time"`
	EndTime         time.Time         `json:"end_time"`
	Status          entity.SlotStatus `json:"status"`
	DurationMinutes int               `json:"duration_minutes"`
	Price           float64           `json:"price"`
}

type BookingResponse struct {
	ID         string               `json:"id"`
	Reference  string               `json:"reference"`
	SlotID     *string              `json:"slot_id,omitempty"`
	ProviderID string               `json:"provider_id"`
	ClientID   *string              `json:"client_id,omitempty"`
	GuestName  *string              `json:"guest_name,omitempty"`
	GuestEmail *string              `json:"guest_email,omitempty"`
	GuestPhone *string              `json:"guest_phone,omitempty"`
	Price      float64              `json:"price"`
	Status     entity.BookingStatus `json:"status"`
	Notes      *string              `json:"notes,omitempty"`
	Slot       *SlotResponse        `json:"slot,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// Helper converters
func SlotToResponse(s *entity.CalculatedSlot) SlotResponse {
	return SlotResponse{
		ID:              s.ID.String(),
		AvailabilityID:  s.AvailabilityID.String(),
		ServiceConfigID: s.ServiceConfigID.String(),
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		Status:          s.Status,
		DurationMinutes: s.DurationMinutes,
		Price:           s.Price,
	}
}

func SlotsToResponse(slots []*entity.CalculatedSlot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotToResponse(s))
	}
	return out
}

func BookingToResponse(b *entity.Booking, slot *entity.CalculatedSlot) BookingResponse {
	resp := BookingResponse{
		ID:         b.ID.String(),
		Reference:  b.Reference,
		SlotID:     uuidString(b.SlotID),
		ProviderID: b.ProviderID.String(),
		ClientID:   uuidString(b.ClientID),
		GuestName:  b.GuestName,
		GuestEmail: b.GuestEmail,
		GuestPhone: b.GuestPhone,
		Price:      b.Price,
		Status:     b.Status,
		Notes:      b.Notes,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
	if slot != nil {
		s := SlotToResponse(slot)
		resp.Slot = &s
	}
	return resp
}

func uuidString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
