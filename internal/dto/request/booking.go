package request

import "time"

// ClaimSlotRequest identifies who books: a registered client or a guest with
// at least an email.
type ClaimSlotRequest struct {
	ClientID   *string `json:"client_id,omitempty" validate:"omitempty,uuid"`
	GuestName  *string `json:"guest_name,omitempty" validate:"omitempty,min=1,max=200"`
	GuestEmail *string `json:"guest_email,omitempty" validate:"omitempty,email"`
	GuestPhone *string `json:"guest_phone,omitempty" validate:"omitempty,min=6,max=20"`
	Notes      *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

type RescheduleBookingRequest struct {
	SlotID string `json:"slot_id" validate:"required,uuid"`
}

type SlotSearchRequest struct {
	PaginatedRequest
	ProviderID     string     `json:"provider_id" validate:"omitempty,uuid"`
	AvailabilityID string     `json:"availability_id" validate:"omitempty,uuid"`
	From           *time.Time `json:"from"`
	To             *time.Time `json:"to"`
	Status         string     `json:"status" validate:"omitempty,oneof=AVAILABLE BOOKED BLOCKED INVALID"`
}
