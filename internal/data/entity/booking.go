package entity

import (
	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// IsActive reports whether a booking still holds its slot.
func (s BookingStatus) IsActive() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// Booking is a claim on exactly one slot, by a registered client or a guest.
type Booking struct {
	Base
	Reference  string        `db:"reference"`
	SlotID     *uuid.UUID    `db:"slot_id"`
	ProviderID uuid.UUID     `db:"provider_id"`
	ClientID   *uuid.UUID    `db:"client_id"`
	GuestName  *string       `db:"guest_name"`
	GuestEmail *string       `db:"guest_email"`
	GuestPhone *string       `db:"guest_phone"`
	Price      float64       `db:"price"`
	Status     BookingStatus `db:"status"`
	Notes      *string       `db:"notes"`
}
