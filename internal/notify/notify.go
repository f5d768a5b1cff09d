// Package notify delivers booking events to the notification services. The
// scheduling core only hands events over; rendering and delivery happen
// downstream.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookingDetails is the payload of every booking event.
type BookingDetails struct {
	BookingID  uuid.UUID  `json:"booking_id"`
	Reference  string     `json:"reference"`
	Status     string     `json:"status"`
	SlotID     uuid.UUID  `json:"slot_id"`
	ProviderID uuid.UUID  `json:"provider_id"`
	ClientID   *uuid.UUID `json:"client_id,omitempty"`
	GuestName  *string    `json:"guest_name,omitempty"`
	GuestEmail *string    `json:"guest_email,omitempty"`
	GuestPhone *string    `json:"guest_phone,omitempty"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    time.Time  `json:"end_time"`
	Price      float64    `json:"price"`
}

type Dispatcher interface {
	SendBookingConfirmation(ctx context.Context, details BookingDetails) error
	SendProviderNotification(ctx context.Context, details BookingDetails) error
}

// LogDispatcher only logs events. Used when no broker is configured.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{log: log.With(zap.String("dispatcher", "log"))}
}

func (d *LogDispatcher) SendBookingConfirmation(_ context.Context, details BookingDetails) error {
	d.log.Info("Booking confirmation",
		zap.String("booking_id", details.BookingID.String()),
		zap.String("reference", details.Reference),
	)
	return nil
}

func (d *LogDispatcher) SendProviderNotification(_ context.Context, details BookingDetails) error {
	d.log.Info("Provider notification",
		zap.String("booking_id", details.BookingID.String()),
		zap.String("provider_id", details.ProviderID.String()),
	)
	return nil
}
