package entity

import (
	"clinic-scheduling/internal/scheduling"

	"github.com/google/uuid"
)

// ServiceAvailabilityConfig binds a service, its duration and price to one or
// more availabilities of a provider.
type ServiceAvailabilityConfig struct {
	BaseSimple
	ProviderID      uuid.UUID `db:"provider_id"`
	ServiceID       uuid.UUID `db:"service_id"`
	DurationMinutes int       `db:"duration_minutes"`
	Price           float64   `db:"price"`
}

func (c *ServiceAvailabilityConfig) Offer() scheduling.ServiceOffer {
	return scheduling.ServiceOffer{
		ConfigID:        c.ID,
		ServiceID:       c.ServiceID,
		DurationMinutes: c.DurationMinutes,
		Price:           c.Price,
	}
}
