package wire

import (
	"clinic-scheduling/internal/adaptor"
	"clinic-scheduling/pkg/middleware"
	"clinic-scheduling/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func wireBooking(
	r chi.Router,
	bookingHandler *adaptor.BookingHandler,
	idem middleware.IdempotencyStore,
	config *utils.Config,
	log *zap.Logger,
) {
	// GET /api/slots - Search bookable slots
	r.Get("/api/slots", bookingHandler.SearchSlots)

	// Claims are the contended path: rate limited per client and replayable
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(config.RateLimit, log))
		r.Use(middleware.Idempotency(idem, log))

		r.Post("/api/slots/{id}/claim", bookingHandler.ClaimSlot)
	})

	r.Post("/api/slots/{id}/release", bookingHandler.ReleaseSlot)

	r.Route("/api/bookings", func(r chi.Router) {
		r.Get("/{id}", bookingHandler.GetBooking)
		r.Put("/{id}/cancel", bookingHandler.CancelBooking)
		r.Put("/{id}/reschedule", bookingHandler.RescheduleBooking)
	})
}
