package wire

import (
	"clinic-scheduling/internal/adaptor"
	"clinic-scheduling/pkg/middleware"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func wireAvailability(
	r chi.Router,
	availabilityHandler *adaptor.AvailabilityHandler,
	idem middleware.IdempotencyStore,
	log *zap.Logger,
) {
	r.Route("/api/availabilities", func(r chi.Router) {
		// POST /api/availabilities - Create a window, expanded when recurring
		r.With(middleware.Idempotency(idem, log)).Post("/", availabilityHandler.CreateAvailability)

		// POST /api/availabilities/delete - Delete a list of ids, each on its own
		r.Post("/delete", availabilityHandler.DeleteAvailabilities)

		r.Get("/{id}", availabilityHandler.GetAvailability)
		r.Put("/{id}", availabilityHandler.UpdateAvailability)
		r.Delete("/{id}", availabilityHandler.DeleteAvailability)

		// Organization proposals
		r.Post("/{id}/accept", availabilityHandler.AcceptAvailability)
		r.Post("/{id}/reject", availabilityHandler.RejectAvailability)

		r.Get("/{id}/slots", availabilityHandler.ListAvailabilitySlots)
	})

	r.Get("/api/providers/{id}/availabilities", availabilityHandler.ListProviderAvailabilities)
}
