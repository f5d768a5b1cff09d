package usecase

import (
	"clinic-scheduling/internal/data/repository"
	"clinic-scheduling/internal/metrics"
	"clinic-scheduling/internal/notify"
	"clinic-scheduling/pkg/utils"

	"go.uber.org/zap"
)

type Service struct {
	Availability AvailabilityService
	Booking      BookingService
}

func NewService(repo *repository.Repository, config *utils.Config, dispatcher notify.Dispatcher, m *metrics.SchedulingMetrics, log *zap.Logger) *Service {
	return &Service{
		Availability: NewAvailabilityService(repo, config.Scheduling, m, log),
		Booking:      NewBookingService(repo, config.Scheduling, dispatcher, m, log),
	}
}
