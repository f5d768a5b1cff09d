package adaptor

import (
	"errors"
	"net/http"

	"clinic-scheduling/internal/usecase"
	"clinic-scheduling/pkg/utils"

	"go.uber.org/zap"
)

type Handler struct {
	Availability *AvailabilityHandler
	Booking      *BookingHandler
}

func NewHandler(service *usecase.Service, log *zap.Logger) *Handler {
	return &Handler{
		Availability: NewAvailabilityHandler(service.Availability, log),
		Booking:      NewBookingHandler(service.Booking, log),
	}
}

// retryAfterSeconds is sent with 503 responses for timed out transactions.
const retryAfterSeconds = 1

// handleServiceError maps service errors to responses by kind
func handleServiceError(log *zap.Logger, w http.ResponseWriter, err error, operation string) {
	var e *usecase.Error
	errors.As(err, &e)

	switch usecase.KindOf(err) {
	case usecase.KindValidation:
		log.Warn(operation+" validation failed",
			zap.Error(err),
			zap.String("operation", operation))
		var fields any
		if e != nil && len(e.Fields) > 0 {
			fields = e.Fields
		}
		utils.ResponseBadRequest(w, message(e, err), fields)

	case usecase.KindNotFound:
		log.Warn(operation+" failed - not found",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseNotFound(w, message(e, err))

	case usecase.KindPrecondition:
		level := zap.WarnLevel
		if usecase.IsConflict(err) {
			// losing a slot to another client is routine under contention
			level = zap.DebugLevel
		}
		log.Log(level, operation+" failed - precondition",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseConflict(w, e.Code, e.Message, nil)

	case usecase.KindRetryable:
		log.Warn(operation+" failed - retryable",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseRetryable(w, usecase.ErrRetryable.Code, usecase.ErrRetryable.Message, retryAfterSeconds)

	default:
		log.Error("Failed to "+operation,
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseInternalError(w, "Internal server error")
	}
}

func message(e *usecase.Error, err error) string {
	if e != nil {
		return e.Message
	}
	return err.Error()
}
