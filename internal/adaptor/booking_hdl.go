package adaptor

import (
	"encoding/json"
	"net/http"

	"clinic-scheduling/internal/dto/request"
	"clinic-scheduling/internal/usecase"
	"clinic-scheduling/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type BookingHandler struct {
	service usecase.BookingService
	log     *zap.Logger
}

func NewBookingHandler(service usecase.BookingService, log *zap.Logger) *BookingHandler {
	return &BookingHandler{
		service: service,
		log:     log.With(zap.String("handler", "booking")),
	}
}

// SearchSlots handles GET /api/slots
func (h *BookingHandler) SearchSlots(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	req := &request.SlotSearchRequest{
		PaginatedRequest: request.PaginatedRequest{
			Page:    utils.ParseInt(query.Get("page"), 1),
			PerPage: utils.ParseInt(query.Get("per_page"), 10),
		},
		ProviderID:     query.Get("provider_id"),
		AvailabilityID: query.Get("availability_id"),
		Status:         query.Get("status"),
	}

	var err error
	if req.From, err = utils.ParseTime(query.Get("from")); err != nil {
		utils.ResponseBadRequest(w, err.Error(), nil)
		return
	}
	if req.To, err = utils.ParseTime(query.Get("to")); err != nil {
		utils.ResponseBadRequest(w, err.Error(), nil)
		return
	}

	slots, err := h.service.SearchSlots(r.Context(), req)
	if err != nil {
		handleServiceError(h.log, w, err, "search slots")
		return
	}

	utils.ResponseSuccess(w, "success", slots)
}

// ClaimSlot handles POST /api/slots/{id}/claim
func (h *BookingHandler) ClaimSlot(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "id")

	var req request.ClaimSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	booking, err := h.service.ClaimSlot(r.Context(), slotID, &req)
	if err != nil {
		handleServiceError(h.log, w, err, "claim slot")
		return
	}

	utils.ResponseCreated(w, "success", booking)
}

// ReleaseSlot handles POST /api/slots/{id}/release
func (h *BookingHandler) ReleaseSlot(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "id")

	slot, err := h.service.ReleaseSlot(r.Context(), slotID)
	if err != nil {
		handleServiceError(h.log, w, err, "release slot")
		return
	}

	utils.ResponseSuccess(w, "success", slot)
}

// GetBooking handles GET /api/bookings/{id}
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "id")
	if bookingID == "" {
		utils.ResponseBadRequest(w, "Booking ID is required", nil)
		return
	}

	booking, err := h.service.GetBooking(r.Context(), bookingID)
	if err != nil {
		handleServiceError(h.log, w, err, "get booking")
		return
	}

	utils.ResponseSuccess(w, "success", booking)
}

// CancelBooking handles PUT /api/bookings/{id}/cancel
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "id")

	booking, err := h.service.CancelBooking(r.Context(), bookingID)
	if err != nil {
		handleServiceError(h.log, w, err, "cancel booking")
		return
	}

	utils.ResponseSuccess(w, "success", booking)
}

// RescheduleBooking handles PUT /api/bookings/{id}/reschedule
func (h *BookingHandler) RescheduleBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "id")

	var req request.RescheduleBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	booking, err := h.service.RescheduleBooking(r.Context(), bookingID, &req)
	if err != nil {
		handleServiceError(h.log, w, err, "reschedule booking")
		return
	}

	utils.ResponseSuccess(w, "success", booking)
}
