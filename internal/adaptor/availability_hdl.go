package adaptor

import (
	"encoding/json"
	"errors"
	"net/http"

	"clinic-scheduling/internal/dto/request"
	"clinic-scheduling/internal/usecase"
	"clinic-scheduling/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AvailabilityHandler struct {
	service usecase.AvailabilityService
	log     *zap.Logger
}

func NewAvailabilityHandler(service usecase.AvailabilityService, log *zap.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{
		service: service,
		log:     log.With(zap.String("handler", "availability")),
	}
}

// CreateAvailability handles POST /api/availabilities
func (h *AvailabilityHandler) CreateAvailability(w http.ResponseWriter, r *http.Request) {
	// Missing actor means the provider creates their own window
	actorID, _ := utils.GetActorIDFromContext(r.Context())

	var req request.CreateAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	resp, err := h.service.CreateAvailability(r.Context(), actorID, &req)
	if err != nil {
		handleServiceError(h.log, w, err, "create availability")
		return
	}

	utils.ResponseCreated(w, "success", resp)
}

// GetAvailability handles GET /api/availabilities/{id}
func (h *AvailabilityHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		utils.ResponseBadRequest(w, "Availability ID is required", nil)
		return
	}

	resp, err := h.service.GetAvailability(r.Context(), id)
	if err != nil {
		handleServiceError(h.log, w, err, "get availability")
		return
	}

	utils.ResponseSuccess(w, "success", resp)
}

// UpdateAvailability handles PUT /api/availabilities/{id}?scope=single|future|all
func (h *AvailabilityHandler) UpdateAvailability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}

	var req request.UpdateAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	resp, err := h.service.UpdateAvailability(r.Context(), id, scope, &req)
	if err != nil {
		handleServiceError(h.log, w, err, "update availability")
		return
	}

	utils.ResponseSuccess(w, "success", resp)
}

// DeleteAvailability handles DELETE /api/availabilities/{id}?scope=single|future|all
func (h *AvailabilityHandler) DeleteAvailability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}

	resp, err := h.service.DeleteAvailability(r.Context(), id, scope)
	if err != nil {
		handleServiceError(h.log, w, err, "delete availability")
		return
	}

	utils.ResponseSuccess(w, "success", resp)
}

// DeleteAvailabilities handles POST /api/availabilities/delete
func (h *AvailabilityHandler) DeleteAvailabilities(w http.ResponseWriter, r *http.Request) {
	var req request.DeleteAvailabilitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	resp, err := h.service.DeleteAvailabilities(r.Context(), &req)

	var batchErr *usecase.BatchDeleteError
	if errors.As(err, &batchErr) {
		h.log.Warn("Batch delete partially failed",
			zap.Int("failed", len(batchErr.Failures)),
			zap.Int("total", batchErr.Total))
		utils.ResponseJSON(w, http.StatusMultiStatus, false, batchErr.Error(), resp, batchErr.Reasons())
		return
	}
	if err != nil {
		handleServiceError(h.log, w, err, "batch delete availabilities")
		return
	}

	utils.ResponseSuccess(w, "success", resp)
}

// AcceptAvailability handles POST /api/availabilities/{id}/accept?scope=...
func (h *AvailabilityHandler) AcceptAvailability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}

	resp, err := h.service.AcceptAvailability(r.Context(), id, scope)
	if err != nil {
		handleServiceError(h.log, w, err, "accept availability")
		return
	}

	utils.ResponseSuccess(w, "success", resp)
}

// RejectAvailability handles POST /api/availabilities/{id}/reject?scope=...
func (h *AvailabilityHandler) RejectAvailability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}

	resp, err := h.service.RejectAvailability(r.Context(), id, scope)
	if err != nil {
		handleServiceError(h.log, w, err, "reject availability")
		return
	}

	utils.ResponseSuccess(w, "success", resp)
}

// ListAvailabilitySlots handles GET /api/availabilities/{id}/slots
func (h *AvailabilityHandler) ListAvailabilitySlots(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	slots, err := h.service.ListAvailabilitySlots(r.Context(), id)
	if err != nil {
		handleServiceError(h.log, w, err, "list availability slots")
		return
	}

	utils.ResponseSuccess(w, "success", slots)
}

// ListProviderAvailabilities handles GET /api/providers/{id}/availabilities?from=&to=
func (h *AvailabilityHandler) ListProviderAvailabilities(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(providerID); err != nil {
		utils.ResponseBadRequest(w, "Invalid provider ID", nil)
		return
	}

	query := r.URL.Query()
	from, err := utils.ParseTime(query.Get("from"))
	if err != nil {
		utils.ResponseBadRequest(w, err.Error(), nil)
		return
	}
	to, err := utils.ParseTime(query.Get("to"))
	if err != nil {
		utils.ResponseBadRequest(w, err.Error(), nil)
		return
	}

	list, err := h.service.ListProviderAvailabilities(r.Context(), providerID, from, to)
	if err != nil {
		handleServiceError(h.log, w, err, "list provider availabilities")
		return
	}

	utils.ResponseSuccess(w, "success", list)
}

func (h *AvailabilityHandler) scope(w http.ResponseWriter, r *http.Request) (usecase.Scope, bool) {
	scope, err := usecase.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		handleServiceError(h.log, w, err, "parse scope")
		return "", false
	}
	return scope, true
}
