package adaptor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clinic-scheduling/internal/dto/request"
	"clinic-scheduling/internal/dto/response"
	"clinic-scheduling/internal/usecase"
	"clinic-scheduling/pkg/database"
	"clinic-scheduling/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// stubAvailability overrides only the methods a test needs; calling any
// other method panics on the nil embedded interface.
type stubAvailability struct {
	usecase.AvailabilityService

	create  func(ctx context.Context, actorID uuid.UUID, req *request.CreateAvailabilityRequest) (*response.CreateAvailabilityResponse, error)
	update  func(ctx context.Context, id string, scope usecase.Scope, req *request.UpdateAvailabilityRequest) (*response.UpdateAvailabilityResponse, error)
	remove  func(ctx context.Context, id string, scope usecase.Scope) (*response.DeleteAvailabilityResponse, error)
	batch   func(ctx context.Context, req *request.DeleteAvailabilitiesRequest) (*response.DeleteAvailabilityResponse, error)
	list    func(ctx context.Context, providerID string, from, to *time.Time) ([]response.AvailabilityResponse, error)
	accept  func(ctx context.Context, id string, scope usecase.Scope) (*response.StatusChangeResponse, error)
	getByID func(ctx context.Context, id string) (*response.AvailabilityDetailResponse, error)
}

func (s *stubAvailability) CreateAvailability(ctx context.Context, actorID uuid.UUID, req *request.CreateAvailabilityRequest) (*response.CreateAvailabilityResponse, error) {
	return s.create(ctx, actorID, req)
}

func (s *stubAvailability) UpdateAvailability(ctx context.Context, id string, scope usecase.Scope, req *request.UpdateAvailabilityRequest) (*response.UpdateAvailabilityResponse, error) {
	return s.update(ctx, id, scope, req)
}

func (s *stubAvailability) DeleteAvailability(ctx context.Context, id string, scope usecase.Scope) (*response.DeleteAvailabilityResponse, error) {
	return s.remove(ctx, id, scope)
}

func (s *stubAvailability) DeleteAvailabilities(ctx context.Context, req *request.DeleteAvailabilitiesRequest) (*response.DeleteAvailabilityResponse, error) {
	return s.batch(ctx, req)
}

func (s *stubAvailability) ListProviderAvailabilities(ctx context.Context, providerID string, from, to *time.Time) ([]response.AvailabilityResponse, error) {
	return s.list(ctx, providerID, from, to)
}

func (s *stubAvailability) AcceptAvailability(ctx context.Context, id string, scope usecase.Scope) (*response.StatusChangeResponse, error) {
	return s.accept(ctx, id, scope)
}

func (s *stubAvailability) GetAvailability(ctx context.Context, id string) (*response.AvailabilityDetailResponse, error) {
	return s.getByID(ctx, id)
}

type stubBooking struct {
	usecase.BookingService

	claim      func(ctx context.Context, slotID string, req *request.ClaimSlotRequest) (*response.BookingResponse, error)
	search     func(ctx context.Context, req *request.SlotSearchRequest) (*response.PaginatedResponse[response.SlotResponse], error)
	reschedule func(ctx context.Context, id string, req *request.RescheduleBookingRequest) (*response.BookingResponse, error)
	cancel     func(ctx context.Context, id string) (*response.BookingResponse, error)
}

func (s *stubBooking) ClaimSlot(ctx context.Context, slotID string, req *request.ClaimSlotRequest) (*response.BookingResponse, error) {
	return s.claim(ctx, slotID, req)
}

func (s *stubBooking) SearchSlots(ctx context.Context, req *request.SlotSearchRequest) (*response.PaginatedResponse[response.SlotResponse], error) {
	return s.search(ctx, req)
}

func (s *stubBooking) RescheduleBooking(ctx context.Context, id string, req *request.RescheduleBookingRequest) (*response.BookingResponse, error) {
	return s.reschedule(ctx, id, req)
}

func (s *stubBooking) CancelBooking(ctx context.Context, id string) (*response.BookingResponse, error) {
	return s.cancel(ctx, id)
}

func newRouter(av usecase.AvailabilityService, bk usecase.BookingService) *chi.Mux {
	return newRouterWithLog(av, bk, zap.NewNop())
}

func newRouterWithLog(av usecase.AvailabilityService, bk usecase.BookingService, log *zap.Logger) *chi.Mux {
	h := NewHandler(&usecase.Service{Availability: av, Booking: bk}, log)

	r := chi.NewRouter()
	r.Post("/api/availabilities", h.Availability.CreateAvailability)
	r.Post("/api/availabilities/delete", h.Availability.DeleteAvailabilities)
	r.Get("/api/availabilities/{id}", h.Availability.GetAvailability)
	r.Put("/api/availabilities/{id}", h.Availability.UpdateAvailability)
	r.Delete("/api/availabilities/{id}", h.Availability.DeleteAvailability)
	r.Post("/api/availabilities/{id}/accept", h.Availability.AcceptAvailability)
	r.Get("/api/providers/{id}/availabilities", h.Availability.ListProviderAvailabilities)
	r.Get("/api/slots", h.Booking.SearchSlots)
	r.Post("/api/slots/{id}/claim", h.Booking.ClaimSlot)
	r.Put("/api/bookings/{id}/cancel", h.Booking.CancelBooking)
	r.Put("/api/bookings/{id}/reschedule", h.Booking.RescheduleBooking)
	return r
}

func do(t *testing.T, r http.Handler, method, target, body string, ctx context.Context) (*httptest.ResponseRecorder, utils.Response) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var resp utils.Response
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestCreateAvailabilityPassesActor(t *testing.T) {
	actorID := uuid.New()
	var gotActor uuid.UUID
	av := &stubAvailability{create: func(_ context.Context, a uuid.UUID, req *request.CreateAvailabilityRequest) (*response.CreateAvailabilityResponse, error) {
		gotActor = a
		assert.Equal(t, "FIXED_INTERVAL", req.SchedulingRule)
		return &response.CreateAvailabilityResponse{SlotsGenerated: 8}, nil
	}}

	ctx := utils.SetActorContext(context.Background(), actorID)
	rec, resp := do(t, newRouter(av, nil), http.MethodPost, "/api/availabilities", `{"scheduling_rule":"FIXED_INTERVAL"}`, ctx)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Status)
	assert.Equal(t, actorID, gotActor)
}

func TestCreateAvailabilityRejectsMalformedBody(t *testing.T) {
	rec, _ := do(t, newRouter(&stubAvailability{}, nil), http.MethodPost, "/api/availabilities", `{`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", usecase.ErrValidation.Detail("bad"), http.StatusBadRequest, ""},
		{"not found", usecase.ErrNotFound.Detail("availability x not found"), http.StatusNotFound, ""},
		{"already booked", usecase.ErrSlotAlreadyBooked, http.StatusConflict, "SLOT_ALREADY_BOOKED"},
		{"expired", fmt.Errorf("claim: %w", usecase.ErrSlotExpired), http.StatusConflict, "SLOT_EXPIRED"},
		{"retryable", usecase.ErrRetryable, http.StatusServiceUnavailable, "TRY_AGAIN"},
		{"db timeout", fmt.Errorf("lock slot: %w", database.ErrTxTimeout), http.StatusServiceUnavailable, "TRY_AGAIN"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bk := &stubBooking{claim: func(context.Context, string, *request.ClaimSlotRequest) (*response.BookingResponse, error) {
				return nil, tt.err
			}}

			rec, resp := do(t, newRouter(nil, bk), http.MethodPost, "/api/slots/"+uuid.NewString()+"/claim", `{}`, nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.False(t, resp.Status)
			if tt.wantStatus == http.StatusServiceUnavailable {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestValidationFieldsAreReturned(t *testing.T) {
	e := usecase.ErrValidation.Detail("validation failed: GuestEmail")
	e.Fields = map[string]string{"GuestEmail": "Either client_id or guest_email is required"}
	bk := &stubBooking{claim: func(context.Context, string, *request.ClaimSlotRequest) (*response.BookingResponse, error) {
		return nil, e
	}}

	rec, resp := do(t, newRouter(nil, bk), http.MethodPost, "/api/slots/x/claim", `{}`, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"GuestEmail": "Either client_id or guest_email is required"}, resp.Errors)
}

func TestScopeIsParsed(t *testing.T) {
	var got usecase.Scope
	av := &stubAvailability{remove: func(_ context.Context, id string, scope usecase.Scope) (*response.DeleteAvailabilityResponse, error) {
		got = scope
		return &response.DeleteAvailabilityResponse{DeletedCount: 3}, nil
	}}
	r := newRouter(av, nil)

	rec, _ := do(t, r, http.MethodDelete, "/api/availabilities/abc?scope=future", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, usecase.ScopeFuture, got)

	rec, _ = do(t, r, http.MethodDelete, "/api/availabilities/abc", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, usecase.ScopeSingle, got)

	rec, _ = do(t, r, http.MethodDelete, "/api/availabilities/abc?scope=weekly", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAndAcceptUseScope(t *testing.T) {
	av := &stubAvailability{
		update: func(_ context.Context, id string, scope usecase.Scope, req *request.UpdateAvailabilityRequest) (*response.UpdateAvailabilityResponse, error) {
			require.NotNil(t, req.Notes)
			return &response.UpdateAvailabilityResponse{Scope: string(scope)}, nil
		},
		accept: func(_ context.Context, id string, scope usecase.Scope) (*response.StatusChangeResponse, error) {
			return nil, usecase.ErrInvalidStatusTransition
		},
	}
	r := newRouter(av, nil)

	rec, resp := do(t, r, http.MethodPut, "/api/availabilities/abc?scope=all", `{"notes":"room 2"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "all", resp.Data.(map[string]any)["scope"])

	rec, resp = do(t, r, http.MethodPost, "/api/availabilities/abc/accept?scope=all", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATUS_TRANSITION", resp.Code)
}

func TestBatchDeletePartialFailure(t *testing.T) {
	av := &stubAvailability{batch: func(_ context.Context, req *request.DeleteAvailabilitiesRequest) (*response.DeleteAvailabilityResponse, error) {
		return &response.DeleteAvailabilityResponse{DeletedCount: 1}, &usecase.BatchDeleteError{
			Total:    2,
			Failures: []usecase.BatchDeleteFailure{{ID: req.IDs[1], Err: usecase.ErrActiveBookings}},
		}
	}}
	ids := []string{uuid.NewString(), uuid.NewString()}
	body := fmt.Sprintf(`{"ids":[%q,%q]}`, ids[0], ids[1])

	rec, resp := do(t, newRouter(av, nil), http.MethodPost, "/api/availabilities/delete", body, nil)

	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.False(t, resp.Status)
	assert.Equal(t, float64(1), resp.Data.(map[string]any)["deleted_count"])
	assert.Equal(t, map[string]any{ids[1]: usecase.ErrActiveBookings.Error()}, resp.Errors)
}

func TestBatchDeleteValidationError(t *testing.T) {
	av := &stubAvailability{batch: func(context.Context, *request.DeleteAvailabilitiesRequest) (*response.DeleteAvailabilityResponse, error) {
		return nil, usecase.ErrValidation
	}}

	rec, _ := do(t, newRouter(av, nil), http.MethodPost, "/api/availabilities/delete", `{"ids":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListProviderAvailabilitiesParsesRange(t *testing.T) {
	providerID := uuid.NewString()
	av := &stubAvailability{list: func(_ context.Context, id string, from, to *time.Time) ([]response.AvailabilityResponse, error) {
		assert.Equal(t, providerID, id)
		require.NotNil(t, from)
		assert.Nil(t, to)
		assert.Equal(t, time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC), *from)
		return []response.AvailabilityResponse{}, nil
	}}
	r := newRouter(av, nil)

	rec, _ := do(t, r, http.MethodGet, "/api/providers/"+providerID+"/availabilities?from=2030-01-07", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, r, http.MethodGet, "/api/providers/"+providerID+"/availabilities?from=soon", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, r, http.MethodGet, "/api/providers/nope/availabilities", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAvailabilityNotFound(t *testing.T) {
	av := &stubAvailability{getByID: func(_ context.Context, id string) (*response.AvailabilityDetailResponse, error) {
		return nil, usecase.ErrNotFound.Detail("availability %s not found", id)
	}}

	rec, resp := do(t, newRouter(av, nil), http.MethodGet, "/api/availabilities/abc", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "availability abc not found", resp.Message)
}

func TestSearchSlotsQuery(t *testing.T) {
	providerID := uuid.NewString()
	bk := &stubBooking{search: func(_ context.Context, req *request.SlotSearchRequest) (*response.PaginatedResponse[response.SlotResponse], error) {
		assert.Equal(t, 2, req.Page)
		assert.Equal(t, 5, req.PerPage)
		assert.Equal(t, providerID, req.ProviderID)
		assert.Equal(t, "AVAILABLE", req.Status)
		require.NotNil(t, req.From)
		require.NotNil(t, req.To)
		return response.NewPaginatedResponse([]response.SlotResponse{}, req.Page, req.PerPage, 7), nil
	}}

	target := "/api/slots?page=2&per_page=5&status=AVAILABLE&provider_id=" + providerID +
		"&from=2030-01-07T00:00:00Z&to=2030-01-14"
	rec, resp := do(t, newRouter(nil, bk), http.MethodGet, target, "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	pagination := resp.Data.(map[string]any)["pagination"].(map[string]any)
	assert.Equal(t, float64(2), pagination["total_pages"])
}

func TestRescheduleAndCancel(t *testing.T) {
	bookingID := uuid.NewString()
	bk := &stubBooking{
		reschedule: func(_ context.Context, id string, req *request.RescheduleBookingRequest) (*response.BookingResponse, error) {
			assert.Equal(t, bookingID, id)
			return nil, usecase.ErrProviderMismatch
		},
		cancel: func(_ context.Context, id string) (*response.BookingResponse, error) {
			return &response.BookingResponse{ID: id, Status: "CANCELLED"}, nil
		},
	}
	r := newRouter(nil, bk)

	rec, resp := do(t, r, http.MethodPut, "/api/bookings/"+bookingID+"/reschedule", `{"slot_id":"`+uuid.NewString()+`"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "PROVIDER_MISMATCH", resp.Code)

	rec, resp = do(t, r, http.MethodPut, "/api/bookings/"+bookingID+"/cancel", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", resp.Data.(map[string]any)["status"])
}

func TestLostSlotRaceLogsAtDebug(t *testing.T) {
	tests := []struct {
		err   error
		level zapcore.Level
	}{
		{usecase.ErrSlotAlreadyBooked, zapcore.DebugLevel},
		{usecase.ErrSlotNotAvailable.Detail("slot is BLOCKED"), zapcore.DebugLevel},
		{usecase.ErrSlotExpired, zapcore.WarnLevel},
	}

	for _, tt := range tests {
		core, logs := observer.New(zapcore.DebugLevel)
		bk := &stubBooking{claim: func(context.Context, string, *request.ClaimSlotRequest) (*response.BookingResponse, error) {
			return nil, tt.err
		}}

		rec, _ := do(t, newRouterWithLog(nil, bk, zap.New(core)), http.MethodPost, "/api/slots/x/claim", `{}`, nil)

		assert.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, 1, logs.Len())
		assert.Equal(t, tt.level, logs.All()[0].Level)
	}
}
