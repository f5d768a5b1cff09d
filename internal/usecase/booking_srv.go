package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"clinic-scheduling/internal/data/entity"
	"clinic-scheduling/internal/data/repository"
	"clinic-scheduling/internal/dto/request"
	"clinic-scheduling/internal/dto/response"
	"clinic-scheduling/internal/metrics"
	"clinic-scheduling/internal/notify"
	"clinic-scheduling/pkg/database"
	"clinic-scheduling/pkg/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultClaimAttempts = 3
	claimBackoff         = 25 * time.Millisecond
	dispatchTimeout      = 10 * time.Second
)

type BookingService interface {
	ClaimSlot(ctx context.Context, slotID string, req *request.ClaimSlotRequest) (*response.BookingResponse, error)
	CancelBooking(ctx context.Context, bookingID string) (*response.BookingResponse, error)
	RescheduleBooking(ctx context.Context, bookingID string, req *request.RescheduleBookingRequest) (*response.BookingResponse, error)
	ReleaseSlot(ctx context.Context, slotID string) (*response.SlotResponse, error)

	GetBooking(ctx context.Context, bookingID string) (*response.BookingResponse, error)
	SearchSlots(ctx context.Context, req *request.SlotSearchRequest) (*response.PaginatedResponse[response.SlotResponse], error)

	// Wait blocks until notifications already handed off have been sent.
	Wait()
}

type bookingService struct {
	repo        *repository.Repository
	dispatcher  notify.Dispatcher
	maxAttempts int
	metrics     *metrics.SchedulingMetrics
	now         func() time.Time
	pending     sync.WaitGroup
	log         *zap.Logger
}

func NewBookingService(repo *repository.Repository, cfg utils.SchedulingConfig, dispatcher notify.Dispatcher, m *metrics.SchedulingMetrics, log *zap.Logger) BookingService {
	attempts := cfg.ClaimMaxAttempts
	if attempts <= 0 {
		attempts = defaultClaimAttempts
	}
	return &bookingService{
		repo:        repo,
		dispatcher:  dispatcher,
		maxAttempts: attempts,
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log.With(zap.String("service", "booking")),
	}
}

// booker is the validated identity of a claim request.
type booker struct {
	clientID *uuid.UUID
	req      *request.ClaimSlotRequest
}

func (s *bookingService) ClaimSlot(ctx context.Context, slotID string, req *request.ClaimSlotRequest) (*response.BookingResponse, error) {
	ctx, span := tracer.Start(ctx, "booking.claim", trace.WithAttributes(attribute.String("slot_id", slotID)))
	defer span.End()
	defer s.metrics.ObserveDuration("booking.claim", time.Now())

	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		s.log.Warn("Claim slot validation failed", zap.Any("errors", errs))
		return nil, validationError(errs)
	}

	id, err := parseID("slot_id", slotID)
	if err != nil {
		return nil, err
	}
	clientID, err := parseOptionalID("ClientID", req.ClientID)
	if err != nil {
		return nil, err
	}
	if clientID == nil && req.GuestEmail == nil {
		return nil, invalidField("GuestEmail", "Either client_id or guest_email is required")
	}
	who := booker{clientID: clientID, req: req}

	var (
		booking  *entity.Booking
		slot     *entity.CalculatedSlot
		attempts int
	)
	for attempts = 1; ; attempts++ {
		booking, slot, err = s.claimOnce(ctx, id, who)
		if err == nil || !database.IsRetryable(err) || attempts >= s.maxAttempts {
			break
		}

		s.log.Warn("Claim attempt conflicted, retrying",
			zap.Error(err),
			zap.String("slot_id", slotID),
			zap.Int("attempt", attempts),
		)
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(claimBackoff * time.Duration(attempts)):
			continue
		}
		break
	}

	span.SetAttributes(attribute.Int("attempts", attempts))
	s.metrics.ObserveClaim(resultLabel(err), attempts)

	if err != nil {
		span.RecordError(err)
		if KindOf(err) == KindInternal {
			s.log.Error("Failed to claim slot", zap.Error(err), zap.String("slot_id", slotID), zap.Int("attempts", attempts))
		} else {
			s.log.Info("Slot claim rejected", zap.Error(err), zap.String("slot_id", slotID))
		}
		return nil, retryable(fmt.Errorf("claim slot %s: %w", slotID, err))
	}

	s.log.Info("Slot claimed",
		zap.String("slot_id", slotID),
		zap.String("booking_id", booking.ID.String()),
		zap.String("reference", booking.Reference),
		zap.Int("attempts", attempts),
	)

	s.dispatch(ctx, booking, slot)

	resp := response.BookingToResponse(booking, slot)
	return &resp, nil
}

// claimOnce runs one claim transaction on a fresh read of the slot.
func (s *bookingService) claimOnce(ctx context.Context, slotID uuid.UUID, who booker) (*entity.Booking, *entity.CalculatedSlot, error) {
	var (
		booking *entity.Booking
		slot    *entity.CalculatedSlot
	)

	err := s.repo.Tx.WithinTx(ctx, func(ctx context.Context, tx *repository.Repository) error {
		claim, err := tx.Slot.LockForClaim(ctx, slotID)
		if err != nil {
			return err
		}
		if claim == nil {
			return notFound("slot", slotID.String())
		}

		now := s.now()
		if err := checkClaimable(claim, now); err != nil {
			return err
		}

		status := entity.BookingStatusConfirmed
		if claim.RequiresConfirmation {
			status = entity.BookingStatusPending
		}

		b := &entity.Booking{
			Base:       entity.NewBase(now),
			Reference:  utils.GenerateBookingReference(now),
			SlotID:     &claim.Slot.ID,
			ProviderID: claim.ProviderID,
			ClientID:   who.clientID,
			GuestName:  who.req.GuestName,
			GuestEmail: who.req.GuestEmail,
			GuestPhone: who.req.GuestPhone,
			Price:      claim.Slot.Price,
			Status:     status,
			Notes:      who.req.Notes,
		}
		if err := tx.Booking.Create(ctx, b); err != nil {
			if database.IsUniqueViolation(err, repository.ActiveSlotConstraint) {
				return ErrSlotAlreadyBooked.Detail("slot %s was booked concurrently", slotID)
			}
			return err
		}
		if err := tx.Slot.UpdateStatus(ctx, claim.Slot.ID, entity.SlotStatusBooked); err != nil {
			return err
		}

		claim.Slot.Status = entity.SlotStatusBooked
		claim.Slot.UpdatedAt = now
		booking, slot = b, &claim.Slot
		return nil
	})

	return booking, slot, err
}

// checkClaimable applies the claim preconditions in order: an active
// booking, then expiry, then the slot status.
func checkClaimable(claim *entity.SlotClaim, now time.Time) error {
	slot := &claim.Slot
	if claim.ActiveBookingID != nil {
		return ErrSlotAlreadyBooked.Detail("slot %s is already booked", slot.ID)
	}
	if !slot.StartTime.After(now) {
		return ErrSlotExpired.Detail("slot %s started at %s", slot.ID, slot.StartTime.Format(time.RFC3339))
	}
	if slot.Status != entity.SlotStatusAvailable {
		return ErrSlotNotAvailable.Detail("slot %s is %s", slot.ID, slot.Status)
	}
	return nil
}

// dispatch hands the booking to the notification services without holding
// up the caller. Failures are logged only.
func (s *bookingService) dispatch(ctx context.Context, booking *entity.Booking, slot *entity.CalculatedSlot) {
	if s.dispatcher == nil {
		return
	}

	details := notify.BookingDetails{
		BookingID:  booking.ID,
		Reference:  booking.Reference,
		Status:     string(booking.Status),
		SlotID:     slot.ID,
		ProviderID: booking.ProviderID,
		ClientID:   booking.ClientID,
		GuestName:  booking.GuestName,
		GuestEmail: booking.GuestEmail,
		GuestPhone: booking.GuestPhone,
		StartTime:  slot.StartTime,
		EndTime:    slot.EndTime,
		Price:      booking.Price,
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		// the request may finish before the broker answers
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
		defer cancel()

		if err := s.dispatcher.SendBookingConfirmation(ctx, details); err != nil {
			s.log.Warn("Booking confirmation not sent", zap.Error(err), zap.String("booking_id", booking.ID.String()))
		}
		if err := s.dispatcher.SendProviderNotification(ctx, details); err != nil {
			s.log.Warn("Provider notification not sent", zap.Error(err), zap.String("booking_id", booking.ID.String()))
		}
	}()
}

func (s *bookingService) Wait() { s.pending.Wait() }

// CancelBooking cancels an active booking. The slot stays BOOKED until it is
// released explicitly.
func (s *bookingService) CancelBooking(ctx context.Context, bookingID string) (*response.BookingResponse, error) {
	ctx, span := tracer.Start(ctx, "booking.cancel")
	defer span.End()

	id, err := parseID("id", bookingID)
	if err != nil {
		return nil, err
	}

	var booking *entity.Booking
	err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context, tx *repository.Repository) error {
		b, err := tx.Booking.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return notFound("booking", bookingID)
		}
		if !b.Status.IsActive() {
			return ErrBookingNotActive.Detail("booking %s is already cancelled", bookingID)
		}

		if err := tx.Booking.UpdateStatus(ctx, id, entity.BookingStatusCancelled); err != nil {
			return err
		}
		b.Status = entity.BookingStatusCancelled
		b.UpdatedAt = s.now()
		booking = b
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if KindOf(err) == KindInternal {
			s.log.Error("Failed to cancel booking", zap.Error(err), zap.String("booking_id", bookingID))
		}
		return nil, retryable(fmt.Errorf("cancel booking %s: %w", bookingID, err))
	}

	s.log.Info("Booking cancelled", zap.String("booking_id", bookingID), zap.String("reference", booking.Reference))

	resp := response.BookingToResponse(booking, nil)
	return &resp, nil
}

// RescheduleBooking moves an active booking onto another AVAILABLE slot of
// the same provider. The old slot is not freed.
func (s *bookingService) RescheduleBooking(ctx context.Context, bookingID string, req *request.RescheduleBookingRequest) (*response.BookingResponse, error) {
	ctx, span := tracer.Start(ctx, "booking.reschedule")
	defer span.End()

	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		s.log.Warn("Reschedule validation failed", zap.Any("errors", errs))
		return nil, validationError(errs)
	}

	id, err := parseID("id", bookingID)
	if err != nil {
		return nil, err
	}
	slotID, err := parseID("SlotID", req.SlotID)
	if err != nil {
		return nil, err
	}

	var (
		booking *entity.Booking
		slot    *entity.CalculatedSlot
	)
	err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context, tx *repository.Repository) error {
		b, err := tx.Booking.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return notFound("booking", bookingID)
		}
		if !b.Status.IsActive() {
			return ErrBookingNotActive.Detail("booking %s is cancelled and cannot be rescheduled", bookingID)
		}
		if b.SlotID != nil && *b.SlotID == slotID {
			return invalidField("SlotID", "Booking already holds this slot")
		}

		claim, err := tx.Slot.LockForClaim(ctx, slotID)
		if err != nil {
			return err
		}
		if claim == nil {
			return notFound("slot", req.SlotID)
		}
		if claim.ProviderID != b.ProviderID {
			return ErrProviderMismatch.Detail("slot %s belongs to another provider than booking %s", req.SlotID, bookingID)
		}

		now := s.now()
		if err := checkClaimable(claim, now); err != nil {
			return err
		}

		if err := tx.Booking.Reassign(ctx, id, slotID, claim.Slot.Price); err != nil {
			if database.IsUniqueViolation(err, repository.ActiveSlotConstraint) {
				return ErrSlotAlreadyBooked.Detail("slot %s was booked concurrently", req.SlotID)
			}
			return err
		}
		if err := tx.Slot.UpdateStatus(ctx, slotID, entity.SlotStatusBooked); err != nil {
			return err
		}

		b.SlotID = &claim.Slot.ID
		b.Price = claim.Slot.Price
		b.UpdatedAt = now
		claim.Slot.Status = entity.SlotStatusBooked
		booking, slot = b, &claim.Slot
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if KindOf(err) == KindInternal {
			s.log.Error("Failed to reschedule booking", zap.Error(err), zap.String("booking_id", bookingID))
		}
		return nil, retryable(fmt.Errorf("reschedule booking %s: %w", bookingID, err))
	}

	s.log.Info("Booking rescheduled",
		zap.String("booking_id", bookingID),
		zap.String("slot_id", req.SlotID),
	)

	resp := response.BookingToResponse(booking, slot)
	return &resp, nil
}

// ReleaseSlot returns a BOOKED slot to AVAILABLE once no active booking
// holds it.
func (s *bookingService) ReleaseSlot(ctx context.Context, slotID string) (*response.SlotResponse, error) {
	ctx, span := tracer.Start(ctx, "slot.release")
	defer span.End()

	id, err := parseID("id", slotID)
	if err != nil {
		return nil, err
	}

	var slot *entity.CalculatedSlot
	err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context, tx *repository.Repository) error {
		sl, err := tx.Slot.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sl == nil {
			return notFound("slot", slotID)
		}
		if sl.Status != entity.SlotStatusBooked {
			return ErrSlotNotBooked.Detail("slot %s is %s", slotID, sl.Status)
		}

		active, err := tx.Booking.HasActiveForSlot(ctx, id)
		if err != nil {
			return err
		}
		if active {
			return ErrActiveBookings.Detail("slot %s still has an active booking, cancel it first", slotID)
		}

		if err := tx.Slot.UpdateStatus(ctx, id, entity.SlotStatusAvailable); err != nil {
			return err
		}
		sl.Status = entity.SlotStatusAvailable
		sl.UpdatedAt = s.now()
		slot = sl
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if KindOf(err) == KindInternal {
			s.log.Error("Failed to release slot", zap.Error(err), zap.String("slot_id", slotID))
		}
		return nil, retryable(fmt.Errorf("release slot %s: %w", slotID, err))
	}

	s.log.Info("Slot released", zap.String("slot_id", slotID))

	resp := response.SlotToResponse(slot)
	return &resp, nil
}

func (s *bookingService) GetBooking(ctx context.Context, bookingID string) (*response.BookingResponse, error) {
	id, err := parseID("id", bookingID)
	if err != nil {
		return nil, err
	}

	booking, err := s.repo.Booking.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", bookingID, err)
	}
	if booking == nil {
		return nil, notFound("booking", bookingID)
	}

	var slot *entity.CalculatedSlot
	if booking.SlotID != nil {
		if slot, err = s.repo.Slot.FindByID(ctx, *booking.SlotID); err != nil {
			return nil, fmt.Errorf("get slot of booking %s: %w", bookingID, err)
		}
	}

	resp := response.BookingToResponse(booking, slot)
	return &resp, nil
}

func (s *bookingService) SearchSlots(ctx context.Context, req *request.SlotSearchRequest) (*response.PaginatedResponse[response.SlotResponse], error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		s.log.Warn("Slot search validation failed", zap.Any("errors", errs))
		return nil, validationError(errs)
	}
	if req.From != nil && req.To != nil && !req.To.After(*req.From) {
		return nil, invalidField("To", "Must be after From")
	}

	filter := entity.SlotFilter{
		From:   req.From,
		To:     req.To,
		Status: entity.SlotStatus(req.Status),
		Limit:  req.Limit(),
		Offset: req.Offset(),
	}
	var err error
	if req.ProviderID != "" {
		if filter.ProviderID, err = parseOptionalID("ProviderID", &req.ProviderID); err != nil {
			return nil, err
		}
	}
	if req.AvailabilityID != "" {
		if filter.AvailabilityID, err = parseOptionalID("AvailabilityID", &req.AvailabilityID); err != nil {
			return nil, err
		}
	}

	slots, err := s.repo.Slot.Search(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("search slots: %w", err)
	}
	total, err := s.repo.Slot.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count slots: %w", err)
	}

	return response.NewPaginatedResponse(response.SlotsToResponse(slots), req.Page, req.Limit(), total), nil
}

// IsConflict reports whether err means the slot was taken by someone else.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSlotAlreadyBooked) || errors.Is(err, ErrSlotNotAvailable)
}
