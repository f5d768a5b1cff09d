package repository

import (
	"context"
	"errors"
	"fmt"

	"clinic-scheduling/internal/data/entity"
	"clinic-scheduling/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ActiveSlotConstraint is the partial unique index allowing one active booking
// per slot.
const ActiveSlotConstraint = "uq_bookings_active_slot"

type BookingRepository interface {
	Create(ctx context.Context, booking *entity.Booking) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Booking, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Booking, error)
	FindByReference(ctx context.Context, reference string) (*entity.Booking, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status entity.BookingStatus) error
	Reassign(ctx context.Context, id, slotID uuid.UUID, price float64) error

	// Business queries
	CountActiveByAvailabilityIDs(ctx context.Context, availabilityIDs []uuid.UUID) (int64, error)
	HasActiveForSlot(ctx context.Context, slotID uuid.UUID) (bool, error)
}

const bookingColumns = `id, reference, slot_id, provider_id, client_id, guest_name, guest_email, guest_phone,
	price, status, notes, created_at, updated_at`

type bookingRepository struct {
	db  database.DBTX
	log *zap.Logger
}

func NewBookingRepository(db database.DBTX, log *zap.Logger) BookingRepository {
	return &bookingRepository{
		db:  db,
		log: log.With(zap.String("repository", "booking")),
	}
}

func (r *bookingRepository) Create(ctx context.Context, booking *entity.Booking) error {
	query := `
		INSERT INTO bookings (id, reference, slot_id, provider_id, client_id, guest_name, guest_email, guest_phone,
			price, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.Exec(ctx, query,
		booking.ID,
		booking.Reference,
		booking.SlotID,
		booking.ProviderID,
		booking.ClientID,
		booking.GuestName,
		booking.GuestEmail,
		booking.GuestPhone,
		booking.Price,
		booking.Status,
		booking.Notes,
		booking.CreatedAt,
		booking.UpdatedAt,
	)

	if err != nil {
		// losing the active-slot race is expected under contention
		if database.IsUniqueViolation(err, ActiveSlotConstraint) {
			r.log.Debug("Active booking already exists for slot", zap.String("reference", booking.Reference))
		} else {
			r.log.Error("Failed to create booking",
				zap.Error(err),
				zap.String("reference", booking.Reference),
				zap.String("provider_id", booking.ProviderID.String()),
			)
		}
		return fmt.Errorf("create booking %s: %w", booking.Reference, err)
	}

	return nil
}

func (r *bookingRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	return r.findOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id.String(), id)
}

func (r *bookingRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	return r.findOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id.String(), id)
}

func (r *bookingRepository) FindByReference(ctx context.Context, reference string) (*entity.Booking, error) {
	return r.findOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE reference = $1`, reference, reference)
}

func (r *bookingRepository) findOne(ctx context.Context, query, key string, arg any) (*entity.Booking, error) {
	var b entity.Booking
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&b.ID,
		&b.Reference,
		&b.SlotID,
		&b.ProviderID,
		&b.ClientID,
		&b.GuestName,
		&b.GuestEmail,
		&b.GuestPhone,
		&b.Price,
		&b.Status,
		&b.Notes,
		&b.CreatedAt,
		&b.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("Failed to find booking", zap.Error(err), zap.String("booking", key))
		return nil, fmt.Errorf("find booking %s: %w", key, err)
	}

	return &b, nil
}

func (r *bookingRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status entity.BookingStatus) error {
	query := `UPDATE bookings SET status = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		r.log.Error("Failed to update booking status",
			zap.Error(err),
			zap.String("booking_id", id.String()),
			zap.String("status", string(status)),
		)
		return fmt.Errorf("update booking %s status: %w", id, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("update booking %s status: %w", id, pgx.ErrNoRows)
	}

	return nil
}

// Reassign points a booking at another slot and takes that slot's price.
func (r *bookingRepository) Reassign(ctx context.Context, id, slotID uuid.UUID, price float64) error {
	query := `UPDATE bookings SET slot_id = $2, price = $3, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, id, slotID, price); err != nil {
		r.log.Error("Failed to reassign booking",
			zap.Error(err),
			zap.String("booking_id", id.String()),
			zap.String("slot_id", slotID.String()),
		)
		return fmt.Errorf("reassign booking %s: %w", id, err)
	}

	return nil
}

func (r *bookingRepository) CountActiveByAvailabilityIDs(ctx context.Context, availabilityIDs []uuid.UUID) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM bookings b
		INNER JOIN calculated_slots s ON s.id = b.slot_id
		WHERE s.availability_id = ANY($1) AND b.status <> 'CANCELLED'
	`

	var count int64
	if err := r.db.QueryRow(ctx, query, availabilityIDs).Scan(&count); err != nil {
		r.log.Error("Failed to count active bookings", zap.Error(err), zap.Int("availabilities", len(availabilityIDs)))
		return 0, fmt.Errorf("count active bookings: %w", err)
	}

	return count, nil
}

func (r *bookingRepository) HasActiveForSlot(ctx context.Context, slotID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM bookings WHERE slot_id = $1 AND status <> 'CANCELLED')`

	var exists bool
	if err := r.db.QueryRow(ctx, query, slotID).Scan(&exists); err != nil {
		r.log.Error("Failed to check active booking", zap.Error(err), zap.String("slot_id", slotID.String()))
		return false, fmt.Errorf("check active booking of slot %s: %w", slotID, err)
	}

	return exists, nil
}
