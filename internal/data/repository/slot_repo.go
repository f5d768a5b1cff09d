package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clinic-scheduling/internal/data/entity"
	"clinic-scheduling/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type SlotRepository interface {
	CreateBatch(ctx context.Context, slots []*entity.CalculatedSlot) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.CalculatedSlot, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.CalculatedSlot, error)
	FindByAvailabilityIDs(ctx context.Context, availabilityIDs []uuid.UUID) ([]*entity.CalculatedSlot, error)
	Search(ctx context.Context, filter entity.SlotFilter) ([]*entity.CalculatedSlot, error)
	Count(ctx context.Context, filter entity.SlotFilter) (int64, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status entity.SlotStatus) error

	// Claim and regeneration queries
	LockForClaim(ctx context.Context, id uuid.UUID) (*entity.SlotClaim, error)
	LockProtected(ctx context.Context, availabilityIDs []uuid.UUID) ([]*entity.CalculatedSlot, error)
	Reparent(ctx context.Context, slotID, availabilityID uuid.UUID) error
	DeleteUnprotected(ctx context.Context, availabilityIDs []uuid.UUID) (int64, error)
	DeleteByAvailabilityIDs(ctx context.Context, availabilityIDs []uuid.UUID) (int64, error)
}

const slotColumns = `s.id, s.availability_id, s.service_config_id, s.start_time, s.end_time, s.status,
	s.duration_minutes, s.price, s.created_at, s.updated_at`

var slotInsertColumns = []string{
	"id", "availability_id", "service_config_id", "start_time", "end_time", "status",
	"duration_minutes", "price", "created_at", "updated_at",
}

// a slot is protected while it is BOOKED or an active booking points at it
const protectedSlotCondition = `(s.status = 'BOOKED' OR EXISTS (
	SELECT 1 FROM bookings b WHERE b.slot_id = s.id AND b.status <> 'CANCELLED'))`

type slotRepository struct {
	db        database.DBTX
	batchSize int
	log       *zap.Logger
}

func NewSlotRepository(db database.DBTX, batchSize int, log *zap.Logger) SlotRepository {
	if batchSize <= 0 {
		batchSize = DefaultSlotBatchSize
	}
	return &slotRepository{
		db:        db,
		batchSize: batchSize,
		log:       log.With(zap.String("repository", "slot")),
	}
}

func (r *slotRepository) CreateBatch(ctx context.Context, slots []*entity.CalculatedSlot) error {
	if len(slots) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(slots))
	for _, s := range slots {
		rows = append(rows, []any{
			s.ID, s.AvailabilityID, s.ServiceConfigID, s.StartTime, s.EndTime, s.Status,
			s.DurationMinutes, s.Price, s.CreatedAt, s.UpdatedAt,
		})
	}

	if err := insertChunked(ctx, r.db, "calculated_slots", slotInsertColumns, rows, r.batchSize); err != nil {
		r.log.Error("Failed to create slots",
			zap.Error(err),
			zap.Int("count", len(slots)),
			zap.String("availability_id", slots[0].AvailabilityID.String()),
		)
		return fmt.Errorf("create slots: %w", err)
	}

	return nil
}

func (r *slotRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.CalculatedSlot, error) {
	return r.findOne(ctx, `SELECT `+slotColumns+` FROM calculated_slots s WHERE s.id = $1`, id)
}

func (r *slotRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.CalculatedSlot, error) {
	return r.findOne(ctx, `SELECT `+slotColumns+` FROM calculated_slots s WHERE s.id = $1 FOR UPDATE`, id)
}

func (r *slotRepository) findOne(ctx context.Context, query string, id uuid.UUID) (*entity.CalculatedSlot, error) {
	slot, err := scanSlot(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("Failed to find slot", zap.Error(err), zap.String("slot_id", id.String()))
		return nil, fmt.Errorf("find slot %s: %w", id, err)
	}

	return slot, nil
}

func (r *slotRepository) FindByAvailabilityIDs(ctx context.Context, availabilityIDs []uuid.UUID) ([]*entity.CalculatedSlot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM calculated_slots s
		WHERE s.availability_id = ANY($1)
		ORDER BY s.start_time ASC, s.service_config_id ASC
	`

	slots, err := r.query(ctx, query, availabilityIDs)
	if err != nil {
		r.log.Error("Failed to find slots by availability", zap.Error(err), zap.Int("availabilities", len(availabilityIDs)))
		return nil, fmt.Errorf("find slots of %d availabilities: %w", len(availabilityIDs), err)
	}

	return slots, nil
}

func (r *slotRepository) Search(ctx context.Context, filter entity.SlotFilter) ([]*entity.CalculatedSlot, error) {
	where, args := slotFilterClause(filter)
	query := `
		SELECT ` + slotColumns + `
		FROM calculated_slots s
		INNER JOIN availabilities a ON a.id = s.availability_id
		` + where + `
		ORDER BY s.start_time ASC, s.service_config_id ASC`

	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	slots, err := r.query(ctx, query, args...)
	if err != nil {
		r.log.Error("Failed to search slots", zap.Error(err))
		return nil, fmt.Errorf("search slots: %w", err)
	}

	return slots, nil
}

func (r *slotRepository) Count(ctx context.Context, filter entity.SlotFilter) (int64, error) {
	where, args := slotFilterClause(filter)
	query := `
		SELECT COUNT(*)
		FROM calculated_slots s
		INNER JOIN availabilities a ON a.id = s.availability_id
		` + where

	var count int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		r.log.Error("Failed to count slots", zap.Error(err))
		return 0, fmt.Errorf("count slots: %w", err)
	}

	return count, nil
}

func slotFilterClause(filter entity.SlotFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.ProviderID != nil {
		add("a.provider_id = $%d", *filter.ProviderID)
	}
	if filter.AvailabilityID != nil {
		add("s.availability_id = $%d", *filter.AvailabilityID)
	}
	if filter.From != nil {
		add("s.start_time >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("s.start_time < $%d", *filter.To)
	}
	if filter.Status != "" {
		add("s.status = $%d", filter.Status)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (r *slotRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status entity.SlotStatus) error {
	query := `UPDATE calculated_slots SET status = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		r.log.Error("Failed to update slot status",
			zap.Error(err),
			zap.String("slot_id", id.String()),
			zap.String("status", string(status)),
		)
		return fmt.Errorf("update slot %s status: %w", id, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("update slot %s status: %w", id, pgx.ErrNoRows)
	}

	return nil
}

// LockForClaim reads a slot with its availability and any active booking,
// holding the slot row lock until the transaction ends.
func (r *slotRepository) LockForClaim(ctx context.Context, id uuid.UUID) (*entity.SlotClaim, error) {
	query := `
		SELECT ` + slotColumns + `, a.provider_id, a.requires_confirmation, b.id
		FROM calculated_slots s
		INNER JOIN availabilities a ON a.id = s.availability_id
		LEFT JOIN bookings b ON b.slot_id = s.id AND b.status <> 'CANCELLED'
		WHERE s.id = $1
		FOR UPDATE OF s
	`

	var claim entity.SlotClaim
	s := &claim.Slot
	err := r.db.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.AvailabilityID,
		&s.ServiceConfigID,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.DurationMinutes,
		&s.Price,
		&s.CreatedAt,
		&s.UpdatedAt,
		&claim.ProviderID,
		&claim.RequiresConfirmation,
		&claim.ActiveBookingID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.log.Warn("Failed to lock slot for claim", zap.Error(err), zap.String("slot_id", id.String()))
		return nil, fmt.Errorf("lock slot %s: %w", id, err)
	}

	return &claim, nil
}

// LockProtected returns the protected slots of the given availabilities under
// row lock.
func (r *slotRepository) LockProtected(ctx context.Context, availabilityIDs []uuid.UUID) ([]*entity.CalculatedSlot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM calculated_slots s
		WHERE s.availability_id = ANY($1) AND ` + protectedSlotCondition + `
		ORDER BY s.start_time ASC
		FOR UPDATE OF s
	`

	slots, err := r.query(ctx, query, availabilityIDs)
	if err != nil {
		r.log.Error("Failed to lock protected slots", zap.Error(err), zap.Int("availabilities", len(availabilityIDs)))
		return nil, fmt.Errorf("lock protected slots: %w", err)
	}

	return slots, nil
}

// Reparent moves a slot under another availability of the same provider.
func (r *slotRepository) Reparent(ctx context.Context, slotID, availabilityID uuid.UUID) error {
	query := `UPDATE calculated_slots SET availability_id = $2, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, slotID, availabilityID); err != nil {
		r.log.Error("Failed to reparent slot",
			zap.Error(err),
			zap.String("slot_id", slotID.String()),
			zap.String("availability_id", availabilityID.String()),
		)
		return fmt.Errorf("reparent slot %s: %w", slotID, err)
	}

	return nil
}

func (r *slotRepository) DeleteUnprotected(ctx context.Context, availabilityIDs []uuid.UUID) (int64, error) {
	query := `
		DELETE FROM calculated_slots s
		WHERE s.availability_id = ANY($1) AND NOT ` + protectedSlotCondition

	result, err := r.db.Exec(ctx, query, availabilityIDs)
	if err != nil {
		r.log.Error("Failed to delete unprotected slots", zap.Error(err), zap.Int("availabilities", len(availabilityIDs)))
		return 0, fmt.Errorf("delete unprotected slots: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *slotRepository) DeleteByAvailabilityIDs(ctx context.Context, availabilityIDs []uuid.UUID) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM calculated_slots WHERE availability_id = ANY($1)`, availabilityIDs)
	if err != nil {
		r.log.Error("Failed to delete slots", zap.Error(err), zap.Int("availabilities", len(availabilityIDs)))
		return 0, fmt.Errorf("delete slots: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *slotRepository) query(ctx context.Context, query string, args ...any) ([]*entity.CalculatedSlot, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []*entity.CalculatedSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}

	return slots, rows.Err()
}

func scanSlot(row rowScanner) (*entity.CalculatedSlot, error) {
	var s entity.CalculatedSlot
	err := row.Scan(
		&s.ID,
		&s.AvailabilityID,
		&s.ServiceConfigID,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.DurationMinutes,
		&s.Price,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
