package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinic-scheduling/internal/data/entity"
	"clinic-scheduling/internal/scheduling"
	"clinic-scheduling/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type AvailabilityRepository interface {
	CreateBatch(ctx context.Context, availabilities []*entity.Availability) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Availability, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Availability, error)
	FindByProvider(ctx context.Context, providerID uuid.UUID, from, to *time.Time) ([]*entity.Availability, error)
	Update(ctx context.Context, availability *entity.Availability) error
	UpdateStatus(ctx context.Context, ids []uuid.UUID, status entity.AvailabilityStatus) error
	UpdatePattern(ctx context.Context, ids []uuid.UUID, pattern *scheduling.RecurrencePattern) error
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)

	// Series queries
	FindSeries(ctx context.Context, seriesID uuid.UUID, from *time.Time) ([]*entity.Availability, error)
	LockSeries(ctx context.Context, seriesID uuid.UUID, from *time.Time) ([]*entity.Availability, error)
}

const availabilityColumns = `id, provider_id, organization_id, location_id, connection_id, start_time, end_time,
	is_recurring, recurrence_pattern, series_id, scheduling_rule, scheduling_interval, status,
	is_online_available, requires_confirmation, notes, created_by_id, created_at, updated_at`

var availabilityInsertColumns = []string{
	"id", "provider_id", "organization_id", "location_id", "connection_id", "start_time", "end_time",
	"is_recurring", "recurrence_pattern", "series_id", "scheduling_rule", "scheduling_interval", "status",
	"is_online_available", "requires_confirmation", "notes", "created_by_id", "created_at", "updated_at",
}

type availabilityRepository struct {
	db  database.DBTX
	log *zap.Logger
}

func NewAvailabilityRepository(db database.DBTX, log *zap.Logger) AvailabilityRepository {
	return &availabilityRepository{
		db:  db,
		log: log.With(zap.String("repository", "availability")),
	}
}

func (r *availabilityRepository) CreateBatch(ctx context.Context, availabilities []*entity.Availability) error {
	if len(availabilities) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(availabilities))
	for _, a := range availabilities {
		pattern, err := encodePattern(a.RecurrencePattern)
		if err != nil {
			return err
		}
		rows = append(rows, []any{
			a.ID, a.ProviderID, a.OrganizationID, a.LocationID, a.ConnectionID, a.StartTime, a.EndTime,
			a.IsRecurring, pattern, a.SeriesID, a.SchedulingRule, a.SchedulingInterval, a.Status,
			a.IsOnlineAvailable, a.RequiresConfirmation, a.Notes, a.CreatedByID, a.CreatedAt, a.UpdatedAt,
		})
	}

	// a year of daily occurrences fits in a handful of statements
	if err := insertChunked(ctx, r.db, "availabilities", availabilityInsertColumns, rows, DefaultSlotBatchSize); err != nil {
		r.log.Error("Failed to create availabilities",
			zap.Error(err),
			zap.Int("count", len(availabilities)),
			zap.String("provider_id", availabilities[0].ProviderID.String()),
		)
		return fmt.Errorf("create availabilities: %w", err)
	}

	return nil
}

func (r *availabilityRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Availability, error) {
	return r.findOne(ctx, `SELECT `+availabilityColumns+` FROM availabilities WHERE id = $1`, id)
}

func (r *availabilityRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Availability, error) {
	return r.findOne(ctx, `SELECT `+availabilityColumns+` FROM availabilities WHERE id = $1 FOR UPDATE`, id)
}

func (r *availabilityRepository) findOne(ctx context.Context, query string, id uuid.UUID) (*entity.Availability, error) {
	availability, err := scanAvailability(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("Failed to find availability", zap.Error(err), zap.String("availability_id", id.String()))
		return nil, fmt.Errorf("find availability %s: %w", id, err)
	}

	return availability, nil
}

func (r *availabilityRepository) FindByProvider(ctx context.Context, providerID uuid.UUID, from, to *time.Time) ([]*entity.Availability, error) {
	query := `
		SELECT ` + availabilityColumns + `
		FROM availabilities
		WHERE provider_id = $1
		  AND ($2::timestamptz IS NULL OR end_time > $2)
		  AND ($3::timestamptz IS NULL OR start_time < $3)
		ORDER BY start_time ASC
	`

	availabilities, err := r.query(ctx, query, providerID, from, to)
	if err != nil {
		r.log.Error("Failed to find availabilities by provider", zap.Error(err), zap.String("provider_id", providerID.String()))
		return nil, fmt.Errorf("find availabilities of provider %s: %w", providerID, err)
	}

	return availabilities, nil
}

func (r *availabilityRepository) FindSeries(ctx context.Context, seriesID uuid.UUID, from *time.Time) ([]*entity.Availability, error) {
	return r.series(ctx, seriesID, from, "")
}

// LockSeries reads the series rows with a row lock so concurrent series edits
// serialize.
func (r *availabilityRepository) LockSeries(ctx context.Context, seriesID uuid.UUID, from *time.Time) ([]*entity.Availability, error) {
	return r.series(ctx, seriesID, from, " FOR UPDATE")
}

func (r *availabilityRepository) series(ctx context.Context, seriesID uuid.UUID, from *time.Time, lock string) ([]*entity.Availability, error) {
	query := `
		SELECT ` + availabilityColumns + `
		FROM availabilities
		WHERE series_id = $1
		  AND ($2::timestamptz IS NULL OR start_time >= $2)
		ORDER BY start_time ASC` + lock

	availabilities, err := r.query(ctx, query, seriesID, from)
	if err != nil {
		r.log.Error("Failed to find series", zap.Error(err), zap.String("series_id", seriesID.String()))
		return nil, fmt.Errorf("find series %s: %w", seriesID, err)
	}

	return availabilities, nil
}

func (r *availabilityRepository) query(ctx context.Context, query string, args ...any) ([]*entity.Availability, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var availabilities []*entity.Availability
	for rows.Next() {
		availability, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		availabilities = append(availabilities, availability)
	}

	return availabilities, rows.Err()
}

func (r *availabilityRepository) Update(ctx context.Context, a *entity.Availability) error {
	query := `
		UPDATE availabilities
		SET location_id = $2, connection_id = $3, start_time = $4, end_time = $5,
		    is_recurring = $6, recurrence_pattern = $7, series_id = $8,
		    scheduling_rule = $9, scheduling_interval = $10, status = $11,
		    is_online_available = $12, requires_confirmation = $13, notes = $14,
		    updated_at = $15
		WHERE id = $1
	`

	pattern, err := encodePattern(a.RecurrencePattern)
	if err != nil {
		return err
	}

	result, err := r.db.Exec(ctx, query,
		a.ID,
		a.LocationID,
		a.ConnectionID,
		a.StartTime,
		a.EndTime,
		a.IsRecurring,
		pattern,
		a.SeriesID,
		a.SchedulingRule,
		a.SchedulingInterval,
		a.Status,
		a.IsOnlineAvailable,
		a.RequiresConfirmation,
		a.Notes,
		a.UpdatedAt,
	)
	if err != nil {
		r.log.Error("Failed to update availability", zap.Error(err), zap.String("availability_id", a.ID.String()))
		return fmt.Errorf("update availability %s: %w", a.ID, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("update availability %s: %w", a.ID, pgx.ErrNoRows)
	}

	return nil
}

func (r *availabilityRepository) UpdateStatus(ctx context.Context, ids []uuid.UUID, status entity.AvailabilityStatus) error {
	query := `UPDATE availabilities SET status = $2, updated_at = NOW() WHERE id = ANY($1)`

	if _, err := r.db.Exec(ctx, query, ids, status); err != nil {
		r.log.Error("Failed to update availability status",
			zap.Error(err),
			zap.Int("count", len(ids)),
			zap.String("status", string(status)),
		)
		return fmt.Errorf("update status of %d availabilities: %w", len(ids), err)
	}

	return nil
}

func (r *availabilityRepository) UpdatePattern(ctx context.Context, ids []uuid.UUID, pattern *scheduling.RecurrencePattern) error {
	query := `UPDATE availabilities SET recurrence_pattern = $2, updated_at = NOW() WHERE id = ANY($1)`

	encoded, err := encodePattern(pattern)
	if err != nil {
		return err
	}

	if _, err := r.db.Exec(ctx, query, ids, encoded); err != nil {
		r.log.Error("Failed to update recurrence pattern", zap.Error(err), zap.Int("count", len(ids)))
		return fmt.Errorf("update pattern of %d availabilities: %w", len(ids), err)
	}

	return nil
}

func (r *availabilityRepository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM availabilities WHERE id = ANY($1)`, ids)
	if err != nil {
		r.log.Error("Failed to delete availabilities", zap.Error(err), zap.Int("count", len(ids)))
		return 0, fmt.Errorf("delete %d availabilities: %w", len(ids), err)
	}

	return result.RowsAffected(), nil
}

func scanAvailability(row rowScanner) (*entity.Availability, error) {
	var (
		a       entity.Availability
		pattern []byte
	)

	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.OrganizationID,
		&a.LocationID,
		&a.ConnectionID,
		&a.StartTime,
		&a.EndTime,
		&a.IsRecurring,
		&pattern,
		&a.SeriesID,
		&a.SchedulingRule,
		&a.SchedulingInterval,
		&a.Status,
		&a.IsOnlineAvailable,
		&a.RequiresConfirmation,
		&a.Notes,
		&a.CreatedByID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(pattern) > 0 {
		var p scheduling.RecurrencePattern
		if err := json.Unmarshal(pattern, &p); err != nil {
			return nil, fmt.Errorf("decode recurrence pattern of %s: %w", a.ID, err)
		}
		a.RecurrencePattern = &p
	}

	return &a, nil
}

// encodePattern returns nil for a missing pattern so the column stays NULL.
func encodePattern(p *scheduling.RecurrencePattern) (any, error) {
	if p == nil {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode recurrence pattern: %w", err)
	}
	return raw, nil
}
