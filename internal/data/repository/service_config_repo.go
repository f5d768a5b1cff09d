package repository

import (
	"context"
	"fmt"

	"clinic-scheduling/internal/data/entity"
	"clinic-scheduling/pkg/database"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ServiceConfigRepository interface {
	CreateBatch(ctx context.Context, configs []*entity.ServiceAvailabilityConfig) error
	FindByAvailabilityID(ctx context.Context, availabilityID uuid.UUID) ([]*entity.ServiceAvailabilityConfig, error)
	FindIDsByAvailabilityIDs(ctx context.Context, availabilityIDs []uuid.UUID) ([]uuid.UUID, error)
	Link(ctx context.Context, availabilityIDs, configIDs []uuid.UUID) error
	UnlinkAll(ctx context.Context, availabilityIDs []uuid.UUID) error
	DeleteUnused(ctx context.Context, configIDs []uuid.UUID) (int64, error)
}

var (
	serviceConfigInsertColumns = []string{"id", "provider_id", "service_id", "duration_minutes", "price", "created_at"}
	serviceLinkInsertColumns   = []string{"availability_id", "service_config_id"}
)

type serviceConfigRepository struct {
	db  database.DBTX
	log *zap.Logger
}

func NewServiceConfigRepository(db database.DBTX, log *zap.Logger) ServiceConfigRepository {
	return &serviceConfigRepository{
		db:  db,
		log: log.With(zap.String("repository", "service_config")),
	}
}

func (r *serviceConfigRepository) CreateBatch(ctx context.Context, configs []*entity.ServiceAvailabilityConfig) error {
	if len(configs) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(configs))
	for _, c := range configs {
		rows = append(rows, []any{c.ID, c.ProviderID, c.ServiceID, c.DurationMinutes, c.Price, c.CreatedAt})
	}

	if err := insertChunked(ctx, r.db, "service_availability_configs", serviceConfigInsertColumns, rows, DefaultSlotBatchSize); err != nil {
		r.log.Error("Failed to create service configs", zap.Error(err), zap.Int("count", len(configs)))
		return fmt.Errorf("create service configs: %w", err)
	}

	return nil
}

func (r *serviceConfigRepository) FindByAvailabilityID(ctx context.Context, availabilityID uuid.UUID) ([]*entity.ServiceAvailabilityConfig, error) {
	query := `
		SELECT c.id, c.provider_id, c.service_id, c.duration_minutes, c.price, c.created_at
		FROM service_availability_configs c
		INNER JOIN availability_service_configs l ON l.service_config_id = c.id
		WHERE l.availability_id = $1
		ORDER BY c.id ASC
	`

	rows, err := r.db.Query(ctx, query, availabilityID)
	if err != nil {
		r.log.Error("Failed to find service configs", zap.Error(err), zap.String("availability_id", availabilityID.String()))
		return nil, fmt.Errorf("find service configs of %s: %w", availabilityID, err)
	}
	defer rows.Close()

	var configs []*entity.ServiceAvailabilityConfig
	for rows.Next() {
		var c entity.ServiceAvailabilityConfig
		if err := rows.Scan(&c.ID, &c.ProviderID, &c.ServiceID, &c.DurationMinutes, &c.Price, &c.CreatedAt); err != nil {
			r.log.Error("Failed to scan service config", zap.Error(err))
			return nil, fmt.Errorf("scan service config: %w", err)
		}
		configs = append(configs, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate service configs: %w", err)
	}

	return configs, nil
}

func (r *serviceConfigRepository) FindIDsByAvailabilityIDs(ctx context.Context, availabilityIDs []uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT service_config_id
		FROM availability_service_configs
		WHERE availability_id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, availabilityIDs)
	if err != nil {
		r.log.Error("Failed to find linked service configs", zap.Error(err), zap.Int("availabilities", len(availabilityIDs)))
		return nil, fmt.Errorf("find linked service configs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan service config id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Link attaches every config to every availability.
func (r *serviceConfigRepository) Link(ctx context.Context, availabilityIDs, configIDs []uuid.UUID) error {
	rows := make([][]any, 0, len(availabilityIDs)*len(configIDs))
	for _, availabilityID := range availabilityIDs {
		for _, configID := range configIDs {
			rows = append(rows, []any{availabilityID, configID})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	if err := insertChunked(ctx, r.db, "availability_service_configs", serviceLinkInsertColumns, rows, DefaultSlotBatchSize*5); err != nil {
		r.log.Error("Failed to link service configs",
			zap.Error(err),
			zap.Int("availabilities", len(availabilityIDs)),
			zap.Int("configs", len(configIDs)),
		)
		return fmt.Errorf("link service configs: %w", err)
	}

	return nil
}

func (r *serviceConfigRepository) UnlinkAll(ctx context.Context, availabilityIDs []uuid.UUID) error {
	query := `DELETE FROM availability_service_configs WHERE availability_id = ANY($1)`

	if _, err := r.db.Exec(ctx, query, availabilityIDs); err != nil {
		r.log.Error("Failed to unlink service configs", zap.Error(err), zap.Int("count", len(availabilityIDs)))
		return fmt.Errorf("unlink service configs: %w", err)
	}

	return nil
}

// DeleteUnused removes configs among configIDs that no availability links and
// no slot references any more.
func (r *serviceConfigRepository) DeleteUnused(ctx context.Context, configIDs []uuid.UUID) (int64, error) {
	if len(configIDs) == 0 {
		return 0, nil
	}

	query := `
		DELETE FROM service_availability_configs c
		WHERE c.id = ANY($1)
		  AND NOT EXISTS (SELECT 1 FROM availability_service_configs l WHERE l.service_config_id = c.id)
		  AND NOT EXISTS (SELECT 1 FROM calculated_slots s WHERE s.service_config_id = c.id)
	`

	result, err := r.db.Exec(ctx, query, configIDs)
	if err != nil {
		r.log.Error("Failed to delete unused service configs", zap.Error(err), zap.Int("count", len(configIDs)))
		return 0, fmt.Errorf("delete unused service configs: %w", err)
	}

	return result.RowsAffected(), nil
}
