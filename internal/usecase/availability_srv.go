package usecase

import (
	"context"
	"fmt"
	"time"

	"clinic-scheduling/internal/data/entity"
	"clinic-scheduling/internal/data/repository"
	"clinic-scheduling/internal/dto/request"
	"clinic-scheduling/internal/dto/response"
	"clinic-scheduling/internal/metrics"
	"clinic-scheduling/internal/scheduling"
	"clinic-scheduling/pkg/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type AvailabilityService interface {
	CreateAvailability(ctx context.Context, actorID uuid.UUID, req *request.CreateAvailabilityRequest) (*response.CreateAvailabilityResponse, error)
	UpdateAvailability(ctx context.Context, id string, scope Scope, req *request.UpdateAvailabilityRequest) (*response.UpdateAvailabilityResponse, error)
	DeleteAvailability(ctx context.Context, id string, scope Scope) (*response.DeleteAvailabilityResponse, error)
	DeleteAvailabilities(ctx context.Context, req *request.DeleteAvailabilitiesRequest) (*response.DeleteAvailabilityResponse, error)

	// Status workflow
	AcceptAvailability(ctx context.Context, id string, scope Scope) (*response.StatusChangeResponse, error)
	RejectAvailability(ctx context.Context, id string, scope Scope) (*response.StatusChangeResponse, error)

	// Read endpoints
	GetAvailability(ctx context.Context, id string) (*response.AvailabilityDetailResponse, error)
	ListProviderAvailabilities(ctx context.Context, providerID string, from, to *time.Time) ([]response.AvailabilityResponse, error)
	ListAvailabilitySlots(ctx context.Context, id string) ([]response.SlotResponse, error)
}

type availabilityService struct {
	repo        *repository.Repository
	horizonDays int
	metrics     *metrics.SchedulingMetrics
	now         func() time.Time
	log         *zap.Logger
}

func NewAvailabilityService(repo *repository.Repository, cfg utils.SchedulingConfig, m *metrics.SchedulingMetrics, log *zap.Logger) AvailabilityService {
	return &availabilityService{
		repo:        repo,
		horizonDays: cfg.HorizonDays,
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log.With(zap.String("service", "availability")),
	}
}

func (s *availabilityService) CreateAvailability(ctx context.Context, actorID uuid.UUID, req *request.CreateAvailabilityRequest) (resp *response.CreateAvailabilityResponse, err error) {
	ctx, span := tracer.Start(ctx, "availability.create")
	defer span.End()
	defer s.metrics.ObserveDuration("availability.create", time.Now())
	defer func() { s.metrics.ObserveLifecycle("create", string(ScopeSingle), resultLabel(err)) }()

	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		s.log.Warn("Create availability validation failed", zap.Any("errors", errs))
		return nil, validationError(errs)
	}

	template, err := s.newTemplate(actorID, req)
	if err != nil {
		return nil, err
	}

	occurrences, err := scheduling.Expand(template.RecurrencePattern, template.StartTime, template.EndTime, s.horizonDays)
	if err != nil {
		return nil, invalidField("EndTime", err.Error())
	}
	if len(occurrences) == 0 {
		return nil, invalidField("RecurrencePattern", "Recurrence ends before the first occurrence")
	}

	now := s.now()
	var seriesID *uuid.UUID
	if template.IsRecurring {
		id := uuid.New()
		seriesID = &id
	}
	availabilities := materialize(template, occurrences, seriesID, now)

	configs, err := newServiceConfigs(template.ProviderID, req.Services, now)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("occurrences", len(availabilities)),
		attribute.String("status", string(template.Status)),
	)

	var gen generation
	err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context, tx *repository.Repository) error {
		gen = generation{}

		if err := tx.Availability.CreateBatch(ctx, availabilities); err != nil {
			return err
		}
		if err := tx.ServiceConfig.CreateBatch(ctx, configs); err != nil {
			return err
		}
		if err := tx.ServiceConfig.Link(ctx, availabilityIDs(availabilities), configIDs(configs)); err != nil {
			return err
		}

		if template.Status != entity.AvailabilityStatusAccepted {
			return nil
		}

		var err error
		gen, err = generateSlots(ctx, tx, availabilities, configs, nil, now, s.log)
		return err
	})
	if err != nil {
		span.RecordError(err)
		s.log.Error("Failed to create availability",
			zap.Error(err),
			zap.String("provider_id", template.ProviderID.String()),
			zap.Int("occurrences", len(availabilities)),
		)
		return nil, retryable(fmt.Errorf("create availability: %w", err))
	}

	s.metrics.AddSlotsGenerated(string(gen.rule), gen.generated)
	s.log.Info("Availability created",
		zap.String("availability_id", availabilities[0].ID.String()),
		zap.String("provider_id", template.ProviderID.String()),
		zap.Int("occurrences", len(availabilities)),
		zap.Int("slots_generated", gen.generated),
		zap.Int("failures", len(gen.failures)),
	)

	return &response.CreateAvailabilityResponse{
		Availability:   response.AvailabilityToResponse(availabilities[0]),
		Occurrences:    response.AvailabilitiesToResponse(availabilities),
		SlotsGenerated: gen.generated,
		Failures:       gen.failures,
		Notices:        gen.notices,
	}, nil
}

// newTemplate turns a create request into the availability every occurrence
// is stamped from.
func (s *availabilityService) newTemplate(actorID uuid.UUID, req *request.CreateAvailabilityRequest) (*entity.Availability, error) {
	providerID, err := parseID("ProviderID", req.ProviderID)
	if err != nil {
		return nil, err
	}
	organizationID, err := parseOptionalID("OrganizationID", req.OrganizationID)
	if err != nil {
		return nil, err
	}
	locationID, err := parseOptionalID("LocationID", req.LocationID)
	if err != nil {
		return nil, err
	}
	connectionID, err := parseOptionalID("ConnectionID", req.ConnectionID)
	if err != nil {
		return nil, err
	}

	pattern, err := parsePattern(req.RecurrencePattern)
	if err != nil {
		return nil, err
	}
	switch {
	case req.IsRecurring && pattern == nil:
		return nil, invalidField("RecurrencePattern", "This field is required for recurring availability")
	case !req.IsRecurring && pattern != nil:
		return nil, invalidField("RecurrencePattern", "Only allowed for recurring availability")
	}

	rule, err := scheduling.ParseSchedulingRule(req.SchedulingRule)
	if err != nil {
		return nil, invalidField("SchedulingRule", err.Error())
	}
	if rule.NeedsInterval() && req.SchedulingInterval == nil {
		return nil, invalidField("SchedulingInterval", "This field is required for FIXED_INTERVAL")
	}

	status := entity.AvailabilityStatusAccepted
	if req.ProposedByOrganization {
		if organizationID == nil {
			return nil, invalidField("OrganizationID", "This field is required for organization proposals")
		}
		status = entity.AvailabilityStatusPending
	}

	if actorID == uuid.Nil {
		actorID = providerID
	}

	return &entity.Availability{
		ProviderID:           providerID,
		OrganizationID:       organizationID,
		LocationID:           locationID,
		ConnectionID:         connectionID,
		StartTime:            req.StartTime.UTC(),
		EndTime:              req.EndTime.UTC(),
		IsRecurring:          req.IsRecurring,
		RecurrencePattern:    pattern,
		SchedulingRule:       rule,
		SchedulingInterval:   req.SchedulingInterval,
		Status:               status,
		IsOnlineAvailable:    req.IsOnlineAvailable,
		RequiresConfirmation: req.RequiresConfirmation,
		Notes:                req.Notes,
		CreatedByID:          actorID,
	}, nil
}

// change is an update request resolved against the edited occurrence.
type change struct {
	start, end   time.Time
	rule         scheduling.SchedulingRule
	interval     *int
	pattern      *scheduling.RecurrencePattern
	services     []request.ServiceConfigRequest
	locationID   *uuid.UUID
	connectionID *uuid.UUID
	online       *bool
	confirmation *bool
	notes        *string

	timeChanged bool
	ruleChanged bool
}

// reshapes reports whether existing slots stop matching the availability.
func (c *change) reshapes() bool {
	return c.timeChanged || c.ruleChanged || c.services != nil || c.pattern != nil
}

func newChange(current *entity.Availability, req *request.UpdateAvailabilityRequest) (*change, error) {
	c := &change{
		start:        current.StartTime,
		end:          current.EndTime,
		rule:         current.SchedulingRule,
		interval:     current.SchedulingInterval,
		services:     req.Services,
		online:       req.IsOnlineAvailable,
		confirmation: req.RequiresConfirmation,
		notes:        req.Notes,
	}

	if req.StartTime != nil {
		c.start = req.StartTime.UTC()
	}
	if req.EndTime != nil {
		c.end = req.EndTime.UTC()
	}
	if !c.end.After(c.start) {
		return nil, invalidField("EndTime", "Must be after StartTime")
	}

	if req.SchedulingRule != nil {
		rule, err := scheduling.ParseSchedulingRule(*req.SchedulingRule)
		if err != nil {
			return nil, invalidField("SchedulingRule", err.Error())
		}
		c.rule = rule
	}
	if req.SchedulingInterval != nil {
		c.interval = req.SchedulingInterval
	}
	if c.rule.NeedsInterval() && c.interval == nil {
		return nil, invalidField("SchedulingInterval", "This field is required for FIXED_INTERVAL")
	}

	pattern, err := parsePattern(req.RecurrencePattern)
	if err != nil {
		return nil, err
	}
	if pattern != nil && !current.IsRecurring {
		return nil, invalidField("RecurrencePattern", "Only allowed for recurring availability")
	}
	c.pattern = pattern

	if c.locationID, err = parseOptionalID("LocationID", req.LocationID); err != nil {
		return nil, err
	}
	if c.connectionID, err = parseOptionalID("ConnectionID", req.ConnectionID); err != nil {
		return nil, err
	}

	c.timeChanged = !c.start.Equal(current.StartTime) || !c.end.Equal(current.EndTime)
	c.ruleChanged = c.rule != current.SchedulingRule || intValue(c.interval) != current.Interval()

	return c, nil
}

// applyMetadata copies the fields that never affect slot shape.
func (c *change) applyMetadata(a *entity.Availability) {
	if c.locationID != nil {
		a.LocationID = c.locationID
	}
	if c.connectionID != nil {
		a.ConnectionID = c.connectionID
	}
	if c.online != nil {
		a.IsOnlineAvailable = *c.online
	}
	if c.confirmation != nil {
		a.RequiresConfirmation = *c.confirmation
	}
	if c.notes != nil {
		a.Notes = c.notes
	}
}

func (s *availabilityService) UpdateAvailability(ctx context.Context, id string, scope Scope, req *request.UpdateAvailabilityRequest) (resp *response.UpdateAvailabilityResponse, err error) {
	ctx, span := tracer.Start(ctx, "availability.update", trace.WithAttributes(attribute.String("scope", string(scope))))
	defer span.End()
	defer s.metrics.ObserveDuration("availability.update", time.Now())
	defer func() { s.metrics.ObserveLifecycle("update", string(scope), resultLabel(err)) }()

	availabilityID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		s.log.Warn("Update availability validation failed", zap.Any("errors", errs))
		return nil, validationError(errs)
	}

	var gen generation
	err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context, tx *repository.Repository) error {
		gen = generation{}

		current, err := tx.Availability.FindByIDForUpdate(ctx, availabilityID)
		if err != nil {
			return err
		}
		if current == nil {
			return notFound("availability", id)
		}
		if current.Status == entity.AvailabilityStatusRejected || current.Status == entity.AvailabilityStatusCancelled {
			return ErrInvalidStatusTransition.Detail("availability %s is %s and cannot be updated", id, current.Status)
		}

		c, err := newChange(current, req)
		if err != nil {
			return err
		}

		if scope == ScopeSingle || current.SeriesID == nil {
			resp, gen, err = s.updateSingle(ctx, tx, current, c)
		} else {
			resp, gen, err = s.updateSeries(ctx, tx, current, scope, c)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		if KindOf(err) == KindInternal {
			s.log.Error("Failed to update availability", zap.Error(err), zap.String("availability_id", id), zap.String("scope", string(scope)))
		}
		return nil, retryable(fmt.Errorf("update availability %s: %w", id, err))
	}

	s.metrics.AddSlotsGenerated(string(gen.rule), gen.generated)
	s.log.Info("Availability updated",
		zap.String("availability_id", id),
		zap.String("scope", string(scope)),
		zap.Int("updated", len(resp.Updated)),
		zap.Bool("regenerated", resp.Regenerated),
		zap.Int("slots_preserved", resp.SlotsPreserved),
	)

	return resp, nil
}

// updateSingle edits one row in place. Booked slots stay, and must still fit
// the edited window.
func (s *availabilityService) updateSingle(ctx context.Context, tx *repository.Repository, current *entity.Availability, c *change) (*response.UpdateAvailabilityResponse, generation, error) {
	var gen generation

	if c.pattern != nil {
		return nil, gen, invalidField("RecurrencePattern", "Changing the recurrence needs scope future or all")
	}

	c.applyMetadata(current)
	current.StartTime, current.EndTime = c.start, c.end
	current.SchedulingRule, current.SchedulingInterval = c.rule, c.interval
	current.UpdatedAt = s.now()

	regenerate := c.reshapes() && current.CanHaveSlots()

	var protected []*entity.CalculatedSlot
	if regenerate {
		var err error
		protected, err = tx.Slot.LockProtected(ctx, []uuid.UUID{current.ID})
		if err != nil {
			return nil, gen, err
		}
		window := scheduling.Occurrence{Start: current.StartTime, End: current.EndTime}
		for _, slot := range protected {
			if !window.Covers(slot.StartTime, slot.EndTime) {
				return nil, gen, ErrBookedSlotsUncovered.Detail("booked slot %s at %s falls outside the new window",
					slot.ID, slot.StartTime.Format(time.RFC3339))
			}
		}
	}

	if err := tx.Availability.Update(ctx, current); err != nil {
		return nil, gen, err
	}
	// old slots go first so replaced configs they reference can be dropped
	if regenerate {
		if _, err := tx.Slot.DeleteUnprotected(ctx, []uuid.UUID{current.ID}); err != nil {
			return nil, gen, err
		}
	}

	configs, err := s.replaceServices(ctx, tx, current, c.services)
	if err != nil {
		return nil, gen, err
	}

	resp := &response.UpdateAvailabilityResponse{
		Scope:   string(ScopeSingle),
		Updated: []response.AvailabilityResponse{response.AvailabilityToResponse(current)},
	}
	if !regenerate {
		return resp, gen, nil
	}

	gen, err = generateSlots(ctx, tx, []*entity.Availability{current}, configs,
		map[uuid.UUID][]*entity.CalculatedSlot{current.ID: protected}, s.now(), s.log)
	if err != nil {
		return nil, gen, err
	}

	resp.Regenerated = true
	resp.SlotsRegenerated = gen.generated
	resp.SlotsPreserved = len(protected)
	resp.Failures = gen.failures
	resp.Notices = gen.notices
	return resp, gen, nil
}

// replaceServices swaps the service set of one availability and returns the
// configs now linked to it. A nil services keeps the current set.
func (s *availabilityService) replaceServices(ctx context.Context, tx *repository.Repository, a *entity.Availability, services []request.ServiceConfigRequest) ([]*entity.ServiceAvailabilityConfig, error) {
	if services == nil {
		return tx.ServiceConfig.FindByAvailabilityID(ctx, a.ID)
	}

	ids := []uuid.UUID{a.ID}
	oldIDs, err := tx.ServiceConfig.FindIDsByAvailabilityIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	configs, err := newServiceConfigs(a.ProviderID, services, s.now())
	if err != nil {
		return nil, err
	}

	if err := tx.ServiceConfig.UnlinkAll(ctx, ids); err != nil {
		return nil, err
	}
	if err := tx.ServiceConfig.CreateBatch(ctx, configs); err != nil {
		return nil, err
	}
	if err := tx.ServiceConfig.Link(ctx, ids, configIDs(configs)); err != nil {
		return nil, err
	}
	// configs still linked elsewhere or referenced by booked slots survive
	if _, err := tx.ServiceConfig.DeleteUnused(ctx, oldIDs); err != nil {
		return nil, err
	}

	return configs, nil
}

// updateSeries replaces the affected siblings with freshly expanded ones.
// Booked slots move onto the new occurrence covering them; if any has no such
// occurrence the whole update is refused.
func (s *availabilityService) updateSeries(ctx context.Context, tx *repository.Repository, current *entity.Availability, scope Scope, c *change) (*response.UpdateAvailabilityResponse, generation, error) {
	var gen generation

	siblings, err := s.affected(ctx, tx, current, scope)
	if err != nil {
		return nil, gen, err
	}
	if len(siblings) == 0 {
		return nil, gen, ErrInvariant.Detail("series %s has no occurrence from %s", *current.SeriesID, current.ID)
	}

	now := s.now()
	resp := &response.UpdateAvailabilityResponse{Scope: string(scope)}

	if !c.reshapes() {
		for _, a := range siblings {
			c.applyMetadata(a)
			a.UpdatedAt = now
			if err := tx.Availability.Update(ctx, a); err != nil {
				return nil, gen, err
			}
		}
		resp.Updated = response.AvailabilitiesToResponse(siblings)
		return resp, gen, nil
	}

	oldIDs := availabilityIDs(siblings)

	// the series keeps its shape relative to the edited occurrence
	delta := c.start.Sub(current.StartTime)
	anchorStart := siblings[0].StartTime.Add(delta)
	anchorEnd := anchorStart.Add(c.end.Sub(c.start))

	pattern := current.RecurrencePattern
	if c.pattern != nil {
		pattern = c.pattern
	}
	horizon := s.horizonDays
	if pattern != nil && pattern.EndDate() == nil {
		// an open-ended series is never extended past its last occurrence
		last := siblings[len(siblings)-1].StartTime.Add(delta)
		days := int(scheduling.DateOf(last).Sub(scheduling.DateOf(anchorStart))/(24*time.Hour)) + 1
		if horizon <= 0 || days < horizon {
			horizon = days
		}
	}
	occurrences, err := scheduling.Expand(pattern, anchorStart, anchorEnd, horizon)
	if err != nil {
		return nil, gen, invalidField("EndTime", err.Error())
	}
	if len(occurrences) == 0 {
		return nil, gen, invalidField("RecurrencePattern", "Update leaves the series without occurrences")
	}

	seriesID := *current.SeriesID
	if scope == ScopeFuture {
		earlier, err := s.truncateEarlier(ctx, tx, current)
		if err != nil {
			return nil, gen, err
		}
		if earlier > 0 {
			seriesID = uuid.New()
		}
	}

	template := *current
	c.applyMetadata(&template)
	template.SchedulingRule, template.SchedulingInterval = c.rule, c.interval
	template.RecurrencePattern = pattern
	replacements := materialize(&template, occurrences, &seriesID, now)

	var protected []*entity.CalculatedSlot
	if current.CanHaveSlots() {
		if protected, err = tx.Slot.LockProtected(ctx, oldIDs); err != nil {
			return nil, gen, err
		}
	}
	placement, uncovered := assignProtected(protected, replacements)
	if len(uncovered) > 0 {
		return nil, gen, ErrBookedSlotsUncovered.Detail("%d booked slots, first at %s, fall outside the updated series",
			len(uncovered), uncovered[0].StartTime.Format(time.RFC3339))
	}

	// every replacement gets the edited occurrence's services, so configs
	// that only other siblings linked become unused
	oldConfigIDs, err := tx.ServiceConfig.FindIDsByAvailabilityIDs(ctx, oldIDs)
	if err != nil {
		return nil, gen, err
	}
	var configs []*entity.ServiceAvailabilityConfig
	if c.services == nil {
		configs, err = tx.ServiceConfig.FindByAvailabilityID(ctx, current.ID)
	} else {
		if configs, err = newServiceConfigs(current.ProviderID, c.services, now); err == nil {
			err = tx.ServiceConfig.CreateBatch(ctx, configs)
		}
	}
	if err != nil {
		return nil, gen, err
	}

	if err := tx.Availability.CreateBatch(ctx, replacements); err != nil {
		return nil, gen, err
	}
	if err := tx.ServiceConfig.Link(ctx, availabilityIDs(replacements), configIDs(configs)); err != nil {
		return nil, gen, err
	}

	kept := make(map[uuid.UUID][]*entity.CalculatedSlot)
	for _, slot := range protected {
		home := placement[slot.ID]
		if err := tx.Slot.Reparent(ctx, slot.ID, home.ID); err != nil {
			return nil, gen, err
		}
		slot.AvailabilityID = home.ID
		kept[home.ID] = append(kept[home.ID], slot)
	}

	if _, err := tx.Slot.DeleteUnprotected(ctx, oldIDs); err != nil {
		return nil, gen, err
	}
	if _, err := tx.Availability.DeleteByIDs(ctx, oldIDs); err != nil {
		return nil, gen, err
	}
	if _, err := tx.ServiceConfig.DeleteUnused(ctx, oldConfigIDs); err != nil {
		return nil, gen, err
	}

	if template.CanHaveSlots() {
		if gen, err = generateSlots(ctx, tx, replacements, configs, kept, now, s.log); err != nil {
			return nil, gen, err
		}
	}

	resp.Updated = response.AvailabilitiesToResponse(replacements)
	resp.Regenerated = true
	resp.SlotsRegenerated = gen.generated
	resp.SlotsPreserved = len(protected)
	resp.Failures = gen.failures
	resp.Notices = gen.notices
	return resp, gen, nil
}

// affected resolves the occurrences a scoped operation touches, under row
// lock, ordered by start time.
func (s *availabilityService) affected(ctx context.Context, tx *repository.Repository, current *entity.Availability, scope Scope) ([]*entity.Availability, error) {
	if scope == ScopeSingle || current.SeriesID == nil {
		return []*entity.Availability{current}, nil
	}

	var from *time.Time
	if scope == ScopeFuture {
		from = &current.StartTime
	}
	return tx.Availability.LockSeries(ctx, *current.SeriesID, from)
}

// truncateEarlier ends the pattern of the occurrences before current on the
// previous day and returns how many there are.
func (s *availabilityService) truncateEarlier(ctx context.Context, tx *repository.Repository, current *entity.Availability) (int, error) {
	series, err := tx.Availability.LockSeries(ctx, *current.SeriesID, nil)
	if err != nil {
		return 0, err
	}

	var earlier []uuid.UUID
	for _, a := range series {
		if a.StartTime.Before(current.StartTime) {
			earlier = append(earlier, a.ID)
		}
	}
	if len(earlier) == 0 || current.RecurrencePattern == nil {
		return len(earlier), nil
	}

	truncated := current.RecurrencePattern.WithEndDate(scheduling.PreviousDay(current.StartTime))
	if err := tx.Availability.UpdatePattern(ctx, earlier, &truncated); err != nil {
		return 0, err
	}
	return len(earlier), nil
}

func (s *availabilityService) DeleteAvailability(ctx context.Context, id string, scope Scope) (resp *response.DeleteAvailabilityResponse, err error) {
	ctx, span := tracer.Start(ctx, "availability.delete", trace.WithAttributes(attribute.String("scope", string(scope))))
	defer span.End()
	defer s.metrics.ObserveDuration("availability.delete", time.Now())
	defer func() { s.metrics.ObserveLifecycle("delete", string(scope), resultLabel(err)) }()

	availabilityID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}

	resp = &response.DeleteAvailabilityResponse{}
	err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context, tx *repository.Repository) error {
		current, err := tx.Availability.FindByIDForUpdate(ctx, availabilityID)
		if err != nil {
			return err
		}
		if current == nil {
			return notFound("availability", id)
		}

		affected, err := s.affected(ctx, tx, current, scope)
		if err != nil {
			return err
		}
		ids := availabilityIDs(affected)

		active, err := tx.Booking.CountActiveByAvailabilityIDs(ctx, ids)
		if err != nil {
			return err
		}
		if active > 0 {
			return ErrActiveBookings.Detail("%d active bookings in the affected availabilities, cancel them first", active)
		}

		linked, err := tx.ServiceConfig.FindIDsByAvailabilityIDs(ctx, ids)
		if err != nil {
			return err
		}

		if scope == ScopeFuture && current.SeriesID != nil {
			if _, err := s.truncateEarlier(ctx, tx, current); err != nil {
				return err
			}
		}

		slots, err := tx.Slot.DeleteByAvailabilityIDs(ctx, ids)
		if err != nil {
			return err
		}
		deleted, err := tx.Availability.DeleteByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if _, err := tx.ServiceConfig.DeleteUnused(ctx, linked); err != nil {
			return err
		}

		resp.DeletedCount, resp.SlotsDeleted = deleted, slots
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if KindOf(err) == KindInternal {
			s.log.Error("Failed to delete availability", zap.Error(err), zap.String("availability_id", id), zap.String("scope", string(scope)))
		}
		return nil, retryable(fmt.Errorf("delete availability %s: %w", id, err))
	}

	s.log.Info("Availability deleted",
		zap.String("availability_id", id),
		zap.String("scope", string(scope)),
		zap.Int64("deleted", resp.DeletedCount),
		zap.Int64("slots_deleted", resp.SlotsDeleted),
	)

	return resp, nil
}

// DeleteAvailabilities deletes each id in its own transaction. Failed ids are
// collected into a *BatchDeleteError returned next to the totals of the ids
// that were deleted.
func (s *availabilityService) DeleteAvailabilities(ctx context.Context, req *request.DeleteAvailabilitiesRequest) (*response.DeleteAvailabilityResponse, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		s.log.Warn("Batch delete validation failed", zap.Any("errors", errs))
		return nil, validationError(errs)
	}

	total := &response.DeleteAvailabilityResponse{}
	batchErr := &BatchDeleteError{Total: len(req.IDs)}

	for _, id := range req.IDs {
		resp, err := s.DeleteAvailability(ctx, id, ScopeSingle)
		if err != nil {
			batchErr.add(id, err)
			continue
		}
		total.DeletedCount += resp.DeletedCount
		total.SlotsDeleted += resp.SlotsDeleted
	}

	if len(batchErr.Failures) > 0 {
		s.log.Warn("Batch delete partially failed",
			zap.Int("failed", len(batchErr.Failures)),
			zap.Int("total", batchErr.Total),
		)
		return total, batchErr
	}

	return total, nil
}

func (s *availabilityService) AcceptAvailability(ctx context.Context, id string, scope Scope) (*response.StatusChangeResponse, error) {
	return s.transition(ctx, "accept", id, scope, entity.AvailabilityStatusAccepted)
}

func (s *availabilityService) RejectAvailability(ctx context.Context, id string, scope Scope) (*response.StatusChangeResponse, error) {
	return s.transition(ctx, "reject", id, scope, entity.AvailabilityStatusRejected)
}

// transition moves PENDING occurrences to target. Siblings in the scope that
// are no longer PENDING are left alone. Accepted occurrences get their slots.
func (s *availabilityService) transition(ctx context.Context, op, id string, scope Scope, target entity.AvailabilityStatus) (resp *response.StatusChangeResponse, err error) {
	ctx, span := tracer.Start(ctx, "availability."+op, trace.WithAttributes(attribute.String("scope", string(scope))))
	defer span.End()
	defer func() { s.metrics.ObserveLifecycle(op, string(scope), resultLabel(err)) }()

	availabilityID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}

	var gen generation
	err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context, tx *repository.Repository) error {
		gen = generation{}

		current, err := tx.Availability.FindByIDForUpdate(ctx, availabilityID)
		if err != nil {
			return err
		}
		if current == nil {
			return notFound("availability", id)
		}
		if current.Status != entity.AvailabilityStatusPending {
			return ErrInvalidStatusTransition.Detail("availability %s is %s, only PENDING can be %sed", id, current.Status, op)
		}

		affected, err := s.affected(ctx, tx, current, scope)
		if err != nil {
			return err
		}

		var pending []*entity.Availability
		for _, a := range affected {
			if a.Status == entity.AvailabilityStatusPending {
				pending = append(pending, a)
			}
		}

		if err := tx.Availability.UpdateStatus(ctx, availabilityIDs(pending), target); err != nil {
			return err
		}
		now := s.now()
		for _, a := range pending {
			a.Status = target
			a.UpdatedAt = now
		}

		resp = &response.StatusChangeResponse{Updated: response.AvailabilitiesToResponse(pending)}
		if target != entity.AvailabilityStatusAccepted {
			return nil
		}

		// single-scope edits may have given occurrences their own services
		for _, a := range pending {
			configs, err := tx.ServiceConfig.FindByAvailabilityID(ctx, a.ID)
			if err != nil {
				return err
			}
			one, err := generateSlots(ctx, tx, []*entity.Availability{a}, configs, nil, now, s.log)
			if err != nil {
				return err
			}
			gen.merge(one)
		}

		resp.SlotsGenerated = gen.generated
		resp.Failures = gen.failures
		resp.Notices = gen.notices
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if KindOf(err) == KindInternal {
			s.log.Error("Failed to change availability status", zap.Error(err), zap.String("availability_id", id), zap.String("op", op))
		}
		return nil, retryable(fmt.Errorf("%s availability %s: %w", op, id, err))
	}

	s.metrics.AddSlotsGenerated(string(gen.rule), gen.generated)
	s.log.Info("Availability status changed",
		zap.String("availability_id", id),
		zap.String("status", string(target)),
		zap.Int("occurrences", len(resp.Updated)),
		zap.Int("slots_generated", gen.generated),
	)

	return resp, nil
}

func (s *availabilityService) GetAvailability(ctx context.Context, id string) (*response.AvailabilityDetailResponse, error) {
	availabilityID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}

	a, err := s.repo.Availability.FindByID(ctx, availabilityID)
	if err != nil {
		return nil, fmt.Errorf("get availability %s: %w", id, err)
	}
	if a == nil {
		return nil, notFound("availability", id)
	}

	configs, err := s.repo.ServiceConfig.FindByAvailabilityID(ctx, availabilityID)
	if err != nil {
		return nil, fmt.Errorf("get service configs of %s: %w", id, err)
	}
	slots, err := s.repo.Slot.FindByAvailabilityIDs(ctx, []uuid.UUID{availabilityID})
	if err != nil {
		return nil, fmt.Errorf("get slots of %s: %w", id, err)
	}

	detail := &response.AvailabilityDetailResponse{
		AvailabilityResponse: response.AvailabilityToResponse(a),
		Services:             make([]response.ServiceConfigResponse, 0, len(configs)),
		SlotsTotal:           len(slots),
	}
	for _, c := range configs {
		detail.Services = append(detail.Services, response.ServiceConfigToResponse(c))
	}
	for _, slot := range slots {
		if slot.Status == entity.SlotStatusBooked {
			detail.SlotsBooked++
		}
	}

	if a.SeriesID != nil {
		series, err := s.repo.Availability.FindSeries(ctx, *a.SeriesID, nil)
		if err != nil {
			return nil, fmt.Errorf("get series of %s: %w", id, err)
		}
		detail.SeriesLength = len(series)
	}

	return detail, nil
}

func (s *availabilityService) ListProviderAvailabilities(ctx context.Context, providerID string, from, to *time.Time) ([]response.AvailabilityResponse, error) {
	id, err := parseID("provider_id", providerID)
	if err != nil {
		return nil, err
	}
	if from != nil && to != nil && !to.After(*from) {
		return nil, invalidField("to", "Must be after from")
	}

	list, err := s.repo.Availability.FindByProvider(ctx, id, from, to)
	if err != nil {
		return nil, fmt.Errorf("list availabilities of provider %s: %w", providerID, err)
	}

	return response.AvailabilitiesToResponse(list), nil
}

func (s *availabilityService) ListAvailabilitySlots(ctx context.Context, id string) ([]response.SlotResponse, error) {
	availabilityID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}

	a, err := s.repo.Availability.FindByID(ctx, availabilityID)
	if err != nil {
		return nil, fmt.Errorf("get availability %s: %w", id, err)
	}
	if a == nil {
		return nil, notFound("availability", id)
	}

	slots, err := s.repo.Slot.FindByAvailabilityIDs(ctx, []uuid.UUID{availabilityID})
	if err != nil {
		return nil, fmt.Errorf("list slots of %s: %w", id, err)
	}

	return response.SlotsToResponse(slots), nil
}

func intValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
