package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clinic-scheduling/internal/data/entity"
	"clinic-scheduling/internal/data/repository"
	"clinic-scheduling/internal/dto/request"
	"clinic-scheduling/internal/dto/response"
	"clinic-scheduling/internal/scheduling"
	"clinic-scheduling/pkg/database"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("clinic-scheduling/usecase")

// Scope selects which occurrences of a series an operation touches.
type Scope string

const (
	ScopeSingle Scope = "single"
	ScopeFuture Scope = "future"
	ScopeAll    Scope = "all"
)

// ParseScope reads a scope name. An empty value means single.
func ParseScope(raw string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ScopeSingle:
		return ScopeSingle, nil
	case ScopeFuture:
		return ScopeFuture, nil
	case ScopeAll:
		return ScopeAll, nil
	default:
		return "", invalidField("scope", "Must be one of: single, future, all")
	}
}

type generation struct {
	rule      scheduling.SchedulingRule
	generated int
	failures  []response.GenerationFailure
	notices   []string
}

func (g *generation) merge(o generation) {
	if g.rule == "" {
		g.rule = o.rule
	}
	g.generated += o.generated
	g.failures = append(g.failures, o.failures...)
	g.notices = append(g.notices, o.notices...)
}

// generateSlots plans and stores the slots of each availability. Every
// occurrence is written in its own savepoint, so one failing occurrence is
// reported and left without slots while the others keep theirs. Planned
// slots overlapping a protected slot of the same availability are skipped.
func generateSlots(
	ctx context.Context,
	tx *repository.Repository,
	availabilities []*entity.Availability,
	configs []*entity.ServiceAvailabilityConfig,
	protected map[uuid.UUID][]*entity.CalculatedSlot,
	now time.Time,
	log *zap.Logger,
) (generation, error) {
	offers := make([]scheduling.ServiceOffer, 0, len(configs))
	for _, c := range configs {
		offers = append(offers, c.Offer())
	}

	var gen generation
	for _, a := range availabilities {
		if !a.CanHaveSlots() {
			return gen, ErrInvariant.Detail("slot generation requested for availability %s in status %s", a.ID, a.Status)
		}
		gen.rule = a.SchedulingRule

		plan := scheduling.Plan(a.Window(), a.SchedulingRule, a.Interval(), offers)
		for _, notice := range plan.Notices {
			gen.notices = append(gen.notices, fmt.Sprintf("%s: %s", a.StartTime.Format(time.RFC3339), notice))
		}
		if len(plan.Errors) > 0 {
			gen.failures = append(gen.failures, response.GenerationFailure{
				AvailabilityID: a.ID.String(),
				StartTime:      a.StartTime,
				Errors:         plan.Errors,
			})
		}

		slots := make([]*entity.CalculatedSlot, 0, len(plan.Slots))
		for _, p := range plan.Slots {
			if overlapsAny(protected[a.ID], p.Start, p.End) {
				continue
			}
			slots = append(slots, entity.NewSlotFromPlan(p, now))
		}
		if len(slots) == 0 {
			continue
		}

		err := tx.Tx.WithinTx(ctx, func(ctx context.Context, sp *repository.Repository) error {
			return sp.Slot.CreateBatch(ctx, slots)
		})
		if err != nil {
			if database.IsRetryable(database.Classify(err)) || ctx.Err() != nil {
				return gen, err
			}
			log.Error("Slot generation failed for occurrence",
				zap.Error(err),
				zap.String("availability_id", a.ID.String()),
				zap.Time("start_time", a.StartTime),
				zap.Int("slots", len(slots)),
			)
			gen.failures = append(gen.failures, response.GenerationFailure{
				AvailabilityID: a.ID.String(),
				StartTime:      a.StartTime,
				Reason:         "storing slots failed",
			})
			continue
		}

		gen.generated += len(slots)
	}

	return gen, nil
}

// assignProtected finds, for every protected slot, the first target that
// fully covers it. Slots no target covers are returned separately.
func assignProtected(protected []*entity.CalculatedSlot, targets []*entity.Availability) (map[uuid.UUID]*entity.Availability, []*entity.CalculatedSlot) {
	placement := make(map[uuid.UUID]*entity.Availability, len(protected))
	var uncovered []*entity.CalculatedSlot

	for _, slot := range protected {
		var home *entity.Availability
		for _, t := range targets {
			occ := scheduling.Occurrence{Start: t.StartTime, End: t.EndTime}
			if occ.Covers(slot.StartTime, slot.EndTime) {
				home = t
				break
			}
		}
		if home == nil {
			uncovered = append(uncovered, slot)
			continue
		}
		placement[slot.ID] = home
	}

	return placement, uncovered
}

func overlapsAny(slots []*entity.CalculatedSlot, start, end time.Time) bool {
	for _, s := range slots {
		if s.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// materialize stamps one availability row per occurrence from a template.
func materialize(template *entity.Availability, occurrences []scheduling.Occurrence, seriesID *uuid.UUID, now time.Time) []*entity.Availability {
	out := make([]*entity.Availability, 0, len(occurrences))
	for _, occ := range occurrences {
		a := *template
		a.Base = entity.NewBase(now)
		a.StartTime = occ.Start
		a.EndTime = occ.End
		a.SeriesID = seriesID
		out = append(out, &a)
	}
	return out
}

func newServiceConfigs(providerID uuid.UUID, services []request.ServiceConfigRequest, now time.Time) ([]*entity.ServiceAvailabilityConfig, error) {
	configs := make([]*entity.ServiceAvailabilityConfig, 0, len(services))
	for i, svc := range services {
		serviceID, err := uuid.Parse(svc.ServiceID)
		if err != nil {
			return nil, invalidField(fmt.Sprintf("Services[%d].ServiceID", i), "Must be a valid UUID")
		}
		configs = append(configs, &entity.ServiceAvailabilityConfig{
			BaseSimple:      entity.BaseSimple{ID: uuid.New(), CreatedAt: now},
			ProviderID:      providerID,
			ServiceID:       serviceID,
			DurationMinutes: svc.DurationMinutes,
			Price:           svc.Price,
		})
	}
	return configs, nil
}

func parsePattern(req *request.RecurrencePatternRequest) (*scheduling.RecurrencePattern, error) {
	if req == nil {
		return nil, nil
	}

	var endDate *time.Time
	if req.EndDate != nil && *req.EndDate != "" {
		d, err := time.Parse(time.DateOnly, *req.EndDate)
		if err != nil {
			return nil, invalidField("RecurrencePattern.EndDate", "Must be a date in YYYY-MM-DD format")
		}
		endDate = &d
	}

	pattern, err := scheduling.NewRecurrencePattern(scheduling.Frequency(req.Frequency), req.CustomWeekdays, endDate)
	if err != nil {
		return nil, invalidField("RecurrencePattern", err.Error())
	}
	return &pattern, nil
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, invalidField(field, "Must be a valid UUID")
	}
	return id, nil
}

func parseOptionalID(field string, raw *string) (*uuid.UUID, error) {
	if raw == nil {
		return nil, nil
	}
	id, err := parseID(field, *raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func availabilityIDs(list []*entity.Availability) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	return ids
}

func configIDs(list []*entity.ServiceAvailabilityConfig) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	return ids
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return KindOf(err).String()
}
