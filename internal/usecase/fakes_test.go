package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"clinic-scheduling/internal/data/entity"
	"clinic-scheduling/internal/data/repository"
	"clinic-scheduling/internal/notify"
	"clinic-scheduling/internal/scheduling"
	"clinic-scheduling/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// memStore is an in-memory stand-in for the database. A top-level
// transaction holds mu for its whole run, which gives the same serialization
// the row locks give in postgres. Rollback restores a snapshot.
type memStore struct {
	mu sync.Mutex

	availabilities map[uuid.UUID]entity.Availability
	configs        map[uuid.UUID]entity.ServiceAvailabilityConfig
	links          map[uuid.UUID]map[uuid.UUID]bool
	slots          map[uuid.UUID]entity.CalculatedSlot
	bookings       map[uuid.UUID]entity.Booking

	// txErrors are returned by the next top-level transactions, in order
	txErrors []error
	// slot inserts fail for occurrences starting at these instants
	failSlotsAt []time.Time
	// LockForClaim does not see active bookings, as a read racing an insert
	staleClaimReads bool

	txCount int
}

func newMemStore() *memStore {
	return &memStore{
		availabilities: make(map[uuid.UUID]entity.Availability),
		configs:        make(map[uuid.UUID]entity.ServiceAvailabilityConfig),
		links:          make(map[uuid.UUID]map[uuid.UUID]bool),
		slots:          make(map[uuid.UUID]entity.CalculatedSlot),
		bookings:       make(map[uuid.UUID]entity.Booking),
	}
}

type memSnapshot struct {
	availabilities map[uuid.UUID]entity.Availability
	configs        map[uuid.UUID]entity.ServiceAvailabilityConfig
	links          map[uuid.UUID]map[uuid.UUID]bool
	slots          map[uuid.UUID]entity.CalculatedSlot
	bookings       map[uuid.UUID]entity.Booking
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) snapshot() memSnapshot {
	links := make(map[uuid.UUID]map[uuid.UUID]bool, len(s.links))
	for k, v := range s.links {
		links[k] = copyMap(v)
	}
	return memSnapshot{
		availabilities: copyMap(s.availabilities),
		configs:        copyMap(s.configs),
		links:          links,
		slots:          copyMap(s.slots),
		bookings:       copyMap(s.bookings),
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.availabilities = snap.availabilities
	s.configs = snap.configs
	s.links = snap.links
	s.slots = snap.slots
	s.bookings = snap.bookings
}

// repository returns the pool-level repository set.
func (s *memStore) repository() *repository.Repository {
	return s.bind(false)
}

func (s *memStore) bind(inTx bool) *repository.Repository {
	lock := func() func() {
		if inTx {
			return func() {}
		}
		s.mu.Lock()
		return s.mu.Unlock
	}
	return &repository.Repository{
		Availability:  &memAvailabilityRepo{s: s, lock: lock},
		ServiceConfig: &memServiceConfigRepo{s: s, lock: lock},
		Slot:          &memSlotRepo{s: s, lock: lock},
		Booking:       &memBookingRepo{s: s, lock: lock},
		Tx:            &memTransactor{s: s, inTx: inTx},
	}
}

func (s *memStore) failNextTx(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txErrors = append(s.txErrors, errs...)
}

// locked runs fn under the store lock, for assertions.
func (s *memStore) locked(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *memStore) seriesOf(seriesID uuid.UUID) []entity.Availability {
	var out []entity.Availability
	s.locked(func() {
		for _, a := range s.availabilities {
			if a.SeriesID != nil && *a.SeriesID == seriesID {
				out = append(out, a)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (s *memStore) slotsOf(availabilityID uuid.UUID) []entity.CalculatedSlot {
	var out []entity.CalculatedSlot
	s.locked(func() {
		for _, sl := range s.slots {
			if sl.AvailabilityID == availabilityID {
				out = append(out, sl)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (s *memStore) bookingsOf(slotID uuid.UUID) []entity.Booking {
	var out []entity.Booking
	s.locked(func() {
		for _, b := range s.bookings {
			if b.SlotID != nil && *b.SlotID == slotID {
				out = append(out, b)
			}
		}
	})
	return out
}

func (s *memStore) slotProtected(sl entity.CalculatedSlot) bool {
	if sl.Status == entity.SlotStatusBooked {
		return true
	}
	return s.activeBookingFor(sl.ID) != nil
}

func (s *memStore) activeBookingFor(slotID uuid.UUID) *entity.Booking {
	for _, b := range s.bookings {
		if b.SlotID != nil && *b.SlotID == slotID && b.Status.IsActive() {
			b := b
			return &b
		}
	}
	return nil
}

type memTransactor struct {
	s    *memStore
	inTx bool
}

func (t *memTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx *repository.Repository) error) error {
	if !t.inTx {
		t.s.mu.Lock()
		defer t.s.mu.Unlock()
		t.s.txCount++

		if len(t.s.txErrors) > 0 {
			err := t.s.txErrors[0]
			t.s.txErrors = t.s.txErrors[1:]
			return database.Classify(err)
		}
	}
	if err := ctx.Err(); err != nil {
		return database.Classify(err)
	}

	snap := t.s.snapshot()
	if err := fn(ctx, t.s.bind(true)); err != nil {
		t.s.restore(snap)
		if t.inTx {
			return err
		}
		return database.Classify(err)
	}
	return nil
}

func lockNotAvailable() error {
	return &pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"}
}

func serializationFailure() error {
	return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
}

type memAvailabilityRepo struct {
	s    *memStore
	lock func() func()
}

func (r *memAvailabilityRepo) CreateBatch(_ context.Context, list []*entity.Availability) error {
	defer r.lock()()
	for _, a := range list {
		if _, ok := r.s.availabilities[a.ID]; ok {
			return &pgconn.PgError{Code: "23505", ConstraintName: "availabilities_pkey"}
		}
		if a.IsRecurring && a.SeriesID == nil {
			return &pgconn.PgError{Code: "23514", ConstraintName: "availabilities_series"}
		}
		r.s.availabilities[a.ID] = *a
	}
	return nil
}

func (r *memAvailabilityRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.Availability, error) {
	defer r.lock()()
	a, ok := r.s.availabilities[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *memAvailabilityRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Availability, error) {
	return r.FindByID(ctx, id)
}

func (r *memAvailabilityRepo) FindByProvider(_ context.Context, providerID uuid.UUID, from, to *time.Time) ([]*entity.Availability, error) {
	defer r.lock()()
	var out []*entity.Availability
	for _, a := range r.s.availabilities {
		if a.ProviderID != providerID {
			continue
		}
		if from != nil && !a.EndTime.After(*from) {
			continue
		}
		if to != nil && !a.StartTime.Before(*to) {
			continue
		}
		a := a
		out = append(out, &a)
	}
	sortAvailabilities(out)
	return out, nil
}

func (r *memAvailabilityRepo) Update(_ context.Context, a *entity.Availability) error {
	defer r.lock()()
	if _, ok := r.s.availabilities[a.ID]; !ok {
		return fmt.Errorf("update availability %s: %w", a.ID, pgx.ErrNoRows)
	}
	r.s.availabilities[a.ID] = *a
	return nil
}

func (r *memAvailabilityRepo) UpdateStatus(_ context.Context, ids []uuid.UUID, status entity.AvailabilityStatus) error {
	defer r.lock()()
	for _, id := range ids {
		if a, ok := r.s.availabilities[id]; ok {
			a.Status = status
			r.s.availabilities[id] = a
		}
	}
	return nil
}

func (r *memAvailabilityRepo) UpdatePattern(_ context.Context, ids []uuid.UUID, pattern *scheduling.RecurrencePattern) error {
	defer r.lock()()
	for _, id := range ids {
		if a, ok := r.s.availabilities[id]; ok {
			a.RecurrencePattern = pattern
			r.s.availabilities[id] = a
		}
	}
	return nil
}

func (r *memAvailabilityRepo) DeleteByIDs(_ context.Context, ids []uuid.UUID) (int64, error) {
	defer r.lock()()
	doomed := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
	}
	for _, sl := range r.s.slots {
		if doomed[sl.AvailabilityID] {
			return 0, &pgconn.PgError{Code: "23503", ConstraintName: "calculated_slots_availability_id_fkey"}
		}
	}

	var n int64
	for id := range doomed {
		if _, ok := r.s.availabilities[id]; ok {
			delete(r.s.availabilities, id)
			delete(r.s.links, id)
			n++
		}
	}
	return n, nil
}

func (r *memAvailabilityRepo) FindSeries(_ context.Context, seriesID uuid.UUID, from *time.Time) ([]*entity.Availability, error) {
	defer r.lock()()
	var out []*entity.Availability
	for _, a := range r.s.availabilities {
		if a.SeriesID == nil || *a.SeriesID != seriesID {
			continue
		}
		if from != nil && a.StartTime.Before(*from) {
			continue
		}
		a := a
		out = append(out, &a)
	}
	sortAvailabilities(out)
	return out, nil
}

func (r *memAvailabilityRepo) LockSeries(ctx context.Context, seriesID uuid.UUID, from *time.Time) ([]*entity.Availability, error) {
	return r.FindSeries(ctx, seriesID, from)
}

func sortAvailabilities(list []*entity.Availability) {
	sort.Slice(list, func(i, j int) bool { return list[i].StartTime.Before(list[j].StartTime) })
}

type memServiceConfigRepo struct {
	s    *memStore
	lock func() func()
}

func (r *memServiceConfigRepo) CreateBatch(_ context.Context, configs []*entity.ServiceAvailabilityConfig) error {
	defer r.lock()()
	for _, c := range configs {
		r.s.configs[c.ID] = *c
	}
	return nil
}

func (r *memServiceConfigRepo) FindByAvailabilityID(_ context.Context, availabilityID uuid.UUID) ([]*entity.ServiceAvailabilityConfig, error) {
	defer r.lock()()
	var out []*entity.ServiceAvailabilityConfig
	for id := range r.s.links[availabilityID] {
		c := r.s.configs[id]
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (r *memServiceConfigRepo) FindIDsByAvailabilityIDs(_ context.Context, availabilityIDs []uuid.UUID) ([]uuid.UUID, error) {
	defer r.lock()()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, aid := range availabilityIDs {
		for id := range r.s.links[aid] {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (r *memServiceConfigRepo) Link(_ context.Context, availabilityIDs, configIDs []uuid.UUID) error {
	defer r.lock()()
	for _, aid := range availabilityIDs {
		if _, ok := r.s.availabilities[aid]; !ok {
			return &pgconn.PgError{Code: "23503", ConstraintName: "availability_service_configs_availability_id_fkey"}
		}
		if r.s.links[aid] == nil {
			r.s.links[aid] = make(map[uuid.UUID]bool)
		}
		for _, cid := range configIDs {
			r.s.links[aid][cid] = true
		}
	}
	return nil
}

func (r *memServiceConfigRepo) UnlinkAll(_ context.Context, availabilityIDs []uuid.UUID) error {
	defer r.lock()()
	for _, aid := range availabilityIDs {
		delete(r.s.links, aid)
	}
	return nil
}

func (r *memServiceConfigRepo) DeleteUnused(_ context.Context, configIDs []uuid.UUID) (int64, error) {
	defer r.lock()()
	var n int64
	for _, id := range configIDs {
		used := false
		for _, l := range r.s.links {
			used = used || l[id]
		}
		for _, sl := range r.s.slots {
			used = used || sl.ServiceConfigID == id
		}
		if _, ok := r.s.configs[id]; ok && !used {
			delete(r.s.configs, id)
			n++
		}
	}
	return n, nil
}

type memSlotRepo struct {
	s    *memStore
	lock func() func()
}

func (r *memSlotRepo) CreateBatch(_ context.Context, slots []*entity.CalculatedSlot) error {
	defer r.lock()()
	for _, sl := range slots {
		a, ok := r.s.availabilities[sl.AvailabilityID]
		if !ok {
			return &pgconn.PgError{Code: "23503", ConstraintName: "calculated_slots_availability_id_fkey"}
		}
		for _, at := range r.s.failSlotsAt {
			if at.Equal(a.StartTime) {
				return errors.New("could not extend file: No space left on device")
			}
		}
		if sl.StartTime.Before(a.StartTime) || sl.EndTime.After(a.EndTime) {
			return fmt.Errorf("slot %s outside availability %s", sl.ID, a.ID)
		}
		r.s.slots[sl.ID] = *sl
	}
	return nil
}

func (r *memSlotRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.CalculatedSlot, error) {
	defer r.lock()()
	sl, ok := r.s.slots[id]
	if !ok {
		return nil, nil
	}
	return &sl, nil
}

func (r *memSlotRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.CalculatedSlot, error) {
	return r.FindByID(ctx, id)
}

func (r *memSlotRepo) FindByAvailabilityIDs(_ context.Context, availabilityIDs []uuid.UUID) ([]*entity.CalculatedSlot, error) {
	defer r.lock()()
	want := make(map[uuid.UUID]bool, len(availabilityIDs))
	for _, id := range availabilityIDs {
		want[id] = true
	}
	var out []*entity.CalculatedSlot
	for _, sl := range r.s.slots {
		if want[sl.AvailabilityID] {
			sl := sl
			out = append(out, &sl)
		}
	}
	sortSlots(out)
	return out, nil
}

func (r *memSlotRepo) match(f entity.SlotFilter) []*entity.CalculatedSlot {
	var out []*entity.CalculatedSlot
	for _, sl := range r.s.slots {
		if f.ProviderID != nil && r.s.availabilities[sl.AvailabilityID].ProviderID != *f.ProviderID {
			continue
		}
		if f.AvailabilityID != nil && sl.AvailabilityID != *f.AvailabilityID {
			continue
		}
		if f.From != nil && sl.StartTime.Before(*f.From) {
			continue
		}
		if f.To != nil && !sl.StartTime.Before(*f.To) {
			continue
		}
		if f.Status != "" && sl.Status != f.Status {
			continue
		}
		sl := sl
		out = append(out, &sl)
	}
	sortSlots(out)
	return out
}

func (r *memSlotRepo) Search(_ context.Context, f entity.SlotFilter) ([]*entity.CalculatedSlot, error) {
	defer r.lock()()
	out := r.match(f)
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memSlotRepo) Count(_ context.Context, f entity.SlotFilter) (int64, error) {
	defer r.lock()()
	return int64(len(r.match(f))), nil
}

func (r *memSlotRepo) UpdateStatus(_ context.Context, id uuid.UUID, status entity.SlotStatus) error {
	defer r.lock()()
	sl, ok := r.s.slots[id]
	if !ok {
		return fmt.Errorf("update slot %s status: %w", id, pgx.ErrNoRows)
	}
	sl.Status = status
	r.s.slots[id] = sl
	return nil
}

func (r *memSlotRepo) LockForClaim(_ context.Context, id uuid.UUID) (*entity.SlotClaim, error) {
	defer r.lock()()
	sl, ok := r.s.slots[id]
	if !ok {
		return nil, nil
	}
	a := r.s.availabilities[sl.AvailabilityID]
	claim := &entity.SlotClaim{
		Slot:                 sl,
		ProviderID:           a.ProviderID,
		RequiresConfirmation: a.RequiresConfirmation,
	}
	if b := r.s.activeBookingFor(id); b != nil && !r.s.staleClaimReads {
		claim.ActiveBookingID = &b.ID
	}
	return claim, nil
}

func (r *memSlotRepo) LockProtected(_ context.Context, availabilityIDs []uuid.UUID) ([]*entity.CalculatedSlot, error) {
	defer r.lock()()
	want := make(map[uuid.UUID]bool, len(availabilityIDs))
	for _, id := range availabilityIDs {
		want[id] = true
	}
	var out []*entity.CalculatedSlot
	for _, sl := range r.s.slots {
		if want[sl.AvailabilityID] && r.s.slotProtected(sl) {
			sl := sl
			out = append(out, &sl)
		}
	}
	sortSlots(out)
	return out, nil
}

func (r *memSlotRepo) Reparent(_ context.Context, slotID, availabilityID uuid.UUID) error {
	defer r.lock()()
	sl, ok := r.s.slots[slotID]
	if !ok {
		return fmt.Errorf("reparent slot %s: %w", slotID, pgx.ErrNoRows)
	}
	if _, ok := r.s.availabilities[availabilityID]; !ok {
		return &pgconn.PgError{Code: "23503", ConstraintName: "calculated_slots_availability_id_fkey"}
	}
	sl.AvailabilityID = availabilityID
	r.s.slots[slotID] = sl
	return nil
}

func (r *memSlotRepo) DeleteUnprotected(_ context.Context, availabilityIDs []uuid.UUID) (int64, error) {
	defer r.lock()()
	return r.deleteWhere(availabilityIDs, func(sl entity.CalculatedSlot) bool { return !r.s.slotProtected(sl) }), nil
}

func (r *memSlotRepo) DeleteByAvailabilityIDs(_ context.Context, availabilityIDs []uuid.UUID) (int64, error) {
	defer r.lock()()
	return r.deleteWhere(availabilityIDs, func(entity.CalculatedSlot) bool { return true }), nil
}

// deleteWhere removes matching slots and detaches their bookings, like the
// ON DELETE SET NULL foreign key.
func (r *memSlotRepo) deleteWhere(availabilityIDs []uuid.UUID, keep func(entity.CalculatedSlot) bool) int64 {
	want := make(map[uuid.UUID]bool, len(availabilityIDs))
	for _, id := range availabilityIDs {
		want[id] = true
	}
	var n int64
	for id, sl := range r.s.slots {
		if !want[sl.AvailabilityID] || !keep(sl) {
			continue
		}
		delete(r.s.slots, id)
		for bid, b := range r.s.bookings {
			if b.SlotID != nil && *b.SlotID == id {
				b.SlotID = nil
				r.s.bookings[bid] = b
			}
		}
		n++
	}
	return n
}

func sortSlots(list []*entity.CalculatedSlot) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].StartTime.Equal(list[j].StartTime) {
			return list[i].StartTime.Before(list[j].StartTime)
		}
		return list[i].ServiceConfigID.String() < list[j].ServiceConfigID.String()
	})
}

type memBookingRepo struct {
	s    *memStore
	lock func() func()
}

func (r *memBookingRepo) Create(_ context.Context, b *entity.Booking) error {
	defer r.lock()()
	if b.SlotID != nil && r.s.activeBookingFor(*b.SlotID) != nil && b.Status.IsActive() {
		return &pgconn.PgError{Code: "23505", ConstraintName: repository.ActiveSlotConstraint}
	}
	r.s.bookings[b.ID] = *b
	return nil
}

func (r *memBookingRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.Booking, error) {
	defer r.lock()()
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *memBookingRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	return r.FindByID(ctx, id)
}

func (r *memBookingRepo) FindByReference(_ context.Context, reference string) (*entity.Booking, error) {
	defer r.lock()()
	for _, b := range r.s.bookings {
		if b.Reference == reference {
			return &b, nil
		}
	}
	return nil, nil
}

func (r *memBookingRepo) UpdateStatus(_ context.Context, id uuid.UUID, status entity.BookingStatus) error {
	defer r.lock()()
	b, ok := r.s.bookings[id]
	if !ok {
		return fmt.Errorf("update booking %s status: %w", id, pgx.ErrNoRows)
	}
	b.Status = status
	r.s.bookings[id] = b
	return nil
}

func (r *memBookingRepo) Reassign(_ context.Context, id, slotID uuid.UUID, price float64) error {
	defer r.lock()()
	if other := r.s.activeBookingFor(slotID); other != nil && other.ID != id {
		return &pgconn.PgError{Code: "23505", ConstraintName: repository.ActiveSlotConstraint}
	}
	b := r.s.bookings[id]
	b.SlotID = &slotID
	b.Price = price
	r.s.bookings[id] = b
	return nil
}

func (r *memBookingRepo) CountActiveByAvailabilityIDs(_ context.Context, availabilityIDs []uuid.UUID) (int64, error) {
	defer r.lock()()
	want := make(map[uuid.UUID]bool, len(availabilityIDs))
	for _, id := range availabilityIDs {
		want[id] = true
	}
	var n int64
	for _, b := range r.s.bookings {
		if b.SlotID == nil || !b.Status.IsActive() {
			continue
		}
		if sl, ok := r.s.slots[*b.SlotID]; ok && want[sl.AvailabilityID] {
			n++
		}
	}
	return n, nil
}

func (r *memBookingRepo) HasActiveForSlot(_ context.Context, slotID uuid.UUID) (bool, error) {
	defer r.lock()()
	return r.s.activeBookingFor(slotID) != nil, nil
}

// recordingDispatcher collects dispatched events and can be made to fail.
type recordingDispatcher struct {
	mu            sync.Mutex
	confirmations []uuid.UUID
	providers     []uuid.UUID
	err           error
}

func (d *recordingDispatcher) SendBookingConfirmation(_ context.Context, details notify.BookingDetails) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.confirmations = append(d.confirmations, details.BookingID)
	return d.err
}

func (d *recordingDispatcher) SendProviderNotification(_ context.Context, details notify.BookingDetails) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers = append(d.providers, details.BookingID)
	return d.err
}
