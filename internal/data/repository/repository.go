package repository

import (
	"clinic-scheduling/pkg/database"

	"go.uber.org/zap"
)

// DefaultSlotBatchSize bounds the rows sent in one slot INSERT.
const DefaultSlotBatchSize = 100

// Options tunes transactions and bulk writes.
type Options struct {
	Tx            database.TxOptions
	SlotBatchSize int
}

type Repository struct {
	Availability  AvailabilityRepository
	ServiceConfig ServiceConfigRepository
	Slot          SlotRepository
	Booking       BookingRepository

	// Tx opens a transaction on the pool, or a savepoint when the
	// repository is already bound to a transaction.
	Tx Transactor
}

func NewRepository(db database.PgxIface, opts Options, log *zap.Logger) *Repository {
	if opts.SlotBatchSize <= 0 {
		opts.SlotBatchSize = DefaultSlotBatchSize
	}
	return bind(db, &poolTransactor{db: db, opts: opts, log: log}, opts, log)
}

// bind builds a repository set on top of db, which is either the pool or an
// open transaction.
func bind(db database.DBTX, tx Transactor, opts Options, log *zap.Logger) *Repository {
	return &Repository{
		Availability:  NewAvailabilityRepository(db, log),
		ServiceConfig: NewServiceConfigRepository(db, log),
		Slot:          NewSlotRepository(db, opts.SlotBatchSize, log),
		Booking:       NewBookingRepository(db, log),
		Tx:            tx,
	}
}
