package repositories

import (
	"context"
	"database/sql"
	"math"
	"sync"

	"task-market/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MarketStore owns every relation of the marketplace. Transitions go through
// Transact, which applies them one at a time inside a single database
// transaction: either all of a transition's writes commit or none do. View
// runs queries against one committed snapshot.
type MarketStore interface {
	Transact(ctx context.Context, fn func(tx *Tx) error) error
	View(ctx context.Context, fn func(tx *Tx) error) error
	Height(ctx context.Context) (uint64, error)
}

type GormMarketStore struct {
	mu          sync.Mutex
	getDatabase func(ctx context.Context) (*gorm.DB, error)
}

func NewMarketStore(db *gorm.DB) *GormMarketStore {
	return &GormMarketStore{
		getDatabase: createGetDatabase(db),
	}
}

var _ MarketStore = &GormMarketStore{}

// Tx is the view of the store handed to a single transition or query.
type Tx struct {
	db  *gorm.DB
	now uint64
}

// Now returns the logical time of the transition being applied.
func (t *Tx) Now() uint64 {
	return t.now
}

func (s *GormMarketStore) Transact(ctx context.Context, fn func(tx *Tx) error) error {
	db, err := s.getDatabase(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		// The block height row is the write lock shared by every process
		// using this database; it is held until commit or rollback.
		height, err := readCounter(gtx, models.CounterBlockHeight, true)
		if err != nil {
			return err
		}

		next := height + 1
		if height == math.MaxUint64 {
			next = height
		}

		tx := &Tx{db: gtx, now: next}
		if err := fn(tx); err != nil {
			return err
		}

		return writeCounter(gtx, models.CounterBlockHeight, next)
	})
}

func (s *GormMarketStore) View(ctx context.Context, fn func(tx *Tx) error) error {
	db, err := s.getDatabase(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		height, err := readCounter(gtx, models.CounterBlockHeight, false)
		if err != nil {
			return err
		}
		return fn(&Tx{db: gtx, now: height})
	}, snapshotOptions(db)...)
}

// snapshotOptions asks Postgres for a read-only repeatable-read transaction
// so every statement of a view sees the same commit. SQLite transactions
// are already serializable.
func snapshotOptions(db *gorm.DB) []*sql.TxOptions {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	return []*sql.TxOptions{{ReadOnly: true, Isolation: sql.LevelRepeatableRead}}
}

// Height returns the logical time of the last committed transition.
func (s *GormMarketStore) Height(ctx context.Context) (uint64, error) {
	db, err := s.getDatabase(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return readCounter(db.WithContext(ctx), models.CounterBlockHeight, false)
}

// Migrate creates or updates every marketplace table.
func (s *GormMarketStore) Migrate(ctx context.Context) error {
	_, err := s.getDatabase(ctx)
	return err
}

func readCounter(db *gorm.DB, name string, lock bool) (uint64, error) {
	var counter models.Counter
	err := counterQuery(db, name, lock).Find(&counter).Error
	if err != nil {
		return 0, errors.WithStack(err)
	}
	// Counters never exceed 64 bits; the high word is always zero.
	return counter.Value.Lo, nil
}

// counterQuery selects one counter row, locking it FOR UPDATE on Postgres
// when lock is set. SQLite has no row locks and serializes writers itself.
func counterQuery(db *gorm.DB, name string, lock bool) *gorm.DB {
	query := db.Where("name = ?", name).Limit(1)
	if lock && db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return query
}

func writeCounter(db *gorm.DB, name string, value uint64) error {
	counter := models.Counter{Name: name, Value: models.NewU128(value)}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&counter).Error
	return errors.WithStack(err)
}

func createGetDatabase(db *gorm.DB) func(ctx context.Context) (*gorm.DB, error) {
	var (
		migrateOnce sync.Once
		migrateErr  error
	)

	return func(ctx context.Context) (*gorm.DB, error) {
		migrateOnce.Do(func() {
			tables := []any{
				&models.Task{},
				&models.TaskStatusEntry{},
				&models.CreatorStake{},
				&models.BidStake{},
				&models.TaskBidder{},
				&models.TaskReceiver{},
				&models.AccountTask{},
				&models.MarketAccount{},
				&models.TaskSetEntry{},
				&models.Counter{},
				&models.Event{},
				&models.AccountBalance{},
				&models.Account{},
				&models.RefreshToken{},
			}

			if err := db.WithContext(ctx).AutoMigrate(tables...); err != nil {
				migrateErr = errors.WithStack(err)
				return
			}

			// Transact locks this row, so it has to exist before the first
			// transition.
			seed := models.Counter{Name: models.CounterBlockHeight, Value: models.NewU128(0)}
			err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error
			if err != nil {
				migrateErr = errors.WithStack(err)
			}
		})
		if migrateErr != nil {
			return nil, errors.WithStack(migrateErr)
		}

		return db, nil
	}
}
