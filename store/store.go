// Package store persists orders and their items through gorm.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"restaurant-orders-api/metrics"
	"restaurant-orders-api/models"

	"gorm.io/gorm"
)

var (
	ErrNotFound               = errors.New("order not found")
	ErrDuplicateID            = errors.New("order id already exists")
	ErrConcurrentModification = errors.New("order was modified concurrently")
	ErrDisplayNumberTaken     = errors.New("display number is held by another open order")
)

// MaxCreateAttempts bounds the create loop when another writer claims the
// same display number first.
const MaxCreateAttempts = 5

// Filter narrows a list read.
type Filter struct {
	Since  *time.Time // updated_at strictly after
	Status models.OrderStatus
}

// Snapshot is a consistent view of the dataset: the aggregate fields always
// describe every order, Orders honours the filter.
type Snapshot struct {
	Count        int64
	LatestUpdate *time.Time
	Orders       []models.Order
}

// StatusUpdate carries the fields a transition writes.
type StatusUpdate struct {
	Status      models.OrderStatus
	UpdatedAt   time.Time
	ReadyAt     *time.Time
	CompletedAt *time.Time
}

type Store struct {
	db       *gorm.DB
	now      func() time.Time
	readOpts *sql.TxOptions
}

type Option func(*Store)

// WithClock overrides the time source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithReadTxOptions sets the options of snapshot transactions.
// SQLite only supports the defaults, so this stays nil there.
func WithReadTxOptions(opts *sql.TxOptions) Option {
	return func(s *Store) { s.readOpts = opts }
}

func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the current time in the precision every backend keeps.
func (s *Store) Now() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Create persists order and its items, assigning the display number in the
// same transaction. Status, timestamps and version are reset to their
// initial values.
func (s *Store) Create(ctx context.Context, order *models.Order) error {
	for attempt := 1; ; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var existing int64
			if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Count(&existing).Error; err != nil {
				return fmt.Errorf("check order id: %w", err)
			}
			if existing > 0 {
				return ErrDuplicateID
			}

			number, err := allocateDisplayNumber(tx)
			if err != nil {
				return err
			}

			now := s.Now()
			order.DisplayNumber = number
			order.Status = models.StatusPending
			order.CreatedAt = now
			order.UpdatedAt = now
			order.ReadyAt = nil
			order.CompletedAt = nil
			order.Version = 1
			for i := range order.Items {
				order.Items[i].ID = 0
				order.Items[i].OrderID = order.ID
			}
			return tx.Create(order).Error
		})
		if isDuplicateKey(err) {
			if attempt < MaxCreateAttempts {
				metrics.DisplayNumberRetriesTotal.Inc()
				continue
			}
			return fmt.Errorf("create order %s: %w", order.ID, ErrConcurrentModification)
		}
		if err != nil {
			return err
		}
		metrics.OrdersCreatedTotal.Inc()
		return nil
	}
}

// Get loads one order with its items.
func (s *Store) Get(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", id, err)
	}
	return &order, nil
}

// Snapshot reads the dataset aggregates and the filtered orders, newest
// first, inside one read transaction.
func (s *Store) Snapshot(ctx context.Context, f Filter) (*Snapshot, error) {
	snap := &Snapshot{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Order{}).Count(&snap.Count).Error; err != nil {
			return fmt.Errorf("count orders: %w", err)
		}
		if snap.Count == 0 {
			snap.Orders = []models.Order{}
			return nil
		}

		var latest models.Order
		res := tx.Model(&models.Order{}).Select("updated_at").Order("updated_at desc").Limit(1).Find(&latest)
		if res.Error != nil {
			return fmt.Errorf("latest update: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			ts := latest.UpdatedAt.UTC()
			snap.LatestUpdate = &ts
		}

		q := tx.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") })
		if f.Since != nil {
			q = q.Where("updated_at > ?", f.Since.UTC())
		}
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		snap.Orders = []models.Order{}
		if err := q.Order("created_at desc").Order("display_number desc").Find(&snap.Orders).Error; err != nil {
			return fmt.Errorf("list orders: %w", err)
		}
		return nil
	}, s.readOpts)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// UpdateStatus writes upd only if the stored version still equals
// current.Version. It returns the order as stored after the write.
func (s *Store) UpdateStatus(ctx context.Context, current *models.Order, upd StatusUpdate) (*models.Order, error) {
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND version = ?", current.ID, current.Version).
		Updates(map[string]interface{}{
			"status":       upd.Status,
			"updated_at":   upd.UpdatedAt,
			"ready_at":     upd.ReadyAt,
			"completed_at": upd.CompletedAt,
			"version":      gorm.Expr("version + 1"),
		})
	if isDuplicateKey(res.Error) {
		return nil, ErrDisplayNumberTaken
	}
	if res.Error != nil {
		return nil, fmt.Errorf("update order %s: %w", current.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", current.ID).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("recheck order %s: %w", current.ID, err)
		}
		if n == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrConcurrentModification
	}

	updated := *current
	updated.Status = upd.Status
	updated.UpdatedAt = upd.UpdatedAt
	updated.ReadyAt = upd.ReadyAt
	updated.CompletedAt = upd.CompletedAt
	updated.Version = current.Version + 1
	return &updated, nil
}

// Delete removes an order and its items.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", id).Delete(&models.OrderItem{}).Error; err != nil {
			return fmt.Errorf("delete items of %s: %w", id, err)
		}
		res := tx.Where("id = ?", id).Delete(&models.Order{})
		if res.Error != nil {
			return fmt.Errorf("delete order %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// StatusCounts returns how many orders sit in each status. Every recognized
// status is present in the result.
func (s *Store) StatusCounts(ctx context.Context) (map[models.OrderStatus]int64, error) {
	var rows []struct {
		Status models.OrderStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	counts := make(map[models.OrderStatus]int64, len(models.AllStatuses))
	for _, st := range models.AllStatuses {
		counts[st] = 0
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// isDuplicateKey matches translated gorm errors as well as raw driver
// messages from dialects without an error translator.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}
