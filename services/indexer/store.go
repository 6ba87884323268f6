package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"peerescrow/core/events"
	"peerescrow/core/types"
	"peerescrow/native/escrow"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultBuffer = 1024
	maxPageSize   = 500
)

var ErrClosed = errors.New("indexer: store closed")

// Open connects to the index database using the named driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	return db, nil
}

// Store persists escrow events and an order projection. Emit is non-blocking:
// events are queued and written by a background worker.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	queue   chan *types.Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// Option adjusts a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBuffer sets the emit queue capacity.
func WithBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.queue = make(chan *types.Event, n)
		}
	}
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore migrates the schema and starts the background writer.
func NewStore(db *gorm.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
		queue:  make(chan *types.Event, defaultBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *Store) run() {
	defer s.wg.Done()
	for evt := range s.queue {
		if err := s.Record(context.Background(), evt); err != nil {
			s.logger.Error("indexer: record event failed", "type", evt.Type, "error", err)
		}
	}
}

// Emit implements events.Emitter.
func (s *Store) Emit(evt events.Event) {
	materialized := events.Materialize(evt)
	if materialized == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- materialized:
	default:
		s.dropped.Add(1)
		s.logger.Warn("indexer: queue full, dropping event", "type", materialized.Type)
	}
}

// Close drains the queue and stops the worker.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

// Record writes one event and updates the order projection atomically.
func (s *Store) Record(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return nil
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("indexer: encode attributes: %w", err)
	}
	now := s.now().UTC()
	record := EventRecord{
		EventID:    uuid.New(),
		Type:       evt.Type,
		Seller:     evt.Attributes["seller"],
		OrderID:    evt.Attributes["orderId"],
		Buyer:      evt.Attributes["buyer"],
		Attributes: string(attrs),
		CreatedAt:  now,
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		if record.OrderID == "" || record.Seller == "" {
			return nil
		}
		return upsertOrder(tx, evt, now)
	})
}

func upsertOrder(tx *gorm.DB, evt *types.Event, now time.Time) error {
	order := OrderRecord{
		Seller:    evt.Attributes["seller"],
		OrderID:   evt.Attributes["orderId"],
		Buyer:     evt.Attributes["buyer"],
		Asset:     evt.Attributes["asset"],
		Amount:    evt.Attributes["amount"],
		Fee:       evt.Attributes["fee"],
		Status:    evt.Attributes["status"],
		Disputed:  evt.Type == escrow.EventTypeEscrowDisputeOpened,
		Winner:    evt.Attributes["winner"],
		LastEvent: evt.Type,
		CreatedAt: now,
		UpdatedAt: now,
	}
	updates := []string{"buyer", "asset", "amount", "fee", "status", "last_event", "updated_at"}
	if order.Disputed {
		updates = append(updates, "disputed")
	}
	if order.Winner != "" {
		updates = append(updates, "winner")
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "seller"}, {Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&order).Error
}

// Dropped reports how many events were discarded because the queue was full.
func (s *Store) Dropped() uint64 {
	return s.dropped.Load()
}

// OrderHistory returns an order's events in commit order.
func (s *Store) OrderHistory(ctx context.Context, seller, orderID string) ([]EventRecord, error) {
	var out []EventRecord
	err := s.db.WithContext(ctx).
		Where("seller = ? AND order_id = ?", seller, orderID).
		Order("sequence asc").
		Find(&out).Error
	return out, err
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	Type  string
	After uint64
	Limit int
}

// ListEvents pages through the event log.
func (s *Store) ListEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error) {
	query := s.db.WithContext(ctx).Where("sequence > ?", filter.After)
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	var out []EventRecord
	err := query.Order("sequence asc").Limit(pageSize(filter.Limit)).Find(&out).Error
	return out, err
}

// OrdersByParty lists orders where party is the buyer or the seller, most
// recently updated first.
func (s *Store) OrdersByParty(ctx context.Context, party string, limit int) ([]OrderRecord, error) {
	var out []OrderRecord
	err := s.db.WithContext(ctx).
		Where("seller = ? OR buyer = ?", party, party).
		Order("updated_at desc").
		Limit(pageSize(limit)).
		Find(&out).Error
	return out, err
}

// AttributeMap decodes the stored attributes.
func (r EventRecord) AttributeMap() (map[string]string, error) {
	out := map[string]string{}
	if r.Attributes == "" {
		return out, nil
	}
	err := json.Unmarshal([]byte(r.Attributes), &out)
	return out, err
}

func pageSize(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
