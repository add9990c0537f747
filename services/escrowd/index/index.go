// Package index maintains a queryable read model of escrow orders, projected
// from committed events into a SQL database through gorm.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"p2pescrow/core/events"
	"p2pescrow/crypto"
	"p2pescrow/native/escrow"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// OrderRow is the projected form of an order.
type OrderRow struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement:false"`
	Type            string `gorm:"index;size:8"`
	Status          string `gorm:"index;size:16"`
	Buyer           string `gorm:"index;size:64"`
	Seller          string `gorm:"index;size:64"`
	Amount          string `gorm:"size:80"`
	LPFee           string `gorm:"size:80"`
	CreatedUnix     int64
	AcceptedUnix    int64
	PaymentSentUnix int64
	ClosedUnix      int64
	PendingPayout   bool
	SyncedAt        time.Time
}

// TableName pins the table name independent of the struct name.
func (OrderRow) TableName() string { return "escrow_orders" }

// Source resolves the authoritative order snapshot for an id.
type Source interface {
	GetOrder(id uint64) (*escrow.Order, bool)
	PendingPayouts(id uint64) (*escrow.PendingPayout, bool)
}

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	Status string
	Type   string
	Buyer  string
	Seller string
	Limit  int
	Offset int
}

// Index projects order events into the read model.
type Index struct {
	db     *gorm.DB
	source Source
	logger *slog.Logger
	nowFn  func() time.Time
}

// Dialector picks the gorm driver from the DSN scheme. "postgres://" and
// "postgresql://" use PostgreSQL; "sqlite://path" and "file:" DSNs use the
// pure-Go SQLite driver.
func Dialector(dsn string) (gorm.Dialector, error) {
	trimmed := strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return postgres.Open(trimmed), nil
	case strings.HasPrefix(trimmed, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(trimmed, "sqlite://")), nil
	case strings.HasPrefix(trimmed, "file:"):
		return sqlite.Open(trimmed), nil
	default:
		return nil, fmt.Errorf("index: unsupported dsn %q", dsn)
	}
}

// Open connects to dsn and migrates the schema.
func Open(dsn string, source Source, logger *slog.Logger) (*Index, error) {
	dialector, err := Dialector(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("index: open: %w", err)
	}
	return New(db, source, logger)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, source Source, logger *slog.Logger) (*Index, error) {
	if err := db.AutoMigrate(&OrderRow{}); err != nil {
		return nil, fmt.Errorf("index: migrate: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{db: db, source: source, logger: logger, nowFn: time.Now}, nil
}

// SetSource attaches the order source once the engine exists.
func (i *Index) SetSource(source Source) { i.source = source }

// Close releases the underlying connection pool.
func (i *Index) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter by refreshing the row of the affected order.
func (i *Index) Emit(evt events.Event) {
	scoped, ok := evt.(events.OrderEvent)
	if !ok {
		return
	}
	if err := i.Sync(context.Background(), scoped.OrderRef()); err != nil {
		i.logger.Warn("index sync failed", "orderId", scoped.OrderRef(), "type", evt.EventType(), "error", err)
	}
}

// Sync upserts the current snapshot of order id.
func (i *Index) Sync(ctx context.Context, id uint64) error {
	if i.source == nil {
		return fmt.Errorf("index: no order source")
	}
	order, ok := i.source.GetOrder(id)
	if !ok {
		return nil
	}
	_, pending := i.source.PendingPayouts(id)
	row := i.rowFrom(order, pending)
	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current OrderRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Limit(1).Find(&current).Error
		if err != nil {
			return err
		}
		if current.ID == id && progress(current) > progress(row) {
			i.logger.Debug("index skipped stale snapshot", "orderId", id, "stored", current.Status, "snapshot", row.Status)
			return nil
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	})
}

// progress orders row snapshots of one order. Statuses only move forward, and
// a closed order's pending payout only ever clears, so a lower value is stale.
func progress(row OrderRow) int {
	status, err := escrow.ParseOrderStatus(row.Status)
	if err != nil {
		return 0
	}
	rank := 0
	switch status {
	case escrow.OrderPending:
		rank = 1
	case escrow.OrderAccepted:
		rank = 2
	case escrow.OrderPaymentSent:
		rank = 3
	case escrow.OrderDisputed:
		rank = 4
	case escrow.OrderCompleted, escrow.OrderCancelled:
		rank = 5
	}
	rank *= 2
	if status.Terminal() && !row.PendingPayout {
		rank++
	}
	return rank
}

// Rebuild resyncs every order id up to lastID.
func (i *Index) Rebuild(ctx context.Context, lastID uint64) error {
	for id := uint64(1); id <= lastID; id++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := i.Sync(ctx, id); err != nil {
			return fmt.Errorf("index: rebuild order %d: %w", id, err)
		}
	}
	return nil
}

func (i *Index) rowFrom(order *escrow.Order, pending bool) OrderRow {
	row := OrderRow{
		ID:              order.ID,
		Type:            order.Type.String(),
		Status:          order.Status.String(),
		Buyer:           crypto.FormatAddress(order.Buyer),
		Amount:          "0",
		LPFee:           "0",
		CreatedUnix:     order.CreatedAt,
		AcceptedUnix:    order.AcceptedAt,
		PaymentSentUnix: order.PaymentSentAt,
		ClosedUnix:      order.ClosedAt,
		PendingPayout:   pending,
		SyncedAt:        i.nowFn().UTC(),
	}
	if order.Seller != nil {
		row.Seller = crypto.FormatAddress(*order.Seller)
	}
	if order.Amount != nil {
		row.Amount = order.Amount.Dec()
	}
	if order.LPFee != nil {
		row.LPFee = order.LPFee.Dec()
	}
	return row
}

func normaliseAddress(raw string) (string, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return "", err
	}
	return crypto.FormatAddress(addr), nil
}

func (i *Index) query(ctx context.Context, f Filter) (*gorm.DB, error) {
	q := i.db.WithContext(ctx).Model(&OrderRow{})
	if s := strings.TrimSpace(f.Status); s != "" {
		status, err := escrow.ParseOrderStatus(s)
		if err != nil {
			return nil, err
		}
		q = q.Where("status = ?", status.String())
	}
	if t := strings.TrimSpace(f.Type); t != "" {
		typ, err := escrow.ParseOrderType(t)
		if err != nil {
			return nil, err
		}
		q = q.Where("type = ?", typ.String())
	}
	if b := strings.TrimSpace(f.Buyer); b != "" {
		addr, err := normaliseAddress(b)
		if err != nil {
			return nil, fmt.Errorf("index: buyer: %w", err)
		}
		q = q.Where("buyer = ?", addr)
	}
	if s := strings.TrimSpace(f.Seller); s != "" {
		addr, err := normaliseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("index: seller: %w", err)
		}
		q = q.Where("seller = ?", addr)
	}
	return q.Order("id DESC"), nil
}

// List returns matching rows newest first.
func (i *Index) List(ctx context.Context, f Filter) ([]OrderRow, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	q, err := i.query(ctx, f)
	if err != nil {
		return nil, err
	}
	var rows []OrderRow
	if err := q.Limit(f.Limit).Offset(f.Offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
