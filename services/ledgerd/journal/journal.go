// Package journal persists committed ledger receipts and their events so
// operators can page through history after the fact.
package journal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"reserveledger/core/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultLimit = 100
	maxLimit     = 1000

	sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
)

var (
	// ErrDSNRequired is returned when the backing store location is missing.
	ErrDSNRequired = errors.New("journal: dsn must be configured")
	// ErrUnknownDriver is returned for drivers other than sqlite and postgres.
	ErrUnknownDriver = errors.New("journal: unknown driver")
)

// ReceiptRecord is one committed operation.
type ReceiptRecord struct {
	Seq       uint64        `gorm:"primaryKey;autoIncrement"`
	ID        string        `gorm:"size:36;uniqueIndex"`
	Operation string        `gorm:"size:64;index"`
	Committed time.Time     `gorm:"index"`
	Events    []EventRecord `gorm:"foreignKey:ReceiptID;references:ID;constraint:OnDelete:CASCADE"`
}

// EventRecord is one event of a receipt.
type EventRecord struct {
	ID         uint64            `gorm:"primaryKey;autoIncrement"`
	ReceiptID  string            `gorm:"size:36;index"`
	Position   int               `gorm:"not null"`
	Type       string            `gorm:"size:64;index"`
	Attributes map[string]string `gorm:"serializer:json"`
}

// AutoMigrate performs the journal schema migrations.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ReceiptRecord{}, &EventRecord{})
}

// Entry is a journaled receipt with its sequence number.
type Entry struct {
	Seq     uint64        `json:"seq"`
	Receipt types.Receipt `json:"receipt"`
}

// Query filters List. Zero fields match everything.
type Query struct {
	Operation string
	EventType string
	// After returns entries with a larger sequence number.
	After uint64
	Limit int
}

// Journal writes receipts through gorm.
type Journal struct {
	db *gorm.DB
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// Open connects to the configured driver.
func Open(driver, dsn string) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite:
		resolved, err := SQLiteDSN(trimmed)
		if err != nil {
			return nil, err
		}
		dialector = sqlite.Open(resolved)
	case DriverPostgres:
		dialector = postgres.Open(trimmed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	return New(db)
}

// SQLiteDSN converts a filesystem path into an on-disk SQLite DSN. DSNs
// already in URI or memory form are returned unchanged.
func SQLiteDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrDSNRequired
	}
	if strings.HasPrefix(trimmed, "file:") || strings.HasPrefix(trimmed, ":memory:") {
		return trimmed, nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("journal: resolve path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, sqlitePragmas), nil
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record stores a committed receipt and its events in one transaction.
func (j *Journal) Record(ctx context.Context, receipt types.Receipt) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("journal: not initialised")
	}
	record := ReceiptRecord{
		ID:        receipt.ID,
		Operation: receipt.Operation,
		Committed: receipt.Committed.UTC(),
		Events:    make([]EventRecord, 0, len(receipt.Events)),
	}
	for i, ev := range receipt.Events {
		record.Events = append(record.Events, EventRecord{
			ReceiptID:  receipt.ID,
			Position:   i,
			Type:       ev.Type,
			Attributes: ev.Attributes,
		})
	}
	if err := j.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("journal: record %s: %w", receipt.ID, err)
	}
	return nil
}

// List returns entries in commit order.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal: not initialised")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	query := j.db.WithContext(ctx).
		Preload("Events", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("seq > ?", q.After)
	if op := strings.TrimSpace(q.Operation); op != "" {
		query = query.Where("operation = ?", op)
	}
	if typ := strings.TrimSpace(q.EventType); typ != "" {
		query = query.Where("id IN (?)", j.db.Model(&EventRecord{}).Select("receipt_id").Where("type = ?", typ))
	}
	var records []ReceiptRecord
	if err := query.Order("seq ASC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	out := make([]Entry, 0, len(records))
	for _, record := range records {
		out = append(out, Entry{Seq: record.Seq, Receipt: record.receipt()})
	}
	return out, nil
}

// Get returns the receipt with the given id.
func (j *Journal) Get(ctx context.Context, id string) (Entry, error) {
	var record ReceiptRecord
	err := j.db.WithContext(ctx).
		Preload("Events", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&record, "id = ?", id).Error
	if err != nil {
		return Entry{}, err
	}
	return Entry{Seq: record.Seq, Receipt: record.receipt()}, nil
}

func (r ReceiptRecord) receipt() types.Receipt {
	receipt := types.Receipt{
		ID:        r.ID,
		Operation: r.Operation,
		Committed: r.Committed,
		Events:    make([]types.Event, 0, len(r.Events)),
	}
	for _, ev := range r.Events {
		attrs := ev.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		receipt.Events = append(receipt.Events, types.Event{Type: ev.Type, Attributes: attrs})
	}
	return receipt
}
