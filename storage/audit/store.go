// Package audit mirrors committed events into a relational database so
// operators can query and export settlement history.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"deedescrow/core/events"
	"deedescrow/native/escrow"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrUnknownDriver is returned when Open receives an unsupported driver.
	ErrUnknownDriver = errors.New("audit: unknown driver")
	// ErrMissingDSN is returned when Open receives an empty DSN.
	ErrMissingDSN = errors.New("audit: dsn required")
)

// Store writes events into the audit database. It implements events.Emitter.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu  sync.Mutex
	seq uint64
}

// Open connects to the configured database and migrates the audit schema.
func Open(driver, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrMissingDSN
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("audit: nil database")
	}
	if err := db.AutoMigrate(&EventRecord{}, &SettlementRecord{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	store := &Store{db: db, logger: slog.New(slog.NewTextHandler(io.Discard, nil)), nowFn: time.Now}
	var last EventRecord
	if err := db.Order("sequence desc").Limit(1).Find(&last).Error; err != nil {
		return nil, fmt.Errorf("audit: load sequence: %w", err)
	}
	store.seq = last.Sequence
	return store, nil
}

// SetLogger configures the logger used to report write failures.
func (s *Store) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Failures are logged and never propagate
// back into the state transition that produced the event.
func (s *Store) Emit(evt events.Event) {
	if err := s.Record(evt); err != nil {
		s.logger.Error("audit write failed", slog.String("event", eventType(evt)), slog.Any("error", err))
	}
}

// Record persists a single event and, for terminal escrow events, its
// settlement row.
func (s *Store) Record(evt events.Event) error {
	rendered := events.ToTypes(evt)
	if rendered == nil {
		return nil
	}
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return fmt.Errorf("audit: encode attributes: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn().UTC()
	record := EventRecord{
		ID:         uuid.New(),
		Sequence:   s.seq + 1,
		Type:       rendered.Type,
		AssetID:    parseUint(rendered.Attributes["assetId"]),
		Round:      parseUint(rendered.Attributes["round"]),
		Attributes: string(attrs),
		CreatedAt:  now,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		if !isSettlement(rendered.Type) {
			return nil
		}
		row := settlementFromAttributes(rendered.Attributes, now)
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("audit: persist %s: %w", rendered.Type, err)
	}
	s.seq = record.Sequence
	return nil
}

// Filter narrows event queries.
type Filter struct {
	Type    string
	AssetID *uint64
	Limit   int
}

const defaultLimit = 100

// Events returns recorded events in commit order.
func (s *Store) Events(filter Filter) ([]EventRecord, error) {
	q := s.db.Model(&EventRecord{}).Order("sequence asc")
	if t := strings.TrimSpace(filter.Type); t != "" {
		q = q.Where("type = ?", t)
	}
	if filter.AssetID != nil {
		q = q.Where("asset_id = ?", *filter.AssetID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	var out []EventRecord
	if err := q.Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	return out, nil
}

// Settlements returns settlement rows ordered by asset and round.
func (s *Store) Settlements() ([]SettlementRecord, error) {
	var out []SettlementRecord
	if err := s.db.Order("asset_id asc, round asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("audit: query settlements: %w", err)
	}
	return out, nil
}

func isSettlement(eventType string) bool {
	return eventType == escrow.EventTypeSaleFinalized || eventType == escrow.EventTypeSaleCancelled
}

func settlementFromAttributes(attrs map[string]string, now time.Time) SettlementRecord {
	passed, _ := strconv.ParseBool(attrs["inspectionPassed"])
	return SettlementRecord{
		ID:               uuid.New(),
		AssetID:          parseUint(attrs["assetId"]),
		Round:            parseUint(attrs["round"]),
		Outcome:          attrs["outcome"],
		Caller:           attrs["caller"],
		Buyer:            attrs["buyer"],
		PurchasePrice:    attrs["purchasePrice"],
		Earnest:          attrs["earnest"],
		Loan:             attrs["loan"],
		InspectionPassed: passed,
		AssetRecipient:   attrs["assetRecipient"],
		Hash:             attrs["hash"],
		CreatedAt:        now,
	}
}

func parseUint(v string) uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func eventType(evt events.Event) string {
	if evt == nil {
		return ""
	}
	return evt.EventType()
}
