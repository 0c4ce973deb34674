// Package receipts persists execution-unit receipts to sqlite through gorm so
// runs can be inspected after the process exits.
package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"defilab/core/events"
	"defilab/core/state"
)

// ErrNotFound is returned when no receipt matches.
var ErrNotFound = errors.New("receipts: not found")

// UnitReceipt is the persisted form of a state.Receipt.
type UnitReceipt struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Seq            uint64    `gorm:"index"`
	Name           string    `gorm:"index"`
	Status         string    `gorm:"index"`
	Codespace      string
	Code           uint32
	Reason         string
	EventsJSON     string
	Writes         int
	DurationMicros int64
	StartedAt      time.Time `gorm:"index"`
	CreatedAt      time.Time
}

// Events decodes the stored events.
func (r UnitReceipt) Events() ([]events.Event, error) {
	if r.EventsJSON == "" {
		return nil, nil
	}
	var out []events.Event
	if err := json.Unmarshal([]byte(r.EventsJSON), &out); err != nil {
		return nil, fmt.Errorf("receipts: decode events of %s: %w", r.ID, err)
	}
	return out, nil
}

// Committed reports whether the unit committed.
func (r UnitReceipt) Committed() bool { return r.Status == string(state.StatusCommitted) }

// Filter narrows List.
type Filter struct {
	Status string
	Name   string
	Limit  int
}

// Store wraps the sqlite database.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the sqlite DSN and migrates the schema. Use
// "file::memory:" for an ephemeral store.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("receipts: dsn required")
	}
	db, err := gorm.Open(sqlite.Open(trimmed), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("receipts: open %s: %w", trimmed, err)
	}
	if err := db.AutoMigrate(&UnitReceipt{}); err != nil {
		return nil, fmt.Errorf("receipts: migrate: %w", err)
	}
	return &Store{db: db, logger: slog.Default()}, nil
}

// SetLogger overrides the logger used by Hook.
func (s *Store) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func fromReceipt(r *state.Receipt) (UnitReceipt, error) {
	row := UnitReceipt{
		ID:             r.ID,
		Seq:            r.Seq,
		Name:           r.Name,
		Status:         string(r.Status),
		Codespace:      r.Codespace,
		Code:           r.Code,
		Reason:         r.Reason,
		Writes:         r.Writes,
		DurationMicros: r.Duration.Microseconds(),
		StartedAt:      r.Started.UTC(),
	}
	if len(r.Events) > 0 {
		raw, err := json.Marshal(r.Events)
		if err != nil {
			return UnitReceipt{}, fmt.Errorf("receipts: encode events: %w", err)
		}
		row.EventsJSON = string(raw)
	}
	return row, nil
}

// Record stores r.
func (s *Store) Record(ctx context.Context, r *state.Receipt) error {
	if r == nil {
		return fmt.Errorf("receipts: nil receipt")
	}
	row, err := fromReceipt(r)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("receipts: insert %s: %w", r.ID, err)
	}
	return nil
}

// Hook returns a state.WithReceiptHook callback. Persistence failures are
// logged and never affect the unit.
func (s *Store) Hook() func(*state.Receipt) {
	return func(r *state.Receipt) {
		if err := s.Record(context.Background(), r); err != nil {
			s.logger.Error("receipt not persisted", "unit", r.Name, "seq", r.Seq, "error", err)
		}
	}
}

// Get loads one receipt by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (UnitReceipt, error) {
	var row UnitReceipt
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return UnitReceipt{}, ErrNotFound
	}
	return row, err
}

// List returns receipts newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]UnitReceipt, error) {
	q := s.db.WithContext(ctx).Model(&UnitReceipt{})
	if status := strings.TrimSpace(f.Status); status != "" {
		q = q.Where("status = ?", strings.ToLower(status))
	}
	if name := strings.TrimSpace(f.Name); name != "" {
		q = q.Where("name = ?", name)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []UnitReceipt
	if err := q.Order("started_at DESC").Order("seq DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("receipts: list: %w", err)
	}
	return rows, nil
}

// CountByStatus tallies receipts per status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := s.db.WithContext(ctx).Model(&UnitReceipt{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("receipts: count: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}
