package state

import (
	"context"
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errs "defilab/core/errors"
	"defilab/core/events"
)

// Status is the final outcome of an execution unit.
type Status string

const (
	StatusCommitted Status = "committed"
	StatusReverted  Status = "reverted"
)

// Receipt describes the outcome of one execution unit. Events are only
// populated for committed units.
type Receipt struct {
	ID        uuid.UUID      `json:"id"`
	Seq       uint64         `json:"seq"`
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Codespace string         `json:"codespace,omitempty"`
	Code      uint32         `json:"code,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Events    []events.Event `json:"events,omitempty"`
	Writes    int            `json:"writes"`
	Started   time.Time      `json:"started"`
	Duration  time.Duration  `json:"duration"`
}

// Committed reports whether the unit's effects were persisted.
func (r *Receipt) Committed() bool { return r != nil && r.Status == StatusCommitted }

// RevertError is returned by Run when a unit aborts. Every effect of the unit
// has been discarded.
type RevertError struct {
	Receipt *Receipt
	Err     error
}

func (e *RevertError) Error() string {
	if e.Receipt == nil {
		return fmt.Sprintf("unit reverted: %v", e.Err)
	}
	return fmt.Sprintf("unit %d (%s) reverted: %v", e.Receipt.Seq, e.Receipt.Name, e.Err)
}

func (e *RevertError) Unwrap() error { return e.Err }

type entry struct {
	value   []byte
	deleted bool
}

type unit struct {
	id     uuid.UUID
	seq    uint64
	name   string
	writes map[string]entry
	events []events.Event
}

func (u *unit) put(key string, value []byte) {
	u.writes[key] = entry{value: value}
}

func (u *unit) remove(key string) {
	u.writes[key] = entry{deleted: true}
}

func (u *unit) get(key string) ([]byte, bool, bool) {
	e, ok := u.writes[key]
	return e.value, e.deleted, ok
}

// Run executes fn as one atomic execution unit. On success every write made
// through the manager is committed in a single batch and the receipt carries
// the unit's events. If fn returns an error or panics, the overlay is
// discarded and a *RevertError wrapping the cause is returned alongside the
// receipt. A unit cannot start while another is active.
func (m *Manager) Run(ctx context.Context, name string, fn func(ctx context.Context) error) (*Receipt, error) {
	if fn == nil {
		return nil, fmt.Errorf("state: unit body required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !m.gate.TryLock() {
		return nil, errs.ErrUnitInProgress.Wrapf("cannot start %q", name)
	}
	defer m.gate.Unlock()

	m.mu.Lock()
	u := &unit{
		id:     uuid.New(),
		seq:    m.height + 1,
		name:   name,
		writes: make(map[string]entry),
	}
	m.active = u
	m.mu.Unlock()

	started := time.Now()
	ctx, span := m.tracer.Start(ctx, "unit "+name, trace.WithAttributes(
		attribute.String("unit.id", u.id.String()),
		attribute.Int64("unit.seq", int64(u.seq)),
	))
	defer span.End()

	err := m.invoke(ctx, fn)
	if err == nil {
		err = m.commit(u)
	}

	m.mu.Lock()
	m.active = nil
	m.mu.Unlock()

	receipt := &Receipt{
		ID:       u.id,
		Seq:      u.seq,
		Name:     name,
		Writes:   len(u.writes),
		Started:  started.UTC(),
		Duration: time.Since(started),
	}
	if err != nil {
		codespace, code, _ := errorsmod.ABCIInfo(err, false)
		receipt.Status = StatusReverted
		receipt.Codespace = codespace
		receipt.Code = code
		receipt.Reason = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "reverted")
		m.logger.Warn("unit reverted", "unit", name, "seq", u.seq, "reason", receipt.Reason)
	} else {
		receipt.Status = StatusCommitted
		receipt.Events = u.events
		span.SetStatus(codes.Ok, "")
		m.logger.Info("unit committed", "unit", name, "seq", u.seq, "writes", receipt.Writes, "events", len(u.events))
	}
	m.metrics.ObserveUnit(string(receipt.Status))
	if m.onReceipt != nil {
		m.onReceipt(receipt)
	}
	if err != nil {
		return receipt, &RevertError{Receipt: receipt, Err: err}
	}
	return receipt, nil
}

func (m *Manager) invoke(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if perr, ok := r.(error); ok {
				err = fmt.Errorf("unit panicked: %w", perr)
				return
			}
			err = fmt.Errorf("unit panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (m *Manager) commit(u *unit) error {
	encodedHeight, err := rlp.EncodeToBytes(u.seq)
	if err != nil {
		return err
	}
	puts := make(map[string][]byte, len(u.writes)+1)
	deletes := make([][]byte, 0)
	for key, e := range u.writes {
		if e.deleted {
			deletes = append(deletes, []byte(key))
			continue
		}
		puts[key] = e.value
	}
	puts[string(kvKey(heightKey))] = encodedHeight
	if err := m.db.Apply(puts, deletes); err != nil {
		return fmt.Errorf("state: commit unit %d: %w", u.seq, err)
	}
	m.mu.Lock()
	m.height = u.seq
	m.mu.Unlock()
	return nil
}
