package state

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"go.opentelemetry.io/otel/trace"

	errs "defilab/core/errors"
	"defilab/core/events"
	"defilab/observability/metrics"
	labotel "defilab/observability/otel"
	"defilab/storage"
)

var heightKey = []byte("state/height")

// Manager owns all lab state. Committed values live in a storage.Database;
// writes made inside an execution unit are held in an overlay until the unit
// commits or reverts.
type Manager struct {
	db storage.Database

	// gate admits a single unit at a time. It is only ever acquired with
	// TryLock.
	gate sync.Mutex

	mu     sync.RWMutex
	height uint64
	active *unit

	logger    *slog.Logger
	metrics   *metrics.LabMetrics
	tracer    trace.Tracer
	onReceipt func(*Receipt)
}

// Option customises a Manager.
type Option func(*Manager)

// WithLogger routes unit lifecycle logs to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records unit outcomes on the supplied registry.
func WithMetrics(reg *metrics.LabMetrics) Option {
	return func(m *Manager) { m.metrics = reg }
}

// WithTracer overrides the tracer used for per-unit spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// WithReceiptHook invokes hook with every receipt, committed or reverted.
func WithReceiptHook(hook func(*Receipt)) Option {
	return func(m *Manager) { m.onReceipt = hook }
}

// NewManager opens a manager over db, resuming from the persisted height.
func NewManager(db storage.Database, opts ...Option) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database required")
	}
	m := &Manager{
		db:     db,
		logger: slog.Default(),
		tracer: labotel.Tracer("state"),
	}
	for _, opt := range opts {
		opt(m)
	}
	raw, err := db.Get(kvKey(heightKey))
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("state: load height: %w", err)
	default:
		if err := rlp.DecodeBytes(raw, &m.height); err != nil {
			return nil, fmt.Errorf("state: decode height: %w", err)
		}
	}
	return m, nil
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Height returns the sequence number of the last committed unit.
func (m *Manager) Height() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.height
}

// CurrentUnit returns the sequence of the active unit, or the sequence the next
// unit will receive when none is active.
func (m *Manager) CurrentUnit() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active != nil {
		return m.active.seq
	}
	return m.height + 1
}

// InUnit reports whether an execution unit is active.
func (m *Manager) InUnit() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active != nil
}

// KVPut stores the RLP encoding of value under key in the active unit.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return errs.ErrNoActiveUnit.Wrapf("write %q", key)
	}
	m.active.put(string(kvKey(key)), encoded)
	return nil
}

// KVDelete removes key in the active unit.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return errs.ErrNoActiveUnit.Wrapf("delete %q", key)
	}
	m.active.remove(string(kvKey(key)))
	return nil
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key exists. Inside a unit the unit's own writes are visible;
// otherwise only committed state is read.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.read(kvKey(key))
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVGetList decodes an RLP list into the slice pointed to by out. Missing keys
// yield an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	ok, err := m.KVGet(key, out)
	if err != nil || ok {
		return err
	}
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	return nil
}

func (m *Manager) read(hashed []byte) ([]byte, bool, error) {
	m.mu.RLock()
	if m.active != nil {
		if value, deleted, ok := m.active.get(string(hashed)); ok {
			m.mu.RUnlock()
			if deleted {
				return nil, false, nil
			}
			return value, true, nil
		}
	}
	m.mu.RUnlock()
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, len(data) > 0, nil
}

// Emit buffers an event in the active unit. Events emitted outside a unit are
// dropped because nothing they describe can have been persisted.
func (m *Manager) Emit(payload events.Payload) {
	if payload == nil {
		return
	}
	evt := payload.Event()
	if evt == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		m.logger.Debug("event dropped outside unit", "type", evt.Type)
		return
	}
	m.active.events = append(m.active.events, evt.Clone())
}

var _ events.Emitter = (*Manager)(nil)
