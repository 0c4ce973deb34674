// Package oracle provides the price sources the lending protocol reads. The
// spot oracle reports the pool's instantaneous ratio and can be moved by any
// trade in the same execution unit. The anchored and TWAP oracles only report
// values fixed before the current unit began.
package oracle

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	errs "defilab/core/errors"
	"defilab/core/events"
	nativecommon "defilab/native/common"
	"defilab/native/safemath"
	"defilab/native/token"
	"defilab/observability/metrics"
)

// Source names reported on quotes.
const (
	SourceSpot     = "spot"
	SourceAnchored = "anchored"
	SourceTWAP     = "twap"
)

// PriceQuote is a WAD-scaled price of Asset denominated in Quote.
type PriceQuote struct {
	Asset  string
	Quote  string
	Price  *uint256.Int
	Source string
	// Unit is the execution unit that produced the underlying value.
	Unit uint64
}

// Clone returns a deep copy of the quote.
func (q PriceQuote) Clone() PriceQuote {
	clone := q
	clone.Price = safemath.Clone(q.Price)
	return clone
}

// PriceString renders the price as a decimal.
func (q PriceQuote) PriceString() string {
	return safemath.FormatUnits(q.Price, safemath.Decimals)
}

// PriceOracle resolves the current price of an asset.
type PriceOracle interface {
	CurrentPrice(asset string) (PriceQuote, error)
}

// Pool is the price surface the spot and TWAP oracles observe.
type Pool interface {
	SpotPrice(asset string) (*uint256.Int, error)
	Assets() (string, string)
}

// State is the persistence surface of the stateful oracles.
type State interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVGetList(key []byte, out interface{}) error
	CurrentUnit() uint64
}

func counterpart(pool Pool, asset string) (string, error) {
	a, b := pool.Assets()
	switch token.NormalizeAsset(asset) {
	case a:
		return b, nil
	case b:
		return a, nil
	default:
		return "", errs.ErrInvalidAsset.Wrapf("oracle: %q not priced", asset)
	}
}

// SpotOracle reads the pool ratio at call time.
type SpotOracle struct {
	pool    Pool
	clock   interface{ CurrentUnit() uint64 }
	metrics *metrics.LabMetrics
}

// NewSpotOracle builds a spot oracle over pool. clock may be nil.
func NewSpotOracle(pool Pool, clock interface{ CurrentUnit() uint64 }) *SpotOracle {
	return &SpotOracle{pool: pool, clock: clock}
}

// SetMetrics wires the oracle read counter.
func (o *SpotOracle) SetMetrics(m *metrics.LabMetrics) { o.metrics = m }

// CurrentPrice implements PriceOracle.
func (o *SpotOracle) CurrentPrice(asset string) (PriceQuote, error) {
	quote, err := counterpart(o.pool, asset)
	if err != nil {
		return PriceQuote{}, err
	}
	price, err := o.pool.SpotPrice(asset)
	if err != nil {
		return PriceQuote{}, err
	}
	var unit uint64
	if o.clock != nil {
		unit = o.clock.CurrentUnit()
	}
	o.metrics.ObserveOracleRead(SourceSpot)
	return PriceQuote{Asset: token.NormalizeAsset(asset), Quote: quote, Price: price, Source: SourceSpot, Unit: unit}, nil
}

type anchoredRecord struct {
	Price *big.Int
	Quote string
	Unit  uint64
}

// AnchoredOracle serves prices written by a single authorised operator.
type AnchoredOracle struct {
	state   State
	writer  common.Address
	quote   string
	emitter events.Emitter
	pauses  nativecommon.PauseView
	metrics *metrics.LabMetrics
}

// NewAnchoredOracle creates an oracle whose prices only writer may set. quote
// names the denomination asset.
func NewAnchoredOracle(st State, writer common.Address, quote string) *AnchoredOracle {
	return &AnchoredOracle{state: st, writer: writer, quote: token.NormalizeAsset(quote), emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used for price updates.
func (o *AnchoredOracle) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		o.emitter = events.NoopEmitter{}
		return
	}
	o.emitter = emitter
}

// SetPauses wires the pause registry consulted before writes.
func (o *AnchoredOracle) SetPauses(p nativecommon.PauseView) { o.pauses = p }

// SetMetrics wires the oracle read counter.
func (o *AnchoredOracle) SetMetrics(m *metrics.LabMetrics) { o.metrics = m }

// Writer returns the authorised price writer.
func (o *AnchoredOracle) Writer() common.Address { return o.writer }

func anchoredKey(asset string) []byte {
	return []byte("oracle/anchored/" + asset)
}

// SetPrice records price for asset. Only the configured writer may call it.
func (o *AnchoredOracle) SetPrice(caller common.Address, asset string, price *uint256.Int) error {
	if err := nativecommon.Guard(o.pauses, nativecommon.ModuleOracle); err != nil {
		return err
	}
	if caller != o.writer {
		return errs.ErrUnauthorized.Wrapf("oracle: %s may not set prices", caller.Hex())
	}
	normalized := token.NormalizeAsset(asset)
	if normalized == "" || normalized == o.quote {
		return errs.ErrInvalidAsset.Wrapf("oracle: cannot price %q in %s", asset, o.quote)
	}
	if price == nil || price.IsZero() {
		return errs.ErrInvalidAmount.Wrap("oracle: price must be positive")
	}
	rec := anchoredRecord{Price: safemath.ToBig(price), Quote: o.quote, Unit: o.state.CurrentUnit()}
	if err := o.state.KVPut(anchoredKey(normalized), rec); err != nil {
		return err
	}
	o.emitter.Emit(events.OraclePriceSet{Writer: caller, Asset: normalized, Price: safemath.Clone(price)})
	return nil
}

// CurrentPrice implements PriceOracle.
func (o *AnchoredOracle) CurrentPrice(asset string) (PriceQuote, error) {
	normalized := token.NormalizeAsset(asset)
	var rec anchoredRecord
	ok, err := o.state.KVGet(anchoredKey(normalized), &rec)
	if err != nil {
		return PriceQuote{}, err
	}
	if !ok {
		return PriceQuote{}, errs.ErrPriceUnavailable.Wrapf("oracle: no anchored price for %s", normalized)
	}
	price, err := safemath.FromBig(rec.Price)
	if err != nil {
		return PriceQuote{}, err
	}
	o.metrics.ObserveOracleRead(SourceAnchored)
	return PriceQuote{Asset: normalized, Quote: rec.Quote, Price: price, Source: SourceAnchored, Unit: rec.Unit}, nil
}

var (
	_ PriceOracle = (*SpotOracle)(nil)
	_ PriceOracle = (*AnchoredOracle)(nil)
)
