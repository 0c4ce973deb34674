package oracle

import (
	"fmt"
	"math"
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

// MaxTWAPSpan caps Window+DelayUnits, the number of stored observations.
const MaxTWAPSpan = math.MaxInt32

// TWAPConfig bounds the observation ring.
type TWAPConfig struct {
	// Window is the number of admitted observations averaged.
	Window int
	// DelayUnits is how many units must pass before an observation counts.
	DelayUnits uint64
}

// Validate checks the TWAP bounds.
func (c TWAPConfig) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("oracle: twap window must be positive")
	}
	if c.DelayUnits == 0 {
		return fmt.Errorf("oracle: twap delay must be at least one unit")
	}
	if c.DelayUnits > MaxTWAPSpan {
		return fmt.Errorf("oracle: twap delay %d exceeds %d units", c.DelayUnits, MaxTWAPSpan)
	}
	if c.Window > MaxTWAPSpan-int(c.DelayUnits) {
		return fmt.Errorf("oracle: twap window %d plus delay %d exceeds %d", c.Window, c.DelayUnits, MaxTWAPSpan)
	}
	return nil
}

// Observation is one pool sample.
type Observation struct {
	Unit   uint64
	PriceA *big.Int
	PriceB *big.Int
}

// TWAPOracle averages pool samples taken in earlier execution units, weighted
// by the number of units each sample was in force.
type TWAPOracle struct {
	pool    Pool
	poolID  string
	state   State
	writer  common.Address
	cfg     TWAPConfig
	emitter events.Emitter
	pauses  nativecommon.PauseView
	metrics *metrics.LabMetrics
}

// NewTWAPOracle observes pool. Only writer may record samples.
func NewTWAPOracle(pool Pool, poolID string, st State, writer common.Address, cfg TWAPConfig) (*TWAPOracle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TWAPOracle{
		pool:    pool,
		poolID:  poolID,
		state:   st,
		writer:  writer,
		cfg:     cfg,
		emitter: events.NoopEmitter{},
	}, nil
}

// SetEmitter configures the event emitter used for samples.
func (o *TWAPOracle) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		o.emitter = events.NoopEmitter{}
		return
	}
	o.emitter = emitter
}

// SetPauses wires the pause registry consulted before sampling.
func (o *TWAPOracle) SetPauses(p nativecommon.PauseView) { o.pauses = p }

// SetMetrics wires the oracle read counter.
func (o *TWAPOracle) SetMetrics(m *metrics.LabMetrics) { o.metrics = m }

func (o *TWAPOracle) observationsKey() []byte {
	return []byte("oracle/twap/" + o.poolID + "/observations")
}

// Observations returns the stored ring, oldest first.
func (o *TWAPOracle) Observations() ([]Observation, error) {
	var list []Observation
	if err := o.state.KVGetList(o.observationsKey(), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Sample records the pool's current spot prices tagged with the active unit.
func (o *TWAPOracle) Sample(caller common.Address) error {
	if err := nativecommon.Guard(o.pauses, nativecommon.ModuleOracle); err != nil {
		return err
	}
	if caller != o.writer {
		return errs.ErrUnauthorized.Wrapf("oracle: %s may not sample", caller.Hex())
	}
	unit := o.state.CurrentUnit()
	list, err := o.Observations()
	if err != nil {
		return err
	}
	if n := len(list); n > 0 && list[n-1].Unit >= unit {
		return errs.ErrSampleTooSoon.Wrapf("oracle: unit %d already sampled", unit)
	}
	assetA, assetB := o.pool.Assets()
	priceA, err := o.pool.SpotPrice(assetA)
	if err != nil {
		return err
	}
	priceB, err := o.pool.SpotPrice(assetB)
	if err != nil {
		return err
	}
	list = append(list, Observation{Unit: unit, PriceA: safemath.ToBig(priceA), PriceB: safemath.ToBig(priceB)})
	// Samples younger than the delay are not yet admitted, so they must not
	// push admitted ones out of the window.
	if limit := o.cfg.Window + int(o.cfg.DelayUnits); len(list) > limit {
		list = append([]Observation(nil), list[len(list)-limit:]...)
	}
	if err := o.state.KVPut(o.observationsKey(), list); err != nil {
		return err
	}
	o.emitter.Emit(events.OracleSampled{Asset: assetA, Price: priceA, Unit: unit})
	return nil
}

// CurrentPrice implements PriceOracle.
func (o *TWAPOracle) CurrentPrice(asset string) (PriceQuote, error) {
	normalized := token.NormalizeAsset(asset)
	quote, err := counterpart(o.pool, normalized)
	if err != nil {
		return PriceQuote{}, err
	}
	assetA, _ := o.pool.Assets()
	list, err := o.Observations()
	if err != nil {
		return PriceQuote{}, err
	}
	current := o.state.CurrentUnit()
	if current < o.cfg.DelayUnits {
		return PriceQuote{}, errs.ErrPriceUnavailable.Wrap("oracle: no admitted observations")
	}
	cutoff := current - o.cfg.DelayUnits
	admitted := make([]Observation, 0, len(list))
	for _, obs := range list {
		if obs.Unit <= cutoff {
			admitted = append(admitted, obs)
		}
	}
	if len(admitted) == 0 {
		return PriceQuote{}, errs.ErrPriceUnavailable.Wrapf("oracle: no observations older than %d units", o.cfg.DelayUnits)
	}
	if len(admitted) > o.cfg.Window {
		admitted = admitted[len(admitted)-o.cfg.Window:]
	}

	weighted := safemath.Zero()
	totalWeight := safemath.Zero()
	for i, obs := range admitted {
		end := cutoff + 1
		if i+1 < len(admitted) {
			end = admitted[i+1].Unit
		}
		weight := uint256.NewInt(end - obs.Unit)
		raw := obs.PriceB
		if normalized == assetA {
			raw = obs.PriceA
		}
		price, err := safemath.FromBig(raw)
		if err != nil {
			return PriceQuote{}, err
		}
		term, err := safemath.Mul(price, weight)
		if err != nil {
			return PriceQuote{}, err
		}
		if weighted, err = safemath.Add(weighted, term); err != nil {
			return PriceQuote{}, err
		}
		if totalWeight, err = safemath.Add(totalWeight, weight); err != nil {
			return PriceQuote{}, err
		}
	}
	average, err := safemath.Div(weighted, totalWeight)
	if err != nil {
		return PriceQuote{}, err
	}
	o.metrics.ObserveOracleRead(SourceTWAP)
	return PriceQuote{
		Asset:  normalized,
		Quote:  quote,
		Price:  average,
		Source: SourceTWAP,
		Unit:   admitted[len(admitted)-1].Unit,
	}, nil
}

var _ PriceOracle = (*TWAPOracle)(nil)
