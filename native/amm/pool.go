// Package amm implements a two-asset constant-product liquidity pool. Reserves
// are tracked in state independently of the pool's ledger balance, so tokens
// sent to the pool address without a swap never move its price.
package amm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	errs "defilab/core/errors"
	"defilab/core/events"
	nativecommon "defilab/native/common"
	"defilab/native/safemath"
	"defilab/native/token"
	"defilab/observability/metrics"
)

// State is the persistence surface the pool requires.
type State interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger moves tokens between traders and the pool account.
type Ledger interface {
	Transfer(from, to common.Address, asset string, amount *uint256.Int) error
}

// Config describes a pool.
type Config struct {
	ID     string
	AssetA string
	AssetB string
	// FeeBps is charged on the input amount and stays in the pool.
	FeeBps uint64
}

// Validate checks the pool configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("amm: pool id required")
	}
	a, b := token.NormalizeAsset(c.AssetA), token.NormalizeAsset(c.AssetB)
	if a == "" || b == "" {
		return errs.ErrInvalidAsset.Wrap("amm: both assets required")
	}
	if a == b {
		return errs.ErrInvalidAsset.Wrapf("amm: assets must differ (%s)", a)
	}
	if c.FeeBps >= safemath.BasisPoints {
		return fmt.Errorf("amm: fee %d bps must be below %d", c.FeeBps, safemath.BasisPoints)
	}
	return nil
}

type reserveRecord struct {
	A *big.Int
	B *big.Int
}

// Pool is a constant-product market between two assets.
type Pool struct {
	cfg     Config
	address common.Address
	state   State
	ledger  Ledger
	emitter events.Emitter
	pauses  nativecommon.PauseView
	metrics *metrics.LabMetrics
}

// NewPool validates cfg and binds the pool to its state and ledger.
func NewPool(cfg Config, st State, ledger Ledger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if st == nil || ledger == nil {
		return nil, fmt.Errorf("amm: state and ledger required")
	}
	cfg.ID = strings.TrimSpace(cfg.ID)
	cfg.AssetA = token.NormalizeAsset(cfg.AssetA)
	cfg.AssetB = token.NormalizeAsset(cfg.AssetB)
	return &Pool{
		cfg:     cfg,
		address: nativecommon.ModuleAddress(nativecommon.ModuleAMM + "/" + cfg.ID),
		state:   st,
		ledger:  ledger,
		emitter: events.NoopEmitter{},
	}, nil
}

// SetEmitter configures the event emitter used for pool events.
func (p *Pool) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		p.emitter = events.NoopEmitter{}
		return
	}
	p.emitter = emitter
}

// SetPauses wires the pause registry consulted before mutations.
func (p *Pool) SetPauses(pauses nativecommon.PauseView) { p.pauses = pauses }

// SetMetrics wires the swap counter.
func (p *Pool) SetMetrics(m *metrics.LabMetrics) { p.metrics = m }

// ID returns the pool identifier.
func (p *Pool) ID() string { return p.cfg.ID }

// Address returns the ledger account that custodies the reserves.
func (p *Pool) Address() common.Address { return p.address }

// Assets returns the pool's asset pair.
func (p *Pool) Assets() (string, string) { return p.cfg.AssetA, p.cfg.AssetB }

// FeeBps returns the swap fee.
func (p *Pool) FeeBps() uint64 { return p.cfg.FeeBps }

func (p *Pool) reservesKey() []byte {
	return []byte("amm/" + p.cfg.ID + "/reserves")
}

// Reserves returns the tracked reserves of asset A and asset B.
func (p *Pool) Reserves() (*uint256.Int, *uint256.Int, error) {
	var rec reserveRecord
	ok, err := p.state.KVGet(p.reservesKey(), &rec)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return safemath.Zero(), safemath.Zero(), nil
	}
	a, err := safemath.FromBig(rec.A)
	if err != nil {
		return nil, nil, err
	}
	b, err := safemath.FromBig(rec.B)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func (p *Pool) storeReserves(a, b *uint256.Int) error {
	return p.state.KVPut(p.reservesKey(), reserveRecord{A: safemath.ToBig(a), B: safemath.ToBig(b)})
}

// Initialized reports whether the pool holds seed liquidity.
func (p *Pool) Initialized() (bool, error) {
	a, b, err := p.Reserves()
	if err != nil {
		return false, err
	}
	return !a.IsZero() || !b.IsZero(), nil
}

// Initialize seeds the pool with liquidity drawn from provider. It can only
// succeed once.
func (p *Pool) Initialize(provider common.Address, seedA, seedB *uint256.Int) error {
	if err := nativecommon.Guard(p.pauses, nativecommon.ModuleAMM); err != nil {
		return err
	}
	initialized, err := p.Initialized()
	if err != nil {
		return err
	}
	if initialized {
		return errs.ErrAlreadyInitialized.Wrapf("amm: pool %s", p.cfg.ID)
	}
	if seedA == nil || seedB == nil || seedA.IsZero() || seedB.IsZero() {
		return errs.ErrInvalidAmount.Wrap("amm: seed reserves must be positive")
	}
	if err := p.ledger.Transfer(provider, p.address, p.cfg.AssetA, seedA); err != nil {
		return err
	}
	if err := p.ledger.Transfer(provider, p.address, p.cfg.AssetB, seedB); err != nil {
		return err
	}
	if err := p.storeReserves(seedA, seedB); err != nil {
		return err
	}
	p.emitter.Emit(events.PoolInitialized{
		PoolID:   p.cfg.ID,
		Provider: provider,
		ReserveA: safemath.Clone(seedA),
		ReserveB: safemath.Clone(seedB),
	})
	return nil
}

// side orients the reserves for a trade of assetIn.
func (p *Pool) side(assetIn string, reserveA, reserveB *uint256.Int) (inIsA bool, assetOut string, reserveIn, reserveOut *uint256.Int, err error) {
	switch token.NormalizeAsset(assetIn) {
	case p.cfg.AssetA:
		return true, p.cfg.AssetB, reserveA, reserveB, nil
	case p.cfg.AssetB:
		return false, p.cfg.AssetA, reserveB, reserveA, nil
	default:
		return false, "", nil, nil, errs.ErrInvalidAsset.Wrapf("amm: %q not in pool %s", assetIn, p.cfg.ID)
	}
}

// ComputeAmountOut applies the constant-product formula. The post-trade output
// reserve is rounded up so the product of reserves never decreases.
func ComputeAmountOut(reserveIn, reserveOut, amountIn *uint256.Int, feeBps uint64) (*uint256.Int, error) {
	if amountIn == nil || amountIn.IsZero() {
		return nil, errs.ErrInvalidAmount.Wrap("amm: amount in must be positive")
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, errs.ErrPoolNotInitialized
	}
	effectiveIn, err := safemath.ApplyBps(amountIn, safemath.BasisPoints-feeBps)
	if err != nil {
		return nil, err
	}
	denominator, err := safemath.Add(reserveIn, effectiveIn)
	if err != nil {
		return nil, err
	}
	newReserveOut, err := safemath.MulDivUp(reserveIn, reserveOut, denominator)
	if err != nil {
		return nil, err
	}
	amountOut := safemath.SubFloor(reserveOut, newReserveOut)
	if amountOut.IsZero() || !amountOut.Lt(reserveOut) {
		return nil, errs.ErrInsufficientLiquidity.Wrapf("amm: output %s against reserve %s", amountOut.Dec(), reserveOut.Dec())
	}
	return amountOut, nil
}

// QuoteOut returns the asset and amount a swap of amountIn would pay out.
func (p *Pool) QuoteOut(assetIn string, amountIn *uint256.Int) (string, *uint256.Int, error) {
	reserveA, reserveB, err := p.Reserves()
	if err != nil {
		return "", nil, err
	}
	_, assetOut, reserveIn, reserveOut, err := p.side(assetIn, reserveA, reserveB)
	if err != nil {
		return "", nil, err
	}
	amountOut, err := ComputeAmountOut(reserveIn, reserveOut, amountIn, p.cfg.FeeBps)
	if err != nil {
		return "", nil, err
	}
	return assetOut, amountOut, nil
}

// Swap trades amountIn of assetIn from trader for the opposite asset.
func (p *Pool) Swap(trader common.Address, assetIn string, amountIn, minAmountOut *uint256.Int) (*uint256.Int, error) {
	if err := nativecommon.Guard(p.pauses, nativecommon.ModuleAMM); err != nil {
		return nil, err
	}
	reserveA, reserveB, err := p.Reserves()
	if err != nil {
		return nil, err
	}
	inIsA, assetOut, reserveIn, reserveOut, err := p.side(assetIn, reserveA, reserveB)
	if err != nil {
		return nil, err
	}
	amountOut, err := ComputeAmountOut(reserveIn, reserveOut, amountIn, p.cfg.FeeBps)
	if err != nil {
		return nil, err
	}
	if minAmountOut != nil && amountOut.Lt(minAmountOut) {
		return nil, errs.ErrSlippageExceeded.Wrapf("amm: output %s below minimum %s", amountOut.Dec(), minAmountOut.Dec())
	}
	newIn, err := safemath.Add(reserveIn, amountIn)
	if err != nil {
		return nil, err
	}
	newOut, err := safemath.Sub(reserveOut, amountOut)
	if err != nil {
		return nil, err
	}
	normalizedIn := token.NormalizeAsset(assetIn)
	if err := p.ledger.Transfer(trader, p.address, normalizedIn, amountIn); err != nil {
		return nil, err
	}
	if err := p.ledger.Transfer(p.address, trader, assetOut, amountOut); err != nil {
		return nil, err
	}
	if inIsA {
		reserveA, reserveB = newIn, newOut
	} else {
		reserveA, reserveB = newOut, newIn
	}
	if err := p.storeReserves(reserveA, reserveB); err != nil {
		return nil, err
	}
	p.emitter.Emit(events.Swap{
		PoolID:    p.cfg.ID,
		Trader:    trader,
		AssetIn:   normalizedIn,
		AmountIn:  safemath.Clone(amountIn),
		AssetOut:  assetOut,
		AmountOut: safemath.Clone(amountOut),
		ReserveA:  safemath.Clone(reserveA),
		ReserveB:  safemath.Clone(reserveB),
	})
	p.metrics.ObserveSwap(normalizedIn)
	return amountOut, nil
}

// SpotPrice returns the WAD-scaled instantaneous price of asset in units of
// the other asset.
func (p *Pool) SpotPrice(asset string) (*uint256.Int, error) {
	reserveA, reserveB, err := p.Reserves()
	if err != nil {
		return nil, err
	}
	_, _, reserveSelf, reserveOther, err := p.side(asset, reserveA, reserveB)
	if err != nil {
		return nil, err
	}
	if reserveSelf.IsZero() || reserveOther.IsZero() {
		return nil, errs.ErrPoolNotInitialized.Wrapf("amm: pool %s", p.cfg.ID)
	}
	return safemath.DivRatio(reserveOther, reserveSelf)
}
