package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// TypePoolInitialized is emitted once when a pool receives its seed
	// liquidity.
	TypePoolInitialized = "amm.initialized"
	// TypeSwap is emitted for every executed swap.
	TypeSwap = "amm.swap"
)

// PoolInitialized records the seed reserves of a pool.
type PoolInitialized struct {
	PoolID   string
	Provider common.Address
	ReserveA *uint256.Int
	ReserveB *uint256.Int
}

// EventType satisfies the events.Payload interface.
func (PoolInitialized) EventType() string { return TypePoolInitialized }

// Event converts the structured payload into a broadcastable event.
func (e PoolInitialized) Event() *Event {
	attrs := map[string]string{
		"poolId":   e.PoolID,
		"reserveA": amountString(e.ReserveA),
		"reserveB": amountString(e.ReserveB),
	}
	setIfNotEmpty(attrs, "provider", addressString(e.Provider))
	return &Event{Type: TypePoolInitialized, Attributes: attrs}
}

// Swap records a constant-product trade and the reserves it left behind.
type Swap struct {
	PoolID    string
	Trader    common.Address
	AssetIn   string
	AmountIn  *uint256.Int
	AssetOut  string
	AmountOut *uint256.Int
	ReserveA  *uint256.Int
	ReserveB  *uint256.Int
}

// EventType satisfies the events.Payload interface.
func (Swap) EventType() string { return TypeSwap }

// Event converts the structured payload into a broadcastable event.
func (e Swap) Event() *Event {
	attrs := map[string]string{
		"poolId":    e.PoolID,
		"assetIn":   e.AssetIn,
		"amountIn":  amountString(e.AmountIn),
		"assetOut":  e.AssetOut,
		"amountOut": amountString(e.AmountOut),
		"reserveA":  amountString(e.ReserveA),
		"reserveB":  amountString(e.ReserveB),
	}
	setIfNotEmpty(attrs, "trader", addressString(e.Trader))
	return &Event{Type: TypeSwap, Attributes: attrs}
}
