package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// TypeOraclePriceSet marks an operator-anchored price update.
	TypeOraclePriceSet = "oracle.price_set"
	// TypeOracleSampled marks a recorded TWAP observation.
	TypeOracleSampled = "oracle.sampled"
)

// OraclePriceSet records an anchored price write.
type OraclePriceSet struct {
	Writer common.Address
	Asset  string
	Price  *uint256.Int
}

// EventType satisfies the events.Payload interface.
func (OraclePriceSet) EventType() string { return TypeOraclePriceSet }

// Event converts the structured payload into a broadcastable event.
func (e OraclePriceSet) Event() *Event {
	attrs := map[string]string{"asset": e.Asset, "priceWad": amountString(e.Price)}
	setIfNotEmpty(attrs, "writer", addressString(e.Writer))
	return &Event{Type: TypeOraclePriceSet, Attributes: attrs}
}

// OracleSampled records a TWAP observation.
type OracleSampled struct {
	Asset string
	Price *uint256.Int
	Unit  uint64
}

// EventType satisfies the events.Payload interface.
func (OracleSampled) EventType() string { return TypeOracleSampled }

// Event converts the structured payload into a broadcastable event.
func (e OracleSampled) Event() *Event {
	return &Event{Type: TypeOracleSampled, Attributes: map[string]string{
		"asset":    e.Asset,
		"priceWad": amountString(e.Price),
		"unit":     strconv.FormatUint(e.Unit, 10),
	}}
}
