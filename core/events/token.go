package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// TypeTokenTransfer is emitted for every ledger movement between accounts.
	TypeTokenTransfer = "token.transfer"
	// TypeTokenMint is emitted when new supply is created.
	TypeTokenMint = "token.mint"
	// TypeTokenApproval records an allowance update.
	TypeTokenApproval = "token.approval"
)

// TokenTransfer captures a balance movement on the token ledger.
type TokenTransfer struct {
	Asset  string
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

// EventType satisfies the events.Payload interface.
func (TokenTransfer) EventType() string { return TypeTokenTransfer }

// Event converts the structured payload into a broadcastable event.
func (e TokenTransfer) Event() *Event {
	attrs := map[string]string{"asset": e.Asset, "amount": amountString(e.Amount)}
	setIfNotEmpty(attrs, "from", addressString(e.From))
	setIfNotEmpty(attrs, "to", addressString(e.To))
	return &Event{Type: TypeTokenTransfer, Attributes: attrs}
}

// TokenMint captures supply creation.
type TokenMint struct {
	Asset  string
	To     common.Address
	Amount *uint256.Int
}

// EventType satisfies the events.Payload interface.
func (TokenMint) EventType() string { return TypeTokenMint }

// Event converts the structured payload into a broadcastable event.
func (e TokenMint) Event() *Event {
	attrs := map[string]string{"asset": e.Asset, "amount": amountString(e.Amount)}
	setIfNotEmpty(attrs, "to", addressString(e.To))
	return &Event{Type: TypeTokenMint, Attributes: attrs}
}

// TokenApproval captures an allowance change.
type TokenApproval struct {
	Asset   string
	Owner   common.Address
	Spender common.Address
	Amount  *uint256.Int
}

// EventType satisfies the events.Payload interface.
func (TokenApproval) EventType() string { return TypeTokenApproval }

// Event converts the structured payload into a broadcastable event.
func (e TokenApproval) Event() *Event {
	attrs := map[string]string{"asset": e.Asset, "amount": amountString(e.Amount)}
	setIfNotEmpty(attrs, "owner", addressString(e.Owner))
	setIfNotEmpty(attrs, "spender", addressString(e.Spender))
	return &Event{Type: TypeTokenApproval, Attributes: attrs}
}
