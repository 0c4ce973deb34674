package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// TypeFlashBorrowed marks the disbursement of a flash loan.
	TypeFlashBorrowed = "flash.borrowed"
	// TypeFlashRepaid marks a flash loan whose repayment check passed.
	TypeFlashRepaid = "flash.repaid"
)

// FlashBorrowed captures the principal handed to a borrower.
type FlashBorrowed struct {
	Borrower  common.Address
	Asset     string
	Principal *uint256.Int
	Fee       *uint256.Int
}

// EventType satisfies the events.Payload interface.
func (FlashBorrowed) EventType() string { return TypeFlashBorrowed }

// Event converts the structured payload into a broadcastable event.
func (e FlashBorrowed) Event() *Event {
	attrs := map[string]string{
		"asset":     e.Asset,
		"principal": amountString(e.Principal),
		"fee":       amountString(e.Fee),
	}
	setIfNotEmpty(attrs, "borrower", addressString(e.Borrower))
	return &Event{Type: TypeFlashBorrowed, Attributes: attrs}
}

// FlashRepaid captures the facility balance observed after the callback.
type FlashRepaid struct {
	Borrower common.Address
	Asset    string
	Balance  *uint256.Int
}

// EventType satisfies the events.Payload interface.
func (FlashRepaid) EventType() string { return TypeFlashRepaid }

// Event converts the structured payload into a broadcastable event.
func (e FlashRepaid) Event() *Event {
	attrs := map[string]string{"asset": e.Asset, "balance": amountString(e.Balance)}
	setIfNotEmpty(attrs, "borrower", addressString(e.Borrower))
	return &Event{Type: TypeFlashRepaid, Attributes: attrs}
}
