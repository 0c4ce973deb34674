package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// TypeLendingSupplied marks liquidity added to the lending protocol.
	TypeLendingSupplied = "lending.supplied"
	// TypeLendingCollateral marks a collateral deposit or withdrawal.
	TypeLendingCollateral = "lending.collateral"
	// TypeLendingBorrowed marks a successful borrow.
	TypeLendingBorrowed = "lending.borrowed"
	// TypeLendingRepaid marks a debt repayment.
	TypeLendingRepaid = "lending.repaid"
)

// LendingSupplied captures liquidity provided to the protocol.
type LendingSupplied struct {
	Provider common.Address
	Amount   *uint256.Int
}

// EventType satisfies the events.Payload interface.
func (LendingSupplied) EventType() string { return TypeLendingSupplied }

// Event converts the structured payload into a broadcastable event.
func (e LendingSupplied) Event() *Event {
	attrs := map[string]string{"amount": amountString(e.Amount)}
	setIfNotEmpty(attrs, "provider", addressString(e.Provider))
	return &Event{Type: TypeLendingSupplied, Attributes: attrs}
}

// LendingCollateral captures a collateral movement. Withdrawn is false for
// deposits.
type LendingCollateral struct {
	Account    common.Address
	Amount     *uint256.Int
	Collateral *uint256.Int
	Withdrawn  bool
}

// EventType satisfies the events.Payload interface.
func (LendingCollateral) EventType() string { return TypeLendingCollateral }

// Event converts the structured payload into a broadcastable event.
func (e LendingCollateral) Event() *Event {
	action := "deposit"
	if e.Withdrawn {
		action = "withdraw"
	}
	attrs := map[string]string{
		"action":     action,
		"amount":     amountString(e.Amount),
		"collateral": amountString(e.Collateral),
	}
	setIfNotEmpty(attrs, "account", addressString(e.Account))
	return &Event{Type: TypeLendingCollateral, Attributes: attrs}
}

// LendingBorrowed captures a borrow and the oracle price it was priced at.
type LendingBorrowed struct {
	Account common.Address
	Amount  *uint256.Int
	Debt    *uint256.Int
	Price   *uint256.Int
	Source  string
}

// EventType satisfies the events.Payload interface.
func (LendingBorrowed) EventType() string { return TypeLendingBorrowed }

// Event converts the structured payload into a broadcastable event.
func (e LendingBorrowed) Event() *Event {
	attrs := map[string]string{
		"amount":   amountString(e.Amount),
		"debt":     amountString(e.Debt),
		"priceWad": amountString(e.Price),
	}
	setIfNotEmpty(attrs, "account", addressString(e.Account))
	setIfNotEmpty(attrs, "source", e.Source)
	return &Event{Type: TypeLendingBorrowed, Attributes: attrs}
}

// LendingRepaid captures a repayment.
type LendingRepaid struct {
	Account common.Address
	Amount  *uint256.Int
	Debt    *uint256.Int
}

// EventType satisfies the events.Payload interface.
func (LendingRepaid) EventType() string { return TypeLendingRepaid }

// Event converts the structured payload into a broadcastable event.
func (e LendingRepaid) Event() *Event {
	attrs := map[string]string{"amount": amountString(e.Amount), "debt": amountString(e.Debt)}
	setIfNotEmpty(attrs, "account", addressString(e.Account))
	return &Event{Type: TypeLendingRepaid, Attributes: attrs}
}
