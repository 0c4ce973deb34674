package errors

import errorsmod "cosmossdk.io/errors"

// Codespace namespaces every registered lab error.
const Codespace = "defilab"

// Arithmetic guard.
var (
	ErrOverflow       = errorsmod.Register(Codespace, 2, "arithmetic overflow")
	ErrUnderflow      = errorsmod.Register(Codespace, 3, "arithmetic underflow")
	ErrDivisionByZero = errorsmod.Register(Codespace, 4, "division by zero")
)

// Liquidity pool.
var (
	ErrInsufficientLiquidity = errorsmod.Register(Codespace, 10, "insufficient liquidity")
	ErrSlippageExceeded      = errorsmod.Register(Codespace, 11, "slippage exceeded")
	ErrAlreadyInitialized    = errorsmod.Register(Codespace, 12, "pool already initialized")
	ErrPoolNotInitialized    = errorsmod.Register(Codespace, 13, "pool not initialized")
)

// Flash-loan facility.
var (
	ErrInsufficientFacilityLiquidity = errorsmod.Register(Codespace, 20, "insufficient facility liquidity")
	ErrLoanNotRepaid                 = errorsmod.Register(Codespace, 21, "flash loan not repaid")
)

// Lending protocol.
var (
	ErrExceedsBorrowLimit = errorsmod.Register(Codespace, 30, "exceeds borrow limit")
	ErrNoDebt             = errorsmod.Register(Codespace, 31, "no outstanding debt")
)

// Token ledger and shared validation.
var (
	ErrInsufficientBalance   = errorsmod.Register(Codespace, 40, "insufficient balance")
	ErrInsufficientAllowance = errorsmod.Register(Codespace, 41, "insufficient allowance")
	ErrInvalidAmount         = errorsmod.Register(Codespace, 42, "invalid amount")
	ErrInvalidAsset          = errorsmod.Register(Codespace, 43, "invalid asset")
	ErrModulePaused          = errorsmod.Register(Codespace, 44, "module paused")
)

// Oracle.
var (
	ErrUnauthorized     = errorsmod.Register(Codespace, 50, "unauthorized writer")
	ErrPriceUnavailable = errorsmod.Register(Codespace, 51, "price unavailable")
	ErrSampleTooSoon    = errorsmod.Register(Codespace, 52, "oracle already sampled in this unit")
)

// Execution units.
var (
	ErrNoActiveUnit   = errorsmod.Register(Codespace, 60, "no active execution unit")
	ErrUnitInProgress = errorsmod.Register(Codespace, 61, "execution unit already in progress")
)
