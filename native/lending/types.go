package lending

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"defilab/native/safemath"
	"defilab/native/token"
)

// RiskParameters groups the safety limits governing borrowing.
type RiskParameters struct {
	// MaxLTVBps is the maximum loan-to-value ratio, expressed in basis points.
	MaxLTVBps uint64
	// CollateralAsset is pledged by borrowers and priced by the oracle.
	CollateralAsset string
	// DebtAsset is lent out and denominates the oracle price.
	DebtAsset string
}

// Validate checks the parameters.
func (p RiskParameters) Validate() error {
	if p.MaxLTVBps == 0 || p.MaxLTVBps > safemath.BasisPoints {
		return fmt.Errorf("lending engine: max LTV %d bps must be in (0, %d]", p.MaxLTVBps, safemath.BasisPoints)
	}
	collateral := token.NormalizeAsset(p.CollateralAsset)
	debt := token.NormalizeAsset(p.DebtAsset)
	if collateral == "" || debt == "" {
		return fmt.Errorf("lending engine: collateral and debt assets required")
	}
	if collateral == debt {
		return fmt.Errorf("lending engine: collateral and debt assets must differ")
	}
	return nil
}

func (p RiskParameters) normalise() RiskParameters {
	p.CollateralAsset = token.NormalizeAsset(p.CollateralAsset)
	p.DebtAsset = token.NormalizeAsset(p.DebtAsset)
	return p
}

// Position is an account's pledged collateral and outstanding debt.
type Position struct {
	Collateral *uint256.Int
	Debt       *uint256.Int
}

// Market aggregates protocol-wide totals.
type Market struct {
	TotalSupplied   *uint256.Int
	TotalCollateral *uint256.Int
	TotalDebt       *uint256.Int
}

type positionRecord struct {
	Collateral *big.Int
	Debt       *big.Int
}

type marketRecord struct {
	TotalSupplied   *big.Int
	TotalCollateral *big.Int
	TotalDebt       *big.Int
}
