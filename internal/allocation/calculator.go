// Package allocation computes the matching ratio (alpha) of a quadratic
// funding round and the payout each recipient is owed.
//
// The math reproduces the reference settlement bit-for-bit: every product is
// formed on unbounded integers and truncated only at the reference division
// points, in the reference order. Do not reassociate the multiply/divide
// chain; floor(floor(a/b)/c) is relied upon where the reference divides
// twice.
package allocation

import (
	"errors"
	"fmt"
	"math/big"

	"fundinground/internal/fixedpoint"
)

var (
	// ErrBudgetTooSmall means the budget does not even cover the directly
	// contributed amount; no matching pool exists.
	ErrBudgetTooSmall = errors.New("allocation: budget below direct contributions")
	// ErrNoQuadraticBoost means totalQuadraticVotes <= totalSpent, so the
	// alpha denominator is empty and the round has no matching effect.
	ErrNoQuadraticBoost = errors.New("allocation: no quadratic boost possible")
	// ErrBudgetExceedsDemand means alpha would exceed 1: the budget over-
	// funds the theoretically optimal match. Rejected rather than clamped;
	// the round budget needs an out-of-band adjustment.
	ErrBudgetExceedsDemand = errors.New("allocation: budget exceeds demand, alpha above precision")
)

// Params are the round-wide allocation constants, fixed before finalization.
type Params struct {
	// Budget is the total matching funds in the settlement asset's
	// smallest unit.
	Budget *big.Int
	// VoiceCreditFactor converts one voice credit into settlement-asset
	// units.
	VoiceCreditFactor *big.Int
}

// Validate rejects unusable parameter sets.
func (p Params) Validate() error {
	if p.Budget == nil || p.Budget.Sign() < 0 {
		return fmt.Errorf("allocation: budget must be a non-negative integer")
	}
	if p.VoiceCreditFactor == nil || p.VoiceCreditFactor.Sign() <= 0 {
		return fmt.Errorf("allocation: voice credit factor must be positive")
	}
	return nil
}

// ComputeAlpha derives the scaled matching ratio from the sealed totals:
//
//	matchingPool = budget - totalSpent*VCF
//	alpha        = matchingPool * precision / (totalQV - totalSpent) / VCF
//
// Both divisions floor, in that order, as in the reference.
func ComputeAlpha(p Params, totalSpent, totalQuadraticVotes *big.Int) (*big.Int, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if totalSpent == nil || totalQuadraticVotes == nil || totalSpent.Sign() < 0 {
		return nil, fmt.Errorf("allocation: nil or negative totals")
	}

	contributions := new(big.Int).Mul(totalSpent, p.VoiceCreditFactor)
	matchingPool := new(big.Int).Sub(p.Budget, contributions)
	if matchingPool.Sign() < 0 {
		return nil, fmt.Errorf("%w: budget %s, direct contributions %s",
			ErrBudgetTooSmall, p.Budget, contributions)
	}

	denom := new(big.Int).Sub(totalQuadraticVotes, totalSpent)
	if denom.Sign() <= 0 {
		return nil, fmt.Errorf("%w: total quadratic votes %s, total spent %s",
			ErrNoQuadraticBoost, totalQuadraticVotes, totalSpent)
	}

	alpha, err := fixedpoint.ScaledDiv(matchingPool, denom, fixedpoint.Precision)
	if err != nil {
		return nil, err
	}
	alpha.Quo(alpha, p.VoiceCreditFactor)
	if alpha.Cmp(fixedpoint.Precision) > 0 {
		return nil, fmt.Errorf("%w: alpha %s", ErrBudgetExceedsDemand, alpha)
	}
	return alpha, nil
}

// ComputeAllocation returns the payout for one recipient:
//
//	quadratic = alpha * VCF * tally^2
//	linear    = (precision - alpha) * VCF * spent
//	amount    = floor((quadratic + linear) / precision)
//
// The quadratic term is the budget-capped matching boost; the linear term
// degrades toward pure reimbursement of what was directly spent on the
// recipient as alpha shrinks.
func ComputeAllocation(p Params, alpha, tally, spent *big.Int) (*big.Int, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if alpha == nil || tally == nil || spent == nil ||
		alpha.Sign() < 0 || tally.Sign() < 0 || spent.Sign() < 0 {
		return nil, fmt.Errorf("allocation: nil or negative inputs")
	}
	if alpha.Cmp(fixedpoint.Precision) > 0 {
		return nil, fmt.Errorf("%w: alpha %s", ErrBudgetExceedsDemand, alpha)
	}

	quadratic := new(big.Int).Mul(alpha, p.VoiceCreditFactor)
	quadratic.Mul(quadratic, new(big.Int).Mul(tally, tally))

	linear := new(big.Int).Sub(fixedpoint.Precision, alpha)
	linear.Mul(linear, new(big.Int).Mul(p.VoiceCreditFactor, spent))

	amount := quadratic.Add(quadratic, linear)
	return amount.Quo(amount, fixedpoint.Precision), nil
}
