// Package fixedpoint implements scaled-integer arithmetic for money and
// ratio computations in a funding round.
//
// All values are unbounded *big.Int; products are formed in full before a
// single truncating division, so intermediate overflow cannot occur. Rounding
// is always floor, which keeps the sum of all recipient payouts below the
// round budget at the cost of a small unclaimed dust residue.
package fixedpoint

import (
	"errors"
	"math/big"
)

// Precision is the default scale for ratios such as alpha: a ratio of 1.0 is
// represented as 10^18.
var Precision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var (
	// ErrDivisionByZero is returned when the divisor of a scaled division
	// is zero.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	// ErrInvalidPrecision is returned when the precision argument is nil,
	// zero or negative.
	ErrInvalidPrecision = errors.New("fixedpoint: precision must be positive")
)

// ScaledMul returns floor(a*b/precision).
func ScaledMul(a, b, precision *big.Int) (*big.Int, error) {
	if precision == nil || precision.Sign() <= 0 {
		return nil, ErrInvalidPrecision
	}
	out := new(big.Int).Mul(a, b)
	// Quo truncates toward zero, which is floor for the non-negative
	// values handled here.
	return out.Quo(out, precision), nil
}

// ScaledDiv returns floor(a*precision/b).
func ScaledDiv(a, b, precision *big.Int) (*big.Int, error) {
	if precision == nil || precision.Sign() <= 0 {
		return nil, ErrInvalidPrecision
	}
	if b == nil || b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	out := new(big.Int).Mul(a, precision)
	return out.Quo(out, b), nil
}
