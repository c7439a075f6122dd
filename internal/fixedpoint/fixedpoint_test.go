package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScaledMulFloors(t *testing.T) {
	// 7 * 3 / 2 = 10.5 -> 10
	out, err := ScaledMul(big.NewInt(7), big.NewInt(3), big.NewInt(2))
	require.NoError(t, err)
	require.EqualValues(t, 10, out.Int64())
}

func TestScaledMulLargeOperands(t *testing.T) {
	// Products that overflow 64-bit arithmetic must still be exact.
	a := new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)
	b := new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)
	out, err := ScaledMul(a, b, Precision)
	require.NoError(t, err)
	want := new(big.Int).Exp(big.NewInt(10), big.NewInt(42), nil)
	require.Zero(t, out.Cmp(want))
}

func TestScaledDivFloors(t *testing.T) {
	// 5 * 10 / 3 = 16.66 -> 16
	out, err := ScaledDiv(big.NewInt(5), big.NewInt(3), big.NewInt(10))
	require.NoError(t, err)
	require.EqualValues(t, 16, out.Int64())
}

func TestScaledDivByZero(t *testing.T) {
	_, err := ScaledDiv(big.NewInt(5), big.NewInt(0), Precision)
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestInvalidPrecision(t *testing.T) {
	_, err := ScaledMul(big.NewInt(1), big.NewInt(1), big.NewInt(0))
	require.ErrorIs(t, err, ErrInvalidPrecision)

	_, err = ScaledDiv(big.NewInt(1), big.NewInt(1), nil)
	require.ErrorIs(t, err, ErrInvalidPrecision)
}
