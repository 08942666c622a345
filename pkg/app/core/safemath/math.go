// Package safemath holds overflow-checked arithmetic for non-negative int64
// amounts. Wide intermediates go through 256-bit integers, so a*b/c is exact
// even when a*b does not fit in 64 bits.
package safemath

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow  = errors.New("safemath: overflow")
	ErrNegative  = errors.New("safemath: negative operand")
	ErrDivByZero = errors.New("safemath: division by zero")
)

// Add returns a+b, failing on overflow
func Add(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegative
	}
	if a > math.MaxInt64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Sub returns a-b, failing if the result would be negative
func Sub(a, b int64) (int64, error) {
	if a < 0 || b < 0 || b > a {
		return 0, ErrNegative
	}
	return a - b, nil
}

// Mul returns a*b, failing on overflow
func Mul(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegative
	}
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxInt64/b {
		return 0, ErrOverflow
	}
	return a * b, nil
}

// MulDiv returns floor(a*b/c) with a 256-bit intermediate
func MulDiv(a, b, c int64) (int64, error) {
	if a < 0 || b < 0 || c < 0 {
		return 0, ErrNegative
	}
	if c == 0 {
		return 0, ErrDivByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(u(a), u(b), u(c))
	if overflow || !z.IsUint64() || z.Uint64() > math.MaxInt64 {
		return 0, ErrOverflow
	}
	return int64(z.Uint64()), nil
}

// MulDivUp is MulDiv rounded towards +inf
func MulDivUp(a, b, c int64) (int64, error) {
	q, err := MulDiv(a, b, c)
	if err != nil {
		return 0, err
	}
	prod := new(uint256.Int).Mul(u(a), u(b))
	if !new(uint256.Int).Mod(prod, u(c)).IsZero() {
		return Add(q, 1)
	}
	return q, nil
}

// SqrtMul returns floor(sqrt(a*b)) without overflowing the product
func SqrtMul(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegative
	}
	z := new(uint256.Int).Mul(u(a), u(b))
	z.Sqrt(z)
	// sqrt of a product of two int64 always fits in 64 bits, but may exceed MaxInt64
	if z.Uint64() > math.MaxInt64 {
		return 0, ErrOverflow
	}
	return int64(z.Uint64()), nil
}

func u(v int64) *uint256.Int { return uint256.NewInt(uint64(v)) }
