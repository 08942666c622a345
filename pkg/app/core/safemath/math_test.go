package safemath

import (
	"errors"
	"math"
	"testing"
)

func TestMulDiv(t *testing.T) {
	tests := []struct {
		name    string
		a, b, c int64
		want    int64
		err     error
	}{
		{"simple", 10, 20, 3, 66, nil},
		{"wide intermediate", math.MaxInt64, 4, 8, math.MaxInt64 / 2, nil},
		{"result overflow", math.MaxInt64, 3, 2, 0, ErrOverflow},
		{"div by zero", 1, 1, 0, 0, ErrDivByZero},
		{"negative", -1, 1, 1, 0, ErrNegative},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDiv(tt.a, tt.b, tt.c)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if got != tt.want {
				t.Errorf("MulDiv(%d, %d, %d) = %d, want %d", tt.a, tt.b, tt.c, got, tt.want)
			}
		})
	}
}

func TestMulDivUp(t *testing.T) {
	if got, _ := MulDivUp(10, 20, 3); got != 67 {
		t.Errorf("MulDivUp(10,20,3) = %d, want 67", got)
	}
	if got, _ := MulDivUp(9, 2, 3); got != 6 {
		t.Errorf("MulDivUp(9,2,3) = %d, want 6", got)
	}
}

func TestSqrtMul(t *testing.T) {
	tests := []struct {
		a, b, want int64
	}{
		{1000, 100000, 10000},
		{2, 2, 2},
		{3, 3, 3},
		{2, 3, 2},
		{0, 99, 0},
		{math.MaxInt64, math.MaxInt64, math.MaxInt64},
	}
	for _, tt := range tests {
		got, err := SqrtMul(tt.a, tt.b)
		if err != nil {
			t.Fatalf("SqrtMul(%d, %d): %v", tt.a, tt.b, err)
		}
		if got != tt.want {
			t.Errorf("SqrtMul(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestAddMulOverflow(t *testing.T) {
	if _, err := Add(math.MaxInt64, 1); !errors.Is(err, ErrOverflow) {
		t.Errorf("Add overflow err = %v", err)
	}
	if _, err := Mul(math.MaxInt64/2+1, 2); !errors.Is(err, ErrOverflow) {
		t.Errorf("Mul overflow err = %v", err)
	}
	if v, err := Mul(1<<31, 1<<31); err != nil || v != 1<<62 {
		t.Errorf("Mul(2^31, 2^31) = %d, %v", v, err)
	}
	if _, err := Sub(1, 2); !errors.Is(err, ErrNegative) {
		t.Errorf("Sub underflow err = %v", err)
	}
}
