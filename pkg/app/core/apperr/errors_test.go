package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindMatching(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
	}{
		{"validation", Validationf("qty %d not a lot multiple", 7), ErrValidation, KindValidation},
		{"not found", NotFoundf("order %d", 42), ErrNotFound, KindNotFound},
		{"unauthorized", Unauthorizedf("missing capability"), ErrUnauthorized, KindUnauthorized},
		{"state", Statef("pool exists"), ErrState, KindState},
		{"slippage", Slippagef("out %d < min %d", 1, 2), ErrSlippage, KindSlippage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf() = %v, want %v", got, tt.kind)
			}
			wrapped := fmt.Errorf("apply tx: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("wrapped error lost its kind")
			}
		})
	}
}

func TestKindsDoNotCrossMatch(t *testing.T) {
	err := Statef("session already open")
	if errors.Is(err, ErrValidation) {
		t.Error("state error matched validation sentinel")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("plain error should be KindUnknown")
	}
}
