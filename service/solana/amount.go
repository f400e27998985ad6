package solana

import (
	"fmt"
	"math/rand/v2"
)

// RandSource draws uniform integers in [0, n). *rand.Rand from math/rand/v2
// satisfies it, so tests can pass a seeded generator.
type RandSource interface {
	Uint64N(n uint64) uint64
}

// globalRand draws from the process-wide math/rand/v2 source.
type globalRand struct{}

func (globalRand) Uint64N(n uint64) uint64 { return rand.Uint64N(n) }

// AmountSelector picks a randomized transfer amount that leaves room for the
// transaction fee and a safety margin.
type AmountSelector struct {
	// Margin is held back on top of the fee estimate to absorb fee drift.
	Margin uint64
	// MinAmount is the smallest amount ever selected. Zero is treated as one.
	MinAmount uint64

	rng RandSource
}

// NewAmountSelector creates a selector. A nil rng uses the process-wide source.
func NewAmountSelector(margin, minAmount uint64, rng RandSource) *AmountSelector {
	if rng == nil {
		rng = globalRand{}
	}
	if minAmount == 0 {
		minAmount = 1
	}
	return &AmountSelector{
		Margin:    margin,
		MinAmount: minAmount,
		rng:       rng,
	}
}

// MaxAmount returns balance - fee - margin, or false when that is not positive.
func (s *AmountSelector) MaxAmount(balance, fee uint64) (uint64, bool) {
	reserve := fee + s.Margin
	if reserve < fee || balance <= reserve {
		return 0, false
	}
	return balance - reserve, true
}

// Select draws an amount uniformly from [MinAmount, balance - fee - margin].
func (s *AmountSelector) Select(balance, fee uint64) (uint64, error) {
	lower := max(s.MinAmount, 1)
	upper, ok := s.MaxAmount(balance, fee)
	if !ok || upper < lower {
		return 0, fmt.Errorf("%w: balance %d lamports does not cover fee %d + margin %d + minimum %d",
			ErrInsufficientFunds, balance, fee, s.Margin, lower)
	}
	return lower + s.rng.Uint64N(upper-lower+1), nil
}
