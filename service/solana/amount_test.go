package solana

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedRand always returns the same offset, clamped to the range.
type fixedRand struct{ offset uint64 }

func (f fixedRand) Uint64N(n uint64) uint64 {
	if f.offset >= n {
		return n - 1
	}
	return f.offset
}

func TestAmountSelector_Bounds(t *testing.T) {
	const (
		balance = 1_000_000
		fee     = 5_000
		margin  = 1_000
	)
	selector := NewAmountSelector(margin, 0, rand.New(rand.NewPCG(1, 2)))

	upper, ok := selector.MaxAmount(balance, fee)
	require.True(t, ok)
	assert.Equal(t, uint64(994_000), upper)

	for i := 0; i < 10_000; i++ {
		amount, err := selector.Select(balance, fee)
		require.NoError(t, err)
		assert.Greater(t, amount, uint64(0))
		assert.LessOrEqual(t, amount, uint64(994_000))
	}
}

func TestAmountSelector_Endpoints(t *testing.T) {
	t.Run("lowest draw is the minimum amount", func(t *testing.T) {
		selector := NewAmountSelector(1_000, 10, fixedRand{offset: 0})
		amount, err := selector.Select(1_000_000, 5_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), amount)
	})

	t.Run("highest draw is balance minus fee and margin", func(t *testing.T) {
		selector := NewAmountSelector(1_000, 0, fixedRand{offset: ^uint64(0)})
		amount, err := selector.Select(1_000_000, 5_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(994_000), amount)
	})

	t.Run("single possible value", func(t *testing.T) {
		selector := NewAmountSelector(0, 0, nil)
		amount, err := selector.Select(5_001, 5_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), amount)
	})
}

func TestAmountSelector_InsufficientFunds(t *testing.T) {
	tests := []struct {
		name      string
		balance   uint64
		fee       uint64
		margin    uint64
		minAmount uint64
	}{
		{name: "empty account", balance: 0, fee: 5_000, margin: 1_000},
		{name: "below fee", balance: 4_000, fee: 5_000, margin: 0},
		{name: "exactly fee plus margin", balance: 6_000, fee: 5_000, margin: 1_000},
		{name: "cannot reach minimum", balance: 6_500, fee: 5_000, margin: 1_000, minAmount: 1_000},
		{name: "reserve overflows", balance: 10_000, fee: ^uint64(0), margin: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selector := NewAmountSelector(tt.margin, tt.minAmount, nil)
			amount, err := selector.Select(tt.balance, tt.fee)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInsufficientFunds)
			assert.Equal(t, uint64(0), amount)
			assert.Equal(t, ExitInsufficientFunds, ExitCode(err))
		})
	}
}

func TestAmountSelector_DrawsAreIndependent(t *testing.T) {
	selector := NewAmountSelector(1_000, 0, nil)

	seen := make(map[uint64]bool)
	for i := 0; i < 20; i++ {
		amount, err := selector.Select(1_000_000_000, 5_000)
		require.NoError(t, err)
		seen[amount] = true
	}

	// 20 draws over ~10^9 values; a repeat-only sequence means the source is not random.
	assert.Greater(t, len(seen), 1)
}
