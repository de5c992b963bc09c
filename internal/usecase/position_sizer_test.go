package usecase_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_martingale/internal/domain"
	"github.com/vitos/crypto_martingale/internal/usecase"
)

func TestPositionSize_AllLevels(t *testing.T) {
	balances := []float64{0, 1, 1000, 12345.67, 250000}

	for _, def := range usecase.NewStrategyCatalog().List() {
		for _, balance := range balances {
			for level := 1; level <= def.MaxLevels; level++ {
				got, err := usecase.PositionSize(balance, level, def)
				require.NoError(t, err)
				want := balance * def.CapitalBaseFraction * def.Multipliers[level-1]
				assert.Equal(t, want, got, "%s balance=%v level=%d", def.Name, balance, level)
			}
		}
	}
}

func TestPositionSize_Example(t *testing.T) {
	def, err := usecase.NewStrategyCatalog().Get(usecase.StrategyPowerSurge)
	require.NoError(t, err)

	// 10000 * 0.001 = 10 base, level 3 multiplier 0.72
	size, err := usecase.PositionSize(10000, 3, def)
	require.NoError(t, err)
	assert.InDelta(t, 7.2, size, 1e-9)
}

func TestPositionSize_InvalidLevel(t *testing.T) {
	def, err := usecase.NewStrategyCatalog().Get(usecase.StrategySteadyClimb)
	require.NoError(t, err)

	for _, level := range []int{-1, 0, 16, 100} {
		_, err := usecase.PositionSize(1000, level, def)
		assert.ErrorIs(t, err, domain.ErrInvalidLevel, "level %d", level)
	}
}

func TestPositionSize_NonPositiveBalance(t *testing.T) {
	def, err := usecase.NewStrategyCatalog().Get(usecase.StrategySteadyClimb)
	require.NoError(t, err)

	size, err := usecase.PositionSize(-50, 1, def)
	require.NoError(t, err)
	assert.LessOrEqual(t, size, 0.0)
}

func TestPositionSize_DoesNotMutateDefinition(t *testing.T) {
	def, err := usecase.NewStrategyCatalog().Get(usecase.StrategySteadyClimb)
	require.NoError(t, err)
	before := append([]float64(nil), def.Multipliers...)

	_, _ = usecase.PositionSize(1000, 5, def)
	assert.Equal(t, before, def.Multipliers)
}
