package usecase

import (
	"fmt"

	"github.com/vitos/crypto_martingale/internal/domain"
)

// ValidateLevel fails with ErrInvalidLevel unless 1 <= level <= MaxLevels.
func ValidateLevel(level int, def domain.StrategyDefinition) error {
	if level < 1 || level > def.MaxLevels || level > len(def.Multipliers) {
		return fmt.Errorf("%w: %d (max %d)", domain.ErrInvalidLevel, level, def.MaxLevels)
	}
	return nil
}

// PositionSize returns the order size for a ladder level:
// balance * CapitalBaseFraction * Multipliers[level-1].
func PositionSize(balance float64, level int, def domain.StrategyDefinition) (float64, error) {
	if err := ValidateLevel(level, def); err != nil {
		return 0, err
	}
	base := balance * def.CapitalBaseFraction
	return base * def.Multipliers[level-1], nil
}
