package usecase

import (
	"fmt"
	"sort"

	"github.com/vitos/crypto_martingale/internal/domain"
)

const (
	StrategySteadyClimb = "steady_climb"
	StrategyPowerSurge  = "power_surge"

	defaultLeverage     = 25
	defaultBaseFraction = 0.001
)

var (
	steadyClimbMultipliers = []float64{0.25, 0.27, 0.36, 0.47, 0.63, 0.83, 1.08, 1.43, 1.88, 2.47, 3.25, 4.30, 5.68, 7.51, 9.93}
	powerSurgeMultipliers  = []float64{0.40, 0.54, 0.72, 0.94, 1.26, 1.66, 2.16, 2.86, 3.76, 4.94, 6.50, 8.60, 11.36, 15.02, 19.86}
)

// StrategyCatalog is the read-only set of named martingale ladders.
type StrategyCatalog struct {
	strategies map[string]domain.StrategyDefinition
}

func NewStrategyCatalog() *StrategyCatalog {
	c := &StrategyCatalog{strategies: make(map[string]domain.StrategyDefinition)}
	c.add(domain.StrategyDefinition{
		Name:                StrategySteadyClimb,
		DisplayName:         "Steady Climb (conservative)",
		CapitalBaseFraction: defaultBaseFraction,
		Leverage:            defaultLeverage,
		Multipliers:         steadyClimbMultipliers,
	})
	c.add(domain.StrategyDefinition{
		Name:                StrategyPowerSurge,
		DisplayName:         "Power Surge (aggressive)",
		CapitalBaseFraction: defaultBaseFraction,
		Leverage:            defaultLeverage,
		Multipliers:         powerSurgeMultipliers,
	})
	return c
}

func (c *StrategyCatalog) add(def domain.StrategyDefinition) {
	def.MaxLevels = len(def.Multipliers)
	c.strategies[def.Name] = def
}

// Get returns a copy of the named definition.
func (c *StrategyCatalog) Get(name string) (domain.StrategyDefinition, error) {
	def, ok := c.strategies[name]
	if !ok {
		return domain.StrategyDefinition{}, fmt.Errorf("%w: %q", domain.ErrStrategyNotFound, name)
	}
	return cloneDefinition(def), nil
}

// List returns all definitions sorted by name.
func (c *StrategyCatalog) List() []domain.StrategyDefinition {
	out := make([]domain.StrategyDefinition, 0, len(c.strategies))
	for _, def := range c.strategies {
		out = append(out, cloneDefinition(def))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func cloneDefinition(def domain.StrategyDefinition) domain.StrategyDefinition {
	mult := make([]float64, len(def.Multipliers))
	copy(mult, def.Multipliers)
	def.Multipliers = mult
	return def
}
