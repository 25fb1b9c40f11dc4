package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryListsBuiltins(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"flat", "rsi_reversion", "sma_cross"}, r.Names())
}

func TestRegistryBuildsWithDefaults(t *testing.T) {
	r := NewRegistry()

	s, err := r.Build("sma_cross", map[string]float64{})
	require.NoError(t, err)
	assert.Equal(t, 30, s.Warmup())

	s, err = r.Build("sma_cross", map[string]float64{"fast": 5, "slow": 12})
	require.NoError(t, err)
	assert.Equal(t, 12, s.Warmup())
}

func TestRegistryRejectsUnknownName(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("momentum_breakout", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown strategy")
}

func TestRegistryPropagatesFactoryValidation(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("sma_cross", map[string]float64{"fast": 50, "slow": 10})
	assert.Error(t, err)
}

func TestRegistryRegisterOverrides(t *testing.T) {
	r := NewRegistry()
	r.Register("flat", func(map[string]float64) (Strategy, error) {
		return NewFlat(), nil
	})
	s, err := r.Build("flat", nil)
	require.NoError(t, err)
	assert.Zero(t, s.Warmup())
}
