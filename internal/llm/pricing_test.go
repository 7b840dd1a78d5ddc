package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostKnownModel(t *testing.T) {
	// gpt-4o-mini: $0.00015 in / $0.0006 out per 1K tokens
	cost := Cost("gpt-4o-mini", 1000, 1000)
	assert.InDelta(t, 0.00075, cost, 1e-9)
}

func TestCostUnknownModelUsesDefaultRate(t *testing.T) {
	cost := Cost("some-future-model", 1000, 1000)
	assert.Greater(t, cost, 0.0)
}

func TestCostZeroTokens(t *testing.T) {
	assert.Zero(t, Cost("gpt-4o-mini", 0, 0))
}

func TestCostScalesLinearly(t *testing.T) {
	one := Cost("claude-3-5-haiku-20241022", 1000, 500)
	two := Cost("claude-3-5-haiku-20241022", 2000, 1000)
	assert.InDelta(t, one*2, two, 1e-9)
}
