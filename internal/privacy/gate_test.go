package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchpulse/chatsync/internal/model"
)

func TestGateDefaultsToHidden(t *testing.T) {
	g := NewGate()

	assert.False(t, g.ShowReceipts("unknown"))
	_, ok := g.Policy("unknown")
	assert.False(t, ok)
}

func TestGateCachesPolicy(t *testing.T) {
	g := NewGate()

	g.Set("p1", model.PrivacyPolicy{ReadReceipts: true})

	p, ok := g.Policy("p1")
	require.True(t, ok)
	assert.True(t, p.ReadReceipts)
	assert.True(t, g.ShowReceipts("p1"))
}

func TestShowReceiptsIsEitherFlag(t *testing.T) {
	g := NewGate()

	g.Set("read-only", model.PrivacyPolicy{ReadReceipts: true})
	g.Set("delivery-only", model.PrivacyPolicy{DeliveryStatus: true})
	g.Set("neither", model.PrivacyPolicy{})

	assert.True(t, g.ShowReceipts("read-only"))
	assert.True(t, g.ShowReceipts("delivery-only"))
	assert.False(t, g.ShowReceipts("neither"))
}
