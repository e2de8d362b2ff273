// Package privacy caches the counterpart's receipt-visibility settings.
// The gate is a pure read-side filter: it decides what is rendered and
// never touches stored receipt state.
package privacy

import (
	"sync"

	"github.com/matchpulse/chatsync/internal/model"
)

// Gate holds per-conversation privacy policies, fetched once per opened
// chat alongside the history.
type Gate struct {
	mu       sync.RWMutex
	policies map[string]model.PrivacyPolicy
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{policies: make(map[string]model.PrivacyPolicy)}
}

// Set caches the partner's policy.
func (g *Gate) Set(partnerID string, policy model.PrivacyPolicy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policies[partnerID] = policy
}

// Policy returns the cached policy for a partner.
func (g *Gate) Policy(partnerID string) (model.PrivacyPolicy, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.policies[partnerID]
	return p, ok
}

// ShowReceipts reports whether receipt glyphs may be rendered for messages
// sent to this partner. Unknown partners default to hidden until their
// policy is fetched.
func (g *Gate) ShowReceipts(partnerID string) bool {
	p, ok := g.Policy(partnerID)
	return ok && p.ShowReceipts()
}
