package credential

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultProviderType is assigned to a loaded credential that doesn't
// carry an explicit provider-type tag. The bootstrap sources
// (source_file.go, env_source.go) predate the multi-pool model and never
// set one; defaulting here keeps every pre-existing credential visible
// under the one pool this deployment actually serves, while still
// letting an admin-created credential pick any provider type
// explicitly.
const DefaultProviderType = "gemini-cli-oauth"

// FallbackChains maps a provider type to the ordered list of provider
// types to try next when its own pool has no eligible credential. A
// chain only ever advances within the same protocol prefix (the
// substring of a provider type before its first '-'), so a "claude-*"
// request never silently falls back to a "gemini-*" credential.
type FallbackChains map[string][]string

// ProtocolPrefix returns the substring before the first '-' in a
// provider type, e.g. "claude-kiro-oauth" -> "claude".
func ProtocolPrefix(providerType string) string {
	if i := strings.IndexByte(providerType, '-'); i >= 0 {
		return providerType[:i]
	}
	return providerType
}

// poolFor returns the live (non-cloned) credentials belonging to a
// provider type. Caller must hold m.mu for at least reading.
func (m *Manager) poolFor(providerType string) []*Credential {
	out := make([]*Credential, 0, len(m.credentials))
	for _, c := range m.credentials {
		if c.ProviderType == providerType {
			out = append(out, c)
		}
	}
	return out
}

// eligible reports whether a credential may serve a request for the
// given model right now: not disabled, not unhealthy (failure count
// reached the max-error threshold and no probe has recovered it), not
// in its ban window, not inside the post-error cooldown, and not
// explicitly marked unsupported for this model.
func eligible(c *Credential, model string, now time.Time, cooldown time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Disabled || c.Unhealthy || c.AutoBanned {
		return false
	}
	if !c.BanUntil.IsZero() && now.Before(c.BanUntil) {
		return false
	}
	// A credential that errored moments ago sits out the cooldown
	// window even while still counted healthy.
	if cooldown > 0 && !c.LastFailure.IsZero() && now.Sub(c.LastFailure) < cooldown {
		return false
	}
	if model != "" {
		for _, m2 := range c.NotSupportedModels {
			if m2 == model {
				return false
			}
		}
	}
	return true
}

// SelectForModel implements the pool manager's primary selection
// algorithm: filter to the requested provider type's pool, drop
// credentials that don't support the model or are unhealthy/disabled/
// cooling down, then pick the least-recently-used credential, breaking
// ties by lowest usage count and finally by UUID for determinism. The
// winner's LastUsed/UsageCount are updated atomically under the
// manager lock before it is returned.
func (m *Manager) SelectForModel(providerType, model string) (*Credential, error) {
	winner, err := m.selectForModelLocked(providerType, model)
	if err != nil {
		return nil, err
	}
	// Persistence happens outside the pool lock; the usage bump itself
	// already landed atomically above.
	m.persistCredentialState(winner, false)
	return winner, nil
}

func (m *Manager) selectForModelLocked(providerType, model string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	candidates := make([]*Credential, 0, 4)
	for _, c := range m.poolFor(providerType) {
		if eligible(c, model, now, m.selectionCooldown) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no eligible credential for provider type %q model %q", providerType, model)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		a.mu.RLock()
		aLast, aUsage := a.LastUsed, a.UsageCount
		a.mu.RUnlock()
		b.mu.RLock()
		bLast, bUsage := b.LastUsed, b.UsageCount
		b.mu.RUnlock()
		if !aLast.Equal(bLast) {
			return aLast.Before(bLast)
		}
		if aUsage != bUsage {
			return aUsage < bUsage
		}
		return a.ID < b.ID
	})

	winner := candidates[0]
	winner.mu.Lock()
	winner.LastUsed = now
	winner.UsageCount++
	winner.mu.Unlock()
	return winner, nil
}

// FlagNeedsRefresh marks a credential for pickup by the bounded
// refresh queue after the request pipeline observes a 401/403
// from it — the credential itself isn't penalized with an error-count
// bump for this (that's the caller's MarkFailure's job); this only
// schedules a refresh attempt.
func (m *Manager) FlagNeedsRefresh(credID string) {
	_, _ = m.mutateCredential(credID, func(c *Credential) error {
		c.NeedsRefresh = true
		return nil
	})
}

// FlagIfNearExpiry flags a credential for background refresh when its
// token is inside the refresh-ahead window, reporting whether it did.
// The request that noticed proceeds on the current token; only the
// refresh queue blocks on the refresh itself.
func (m *Manager) FlagIfNearExpiry(credID string) bool {
	cred, ok := m.GetCredentialByID(credID)
	if !ok || !m.shouldRefresh(cred) {
		return false
	}
	m.FlagNeedsRefresh(credID)
	return true
}

// SelectWithFallback walks chain[providerType] (restricted to entries
// sharing providerType's protocol prefix) until SelectForModel
// succeeds or the chain is exhausted. It returns the credential and
// the provider type it was drawn from, so callers can dialect-convert
// the request for the type that actually served it.
func (m *Manager) SelectWithFallback(chains FallbackChains, providerType, model string) (*Credential, string, error) {
	prefix := ProtocolPrefix(providerType)
	tried := map[string]bool{}
	order := append([]string{providerType}, chains[providerType]...)
	var lastErr error
	for _, pt := range order {
		if tried[pt] || ProtocolPrefix(pt) != prefix {
			continue
		}
		tried[pt] = true
		cred, err := m.SelectForModel(pt, model)
		if err == nil {
			return cred, pt, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no provider types configured for protocol %q", prefix)
	}
	return nil, "", lastErr
}
