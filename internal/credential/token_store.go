package credential

import (
	"context"
	"time"
)

// TokenStore is the slice of the storage facade the credential manager
// writes through: compare-and-swap token persistence for the refresh
// path, and the atomic usage/error counters backing pool bookkeeping.
// *storage.Facade satisfies it; the manager stays decoupled from the
// storage package the same way StateStore keeps it decoupled from the
// state file layout.
type TokenStore interface {
	GetCredential(ctx context.Context, id string) (map[string]interface{}, error)
	AtomicTokenUpdate(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time, expectedRefreshToken string) (bool, error)
	AtomicUsageUpdate(ctx context.Context, id string, delta int64) error
	AtomicErrorUpdate(ctx context.Context, id string, delta int64, markUnhealthy bool) error
}

// SetTokenStore wires the storage facade used for token CAS write-back
// and usage/error counter pushes. Safe to call after construction; the
// server wires it once the storage backend is built.
func (m *Manager) SetTokenStore(ts TokenStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenStore = ts
}

func (m *Manager) getTokenStore() TokenStore {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokenStore
}

// storedTime decodes an expiry value as persisted by a backend: the
// in-memory map keeps time.Time, JSON-roundtripping backends hand back
// an RFC3339 string.
func storedTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
