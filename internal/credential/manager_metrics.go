package credential

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// MarkSuccess marks a credential as successful and persists its state.
func (m *Manager) MarkSuccess(credID string) {
	var target *Credential
	m.mu.RLock()
	for _, cred := range m.credentials {
		if cred.ID == credID {
			cred.MarkSuccess()
			target = cred
			break
		}
	}
	m.mu.RUnlock()

	if target != nil {
		m.persistCredentialState(target, false)
		if ts := m.getTokenStore(); ts != nil {
			if err := ts.AtomicUsageUpdate(context.Background(), credID, 1); err != nil {
				log.Warnf("Failed to push usage count for %s to storage: %v", credID, err)
			}
		}
	}
}

// MarkFailure marks a credential as failed (enhanced with status code) and persists the outcome.
func (m *Manager) MarkFailure(credID string, reason string, statusCode int) {
	var target *Credential
	var unhealthy bool
	m.mu.RLock()
	for _, cred := range m.credentials {
		if cred.ID == credID {
			cred.MarkFailureWithConfig(reason, statusCode, m.autoBan)
			cred.mu.RLock()
			weight := cred.FailureWeight
			autoBanned := cred.AutoBanned
			bannedReason := cred.BannedReason
			consecutive := cred.ConsecutiveFails
			unhealthy = cred.Unhealthy
			cred.mu.RUnlock()
			target = cred

			if autoBanned {
				log.Warnf("Credential %s auto-banned: %s (status: %d, weight: %.2f)", credID, bannedReason, statusCode, weight)
			} else {
				log.Warnf("Credential %s failed: %s (status: %d, consecutive fails: %d, weight: %.2f)", credID, reason, statusCode, consecutive, weight)
			}
			break
		}
	}
	m.mu.RUnlock()

	if target != nil {
		m.persistCredentialState(target, true)
		if ts := m.getTokenStore(); ts != nil {
			if err := ts.AtomicErrorUpdate(context.Background(), credID, 1, unhealthy); err != nil {
				log.Warnf("Failed to push error count for %s to storage: %v", credID, err)
			}
		}
	}
}
