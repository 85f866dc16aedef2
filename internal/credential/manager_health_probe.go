package credential

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// ProbeFunc issues a minimal generation request upstream with the
// given credential, returning nil when the credential serves traffic.
type ProbeFunc func(ctx context.Context, cred *Credential) error

// StartHealthProbes periodically probes every credential flagged
// CheckHealth. A credential probed (successfully or not) within the
// last interval is skipped, so a failing credential is retried at most
// once per interval. Probe success recovers the credential and resets
// its failure counters; probe failure counts as a regular failure.
// Blocks until ctx is done; callers run it in a goroutine.
func (m *Manager) StartHealthProbes(ctx context.Context, interval time.Duration, probe ProbeFunc) {
	if probe == nil || interval <= 0 {
		return
	}

	log.Infof("Starting credential health probes (interval: %v)", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runHealthProbes(ctx, interval, probe)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) runHealthProbes(ctx context.Context, interval time.Duration, probe ProbeFunc) {
	m.mu.RLock()
	creds := make([]*Credential, len(m.credentials))
	copy(creds, m.credentials)
	m.mu.RUnlock()

	now := time.Now()
	for _, cred := range creds {
		if cred == nil {
			continue
		}
		cred.mu.RLock()
		enabled := cred.CheckHealth && !cred.Disabled
		lastProbe := cred.LastHealthCheckTime
		model := cred.CheckModelName
		cred.mu.RUnlock()
		if !enabled {
			continue
		}
		if !lastProbe.IsZero() && now.Sub(lastProbe) < interval {
			continue
		}

		err := probe(ctx, cred)

		cred.mu.Lock()
		cred.LastHealthCheckTime = time.Now()
		cred.LastHealthCheckModel = model
		cred.mu.Unlock()

		if err != nil {
			log.Warnf("Health probe failed for %s: %v", cred.ID, err)
			m.MarkFailure(cred.ID, "health probe: "+err.Error(), 0)
			continue
		}
		if err := m.recoverCredential(ctx, cred.ID); err != nil {
			log.Warnf("Health probe succeeded but recovery failed for %s: %v", cred.ID, err)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
