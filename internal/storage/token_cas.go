package storage

import (
	"context"
	"fmt"
	"time"
)

// AtomicTokenUpdate is the refresh coordinator's compare-and-swap
// write-back: it only applies newAccessToken/newRefreshToken/
// expiresAt if the credential's currently stored refresh_token still
// equals expectedRefreshToken, so two concurrent refreshes of the same
// credential can never race each other's write. It returns (false, nil)
// on a CAS mismatch (caller should re-read and retry or give up), and a
// non-nil error only for a genuine backend failure.
//
// Backends that don't expose a native compare-and-swap primitive (the
// file backend, and this generic default for any Backend) implement it
// as read-check-write under the per-credential lock the credential
// package already holds during a refresh; true cross-process atomicity
// is only as strong as the underlying Backend's per-key write
// guarantees (strongest for Redis/Postgres, weakest for the file
// backend, which is single-process by construction).
func (f *Facade) AtomicTokenUpdate(ctx context.Context, id, newAccessToken, newRefreshToken string, expiresAt time.Time, expectedRefreshToken string) (bool, error) {
	current, err := f.GetCredential(ctx, id)
	if err != nil {
		return false, fmt.Errorf("storage: atomic_token_update read %s: %w", id, err)
	}
	if current == nil {
		current = map[string]interface{}{}
	}
	if existing, _ := current["refresh_token"].(string); existing != expectedRefreshToken {
		return false, nil
	}
	current["access_token"] = newAccessToken
	current["refresh_token"] = newRefreshToken
	current["expires_at"] = expiresAt
	if err := f.SetCredential(ctx, id, current); err != nil {
		return false, fmt.Errorf("storage: atomic_token_update write %s: %w", id, err)
	}
	return true, nil
}

// AtomicUsageUpdate applies the pool manager's usage-count bump, a
// thin name over the existing IncrementUsage contract.
func (f *Facade) AtomicUsageUpdate(ctx context.Context, id string, delta int64) error {
	return f.IncrementUsage(ctx, id, "usage_count", delta)
}

// AtomicErrorUpdate applies the pool manager's error-count bump and,
// when markUnhealthy is set (the failure count crossed the max-error
// threshold), flips the stored credential's is_healthy field so other
// readers of the store see the unhealthy transition too.
func (f *Facade) AtomicErrorUpdate(ctx context.Context, id string, delta int64, markUnhealthy bool) error {
	if err := f.IncrementUsage(ctx, id, "error_count", delta); err != nil {
		return err
	}
	if !markUnhealthy {
		return nil
	}
	current, err := f.GetCredential(ctx, id)
	if err != nil {
		return fmt.Errorf("storage: atomic_error_update read %s: %w", id, err)
	}
	if current == nil {
		current = map[string]interface{}{}
	}
	current["is_healthy"] = false
	if err := f.SetCredential(ctx, id, current); err != nil {
		return fmt.Errorf("storage: atomic_error_update write %s: %w", id, err)
	}
	return nil
}
