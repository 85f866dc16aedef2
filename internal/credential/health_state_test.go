package credential

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMaxErrorCountFlipsUnhealthyAndExcludesFromSelection(t *testing.T) {
	cred := &Credential{ID: "cred-flip", ProviderType: "p", ErrorCodeCounts: make(map[int]int)}
	mgr := newTestManager(cred)
	mgr.autoBan.MaxErrorCount = 3

	mgr.MarkFailure("cred-flip", "upstream error", 500)
	mgr.MarkFailure("cred-flip", "upstream error", 500)

	cred.mu.RLock()
	unhealthy := cred.Unhealthy
	cred.mu.RUnlock()
	require.False(t, unhealthy, "below the threshold the credential stays healthy")
	_, err := mgr.SelectForModel("p", "")
	require.NoError(t, err)

	mgr.MarkFailure("cred-flip", "upstream error", 500)

	cred.mu.RLock()
	unhealthy = cred.Unhealthy
	cred.mu.RUnlock()
	require.True(t, unhealthy, "reaching max_error_count flips the credential unhealthy")
	require.False(t, cred.IsHealthy())
	_, err = mgr.SelectForModel("p", "")
	require.Error(t, err, "an unhealthy credential must not be selected")
}

func TestUnhealthyRecoversViaProbeSuccess(t *testing.T) {
	cred := &Credential{ID: "cred-heal", ProviderType: "p", CheckHealth: true, Unhealthy: true, FailureCount: 3}
	mgr := newTestManager(cred)

	_, err := mgr.SelectForModel("p", "")
	require.Error(t, err)

	mgr.runHealthProbes(context.Background(), time.Minute, func(context.Context, *Credential) error {
		return nil
	})

	cred.mu.RLock()
	require.False(t, cred.Unhealthy, "a successful probe recovers the credential")
	require.Zero(t, cred.FailureCount)
	cred.mu.RUnlock()
	_, err = mgr.SelectForModel("p", "")
	require.NoError(t, err)
}

func TestUnhealthyRecoversViaManualEnable(t *testing.T) {
	cred := &Credential{ID: "cred-reset", ProviderType: "p", Unhealthy: true, FailureCount: 5}
	mgr := newTestManager(cred)

	require.NoError(t, mgr.EnableCredential("cred-reset"))

	cred.mu.RLock()
	require.False(t, cred.Unhealthy)
	require.Zero(t, cred.FailureCount)
	cred.mu.RUnlock()
	_, err := mgr.SelectForModel("p", "")
	require.NoError(t, err)
}

func TestSuccessfulRefreshDoesNotClearUnhealthy(t *testing.T) {
	srv := newRefreshTestServer(t, http.StatusOK, `{"access_token":"fresh-at","expires_in":3600,"token_type":"Bearer"}`)
	defer srv.Close()

	cred := &Credential{
		ID:           "cred-still-sick",
		Type:         "oauth",
		ClientID:     "cid",
		ClientSecret: "csecret",
		RefreshToken: "old-rt",
		Unhealthy:    true,
		FailureCount: 3,
	}
	mgr := newTestManager(cred)
	mgr.tokenURL = srv.URL

	require.NoError(t, mgr.RefreshCredential(context.Background(), "cred-still-sick"))

	cred.mu.RLock()
	defer cred.mu.RUnlock()
	require.Equal(t, "fresh-at", cred.AccessToken)
	require.True(t, cred.Unhealthy, "only a probe or manual reset clears the unhealthy state, not a token refresh")
}
