package credential

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSelectForModelPicksLeastRecentlyUsed(t *testing.T) {
	older := &Credential{ID: "a", ProviderType: "gemini-cli-oauth", LastUsed: time.Now().Add(-time.Hour)}
	newer := &Credential{ID: "b", ProviderType: "gemini-cli-oauth", LastUsed: time.Now()}
	mgr := newTestManager(newer, older)

	cred, err := mgr.SelectForModel("gemini-cli-oauth", "")
	require.NoError(t, err)
	require.Equal(t, "a", cred.ID)
	require.Equal(t, int64(1), cred.UsageCount)
}

func TestSelectForModelTiebreaksOnUsageCountThenID(t *testing.T) {
	zeroTime := time.Time{}
	c1 := &Credential{ID: "z", ProviderType: "p", LastUsed: zeroTime, UsageCount: 5}
	c2 := &Credential{ID: "a", ProviderType: "p", LastUsed: zeroTime, UsageCount: 5}
	mgr := newTestManager(c1, c2)

	cred, err := mgr.SelectForModel("p", "")
	require.NoError(t, err)
	require.Equal(t, "a", cred.ID, "equal LastUsed and UsageCount should tiebreak on ID ascending")
}

func TestSelectForModelExcludesUnsupportedModel(t *testing.T) {
	c1 := &Credential{ID: "a", ProviderType: "p", NotSupportedModels: []string{"gpt-5"}}
	c2 := &Credential{ID: "b", ProviderType: "p"}
	mgr := newTestManager(c1, c2)

	cred, err := mgr.SelectForModel("p", "gpt-5")
	require.NoError(t, err)
	require.Equal(t, "b", cred.ID)
}

func TestSelectForModelExcludesDisabledAndBanned(t *testing.T) {
	disabled := &Credential{ID: "a", ProviderType: "p", Disabled: true}
	banned := &Credential{ID: "b", ProviderType: "p", BanUntil: time.Now().Add(time.Hour)}
	mgr := newTestManager(disabled, banned)

	_, err := mgr.SelectForModel("p", "")
	require.Error(t, err)
}

func TestSelectForModelNoCandidatesReturnsError(t *testing.T) {
	mgr := newTestManager()
	_, err := mgr.SelectForModel("missing-type", "model")
	require.Error(t, err)
}

func TestSelectWithFallbackWalksChainWithinProtocol(t *testing.T) {
	primary := &Credential{ID: "a", ProviderType: "claude-kiro-oauth", Disabled: true}
	fallback := &Credential{ID: "b", ProviderType: "claude-console"}
	offProtocol := &Credential{ID: "c", ProviderType: "gemini-cli-oauth"}
	mgr := newTestManager(primary, fallback, offProtocol)

	chains := FallbackChains{
		"claude-kiro-oauth": {"gemini-cli-oauth", "claude-console"},
	}
	cred, servedType, err := mgr.SelectWithFallback(chains, "claude-kiro-oauth", "")
	require.NoError(t, err)
	require.Equal(t, "b", cred.ID)
	require.Equal(t, "claude-console", servedType)
}

func TestSelectWithFallbackExhaustedReturnsError(t *testing.T) {
	disabled := &Credential{ID: "a", ProviderType: "claude-kiro-oauth", Disabled: true}
	mgr := newTestManager(disabled)
	_, _, err := mgr.SelectWithFallback(FallbackChains{}, "claude-kiro-oauth", "")
	require.Error(t, err)
}

func TestSelectForModelRespectsCooldownAfterFailure(t *testing.T) {
	cooling := &Credential{ID: "a", ProviderType: "p", LastFailure: time.Now().Add(-5 * time.Second)}
	fresh := &Credential{ID: "b", ProviderType: "p", LastUsed: time.Now()}
	mgr := newTestManager(cooling, fresh)
	mgr.selectionCooldown = time.Minute

	// "a" would win on LRU but sits out its cooldown window.
	cred, err := mgr.SelectForModel("p", "")
	require.NoError(t, err)
	require.Equal(t, "b", cred.ID)

	cooling.mu.Lock()
	cooling.LastFailure = time.Now().Add(-2 * time.Minute)
	cooling.mu.Unlock()
	cred, err = mgr.SelectForModel("p", "")
	require.NoError(t, err)
	require.Equal(t, "a", cred.ID, "credential is selectable again once the cooldown elapses")
}

func TestConcurrentSelectsStayFairAndCountEveryUse(t *testing.T) {
	c1 := &Credential{ID: "a", ProviderType: "p"}
	c2 := &Credential{ID: "b", ProviderType: "p"}
	c3 := &Credential{ID: "c", ProviderType: "p"}
	mgr := newTestManager(c1, c2, c3)

	const selects = 90
	errCh := make(chan error, selects)
	var wg sync.WaitGroup
	for i := 0; i < selects; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.SelectForModel("p", "")
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	var total int64
	counts := make([]int64, 0, 3)
	for _, c := range []*Credential{c1, c2, c3} {
		c.mu.RLock()
		counts = append(counts, c.UsageCount)
		total += c.UsageCount
		c.mu.RUnlock()
	}
	require.Equal(t, int64(selects), total, "every successful select must be counted exactly once")
	for i := 1; i < len(counts); i++ {
		diff := counts[i] - counts[0]
		if diff < 0 {
			diff = -diff
		}
		require.LessOrEqual(t, diff, int64(1), "LRU selection keeps healthy credentials within one use of each other")
	}
}

func TestFlagIfNearExpiryOnlyFlagsExpiringOAuth(t *testing.T) {
	near := &Credential{ID: "near", ProviderType: "p", Type: "oauth", RefreshToken: "rt", AccessToken: "at", ExpiresAt: time.Now().Add(30 * time.Second)}
	far := &Credential{ID: "far", ProviderType: "p", Type: "oauth", RefreshToken: "rt", AccessToken: "at", ExpiresAt: time.Now().Add(time.Hour)}
	mgr := newTestManager(near, far)

	require.True(t, mgr.FlagIfNearExpiry("near"))
	require.False(t, mgr.FlagIfNearExpiry("far"))

	near.mu.RLock()
	require.True(t, near.NeedsRefresh)
	near.mu.RUnlock()
	far.mu.RLock()
	require.False(t, far.NeedsRefresh)
	far.mu.RUnlock()
}

func TestProtocolPrefix(t *testing.T) {
	require.Equal(t, "claude", ProtocolPrefix("claude-kiro-oauth"))
	require.Equal(t, "gemini", ProtocolPrefix("gemini-cli-oauth"))
	require.Equal(t, "solo", ProtocolPrefix("solo"))
}
