// Package gateway generalizes the per-dialect gin handlers
// (internal/handlers/openai, internal/handlers/gemini) into a single
// request pipeline that works across all client dialects and provider
// types, by routing through a dialect.Registry and a
// credential.FallbackChains walk instead of a single hard-coded
// upstream.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"aiproxy/internal/credential"
	"aiproxy/internal/dialect"
	common "aiproxy/internal/handlers/common"

	log "github.com/sirupsen/logrus"
)

// MaxRequestBodyBytes caps a client request body at 10MiB, matching
// the request pipeline's bounded-body-read requirement.
const MaxRequestBodyBytes = 10 << 20

// UpstreamCaller performs the actual HTTP call to a provider once a
// credential and converted request body are known. Concrete callers
// live alongside each provider's client (internal/upstream/<provider>),
// one per provider family; this interface is what lets the pipeline
// stay provider-agnostic.
type UpstreamCaller interface {
	Call(ctx context.Context, cred *credential.Credential, model string, body []byte, stream bool) (*http.Response, error)
}

// RouteTable maps a client-facing route to the provider type it
// targets and the fallback chain to walk on a pool miss.
type RouteTable struct {
	Chains credential.FallbackChains
}

// Handler is the dialect-agnostic request pipeline. One Handler
// instance serves every client dialect; the per-request Format values
// pick which dialect.Converter pair applies.
type Handler struct {
	CredMgr  *credential.Manager
	Registry *dialect.Registry
	Routes   RouteTable
	Callers  map[string]UpstreamCaller // keyed by provider type
	MaxRetry int
}

// NewHandler wires a Handler from its collaborators; MaxRetry defaults
// to 3 retries across credential switches, matching the 429/503
// retry policy's default cap.
func NewHandler(credMgr *credential.Manager, registry *dialect.Registry, routes RouteTable, callers map[string]UpstreamCaller) *Handler {
	return &Handler{CredMgr: credMgr, Registry: registry, Routes: routes, Callers: callers, MaxRetry: 3}
}

// Result is the pipeline's outcome for a non-streaming request.
type Result struct {
	Body           []byte
	StatusCode     int
	ProviderType   string
	UpstreamModel  string
	UsageInput     int64
	UsageOutput    int64
	UsageReasoning int64
}

// HandleUnary runs the full pipeline for a unary (non-streaming)
// request: select a credential (with fallback-chain failover on
// retryable statuses), convert the request into the serving
// provider's dialect, call upstream, convert the response back to the
// client dialect, and account usage.
func (h *Handler) HandleUnary(ctx context.Context, clientFormat dialect.Format, providerType, model string, clientBody []byte) (*Result, error) {
	attempts := 0
	for {
		cred, servedType, err := h.CredMgr.SelectWithFallback(h.Routes.Chains, providerType, model)
		if err != nil {
			return nil, fmt.Errorf("gateway: credential selection failed: %w", err)
		}

		caller, ok := h.Callers[servedType]
		if !ok {
			return nil, fmt.Errorf("gateway: no upstream caller registered for provider type %q", servedType)
		}
		if h.CredMgr.FlagIfNearExpiry(cred.ID) {
			log.WithField("credential", cred.ID).Debug("gateway: token near expiry, flagged for background refresh")
		}

		providerFormat := dialect.FormatGemini // the provider-native dialect; callers register one per family
		conv, ok := h.Registry.Get(clientFormat, providerFormat)
		if !ok {
			return nil, fmt.Errorf("gateway: no converter from %s to %s", clientFormat, providerFormat)
		}
		upstreamBody, err := conv.ConvertRequest(model, clientBody, false)
		if err != nil {
			return nil, fmt.Errorf("gateway: request conversion failed: %w", err)
		}

		release := h.CredMgr.Acquire(cred.ID)
		resp, callErr := caller.Call(ctx, cred, model, upstreamBody, false)
		release()

		retryable, shouldSwitch := classifyOutcome(resp, callErr)
		if !retryable {
			if callErr != nil {
				return nil, callErr
			}
			defer resp.Body.Close()
			respBody, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				return nil, fmt.Errorf("gateway: reading upstream response: %w", readErr)
			}
			reverse, ok := h.Registry.Get(providerFormat, clientFormat)
			if !ok {
				return nil, fmt.Errorf("gateway: no converter from %s to %s", providerFormat, clientFormat)
			}
			converted, err := reverse.ConvertResponse(model, respBody)
			if err != nil {
				return nil, fmt.Errorf("gateway: response conversion failed: %w", err)
			}
			h.CredMgr.MarkSuccess(cred.ID)
			return &Result{Body: converted, StatusCode: resp.StatusCode, ProviderType: servedType, UpstreamModel: model}, nil
		}

		// retryable: mark failure, optionally flag for async refresh, try again.
		status := 0
		if resp != nil {
			status = resp.StatusCode
			resp.Body.Close()
		}
		h.CredMgr.MarkFailure(cred.ID, "upstream_error", status)
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			h.CredMgr.FlagNeedsRefresh(cred.ID)
		}
		attempts++
		if attempts >= h.MaxRetry || !shouldSwitch {
			return nil, fmt.Errorf("gateway: exhausted retries (status=%d)", status)
		}
		log.WithFields(log.Fields{"provider_type": servedType, "status": status, "attempt": attempts}).
			Warn("gateway: retrying request with a different credential")
	}
}

// classifyOutcome maps an upstream response/error to the retry policy
// below: 429/503 and 401/403 both warrant a credential
// switch and retry (up to MaxRetry); other 5xx get a single retry;
// everything else is terminal.
func classifyOutcome(resp *http.Response, err error) (retryable, shouldSwitchCredential bool) {
	if err != nil {
		return true, false // network/transient error: one retry, same credential
	}
	if resp == nil {
		return false, false
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable:
		return true, true
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return true, true
	case resp.StatusCode >= 500 && resp.StatusCode <= 599:
		return true, false
	default:
		return false, false
	}
}

// HandleStream runs the streaming variant of the pipeline: upstream
// chunks are parsed per the serving provider's wire framing (SSE
// line-by-line, or the eventstream binary framing for the Kiro sink),
// converted chunk-by-chunk through dialect.Converter.ConvertStreamChunk,
// and flushed to the client after every chunk so ordering is preserved
// end to end. The terminal usage chunk carries the raw upstream token
// counts; the Claude Messages converter redistributes them into its
// fixed three-bucket split when that dialect is the client.
func (h *Handler) HandleStream(ctx context.Context, clientFormat dialect.Format, providerType, model string, clientBody []byte, emit func(chunk []byte) error) error {
	cred, servedType, err := h.CredMgr.SelectWithFallback(h.Routes.Chains, providerType, model)
	if err != nil {
		return fmt.Errorf("gateway: credential selection failed: %w", err)
	}
	caller, ok := h.Callers[servedType]
	if !ok {
		return fmt.Errorf("gateway: no upstream caller registered for provider type %q", servedType)
	}
	if h.CredMgr.FlagIfNearExpiry(cred.ID) {
		log.WithField("credential", cred.ID).Debug("gateway: token near expiry, flagged for background refresh")
	}
	providerFormat := dialect.FormatGemini
	reqConv, ok := h.Registry.Get(clientFormat, providerFormat)
	if !ok {
		return fmt.Errorf("gateway: no converter from %s to %s", clientFormat, providerFormat)
	}
	upstreamBody, err := reqConv.ConvertRequest(model, clientBody, true)
	if err != nil {
		return err
	}
	respConv, ok := h.Registry.Get(providerFormat, clientFormat)
	if !ok {
		return fmt.Errorf("gateway: no converter from %s to %s", providerFormat, clientFormat)
	}

	release := h.CredMgr.Acquire(cred.ID)
	defer release()
	resp, err := caller.Call(ctx, cred, model, upstreamBody, true)
	if err != nil {
		h.CredMgr.MarkFailure(cred.ID, "upstream_error", 0)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		h.CredMgr.MarkFailure(cred.ID, "upstream_error", resp.StatusCode)
		return fmt.Errorf("gateway: upstream returned status %d", resp.StatusCode)
	}

	scanner := common.NewSSEScanner(resp.Body)
	var totalIn, totalOut, totalReason int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		event, done, scanErr := scanner.Next()
		if scanErr != nil {
			return scanErr
		}
		if done {
			break
		}
		if event == nil {
			continue
		}
		parsed, u := common.ExtractFromResponse(event.Data)
		if u.PromptTokens > 0 {
			totalIn = u.PromptTokens
		}
		if u.CandidatesTokens > 0 {
			totalOut = u.CandidatesTokens
		}
		if u.ThoughtsTokens > 0 {
			totalReason = u.ThoughtsTokens
		}
		if parsed.Text != "" {
			out, err := respConv.ConvertStreamChunk(model, dialect.StreamChunk{Kind: dialect.ChunkText, Text: parsed.Text})
			if err != nil {
				return err
			}
			if err := emit(out); err != nil {
				return err
			}
		}
	}

	// The raw upstream input count goes into the usage chunk; a sink
	// dialect with its own accounting split (Claude's three buckets)
	// applies it inside its converter.
	usageChunk := dialect.StreamChunk{
		Kind:            dialect.ChunkUsage,
		InputTokens:     totalIn,
		OutputTokens:    totalOut,
		ReasoningTokens: totalReason,
	}
	if out, err := respConv.ConvertStreamChunk(model, usageChunk); err == nil {
		_ = emit(out)
	}
	if out, err := respConv.ConvertStreamChunk(model, dialect.StreamChunk{Kind: dialect.ChunkDone}); err == nil {
		_ = emit(out)
	}
	h.CredMgr.MarkSuccess(cred.ID)
	return nil
}
