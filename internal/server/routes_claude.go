package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"aiproxy/internal/config"
	"aiproxy/internal/credential"
	"aiproxy/internal/dialect"
	gw "aiproxy/internal/gateway"
	hcommon "aiproxy/internal/handlers/common"
	mw "aiproxy/internal/middleware"
	"github.com/gin-gonic/gin"
)

// geminiCaller adapts the existing per-credential Gemini upstream client
// (internal/handlers/common.UpstreamClientFor, already shared by the
// OpenAI and Gemini dialect handlers) to gateway.UpstreamCaller, so the
// dialect-agnostic gateway pipeline can drive the one upstream family
// this deployment actually speaks.
type geminiCaller struct {
	cfg *config.Config
}

func (g *geminiCaller) Call(ctx context.Context, cred *credential.Credential, model string, body []byte, stream bool) (*http.Response, error) {
	client := hcommon.UpstreamClientFor(g.cfg, cred, "claude-messages")
	if stream {
		return client.Stream(ctx, body)
	}
	return client.Generate(ctx, body)
}

// claudeGatewayRegistry builds the dialect.Registry for the Claude Messages
// client surface. Only the claude_messages<->gemini pair is wired since this
// deployment's only upstream family is Gemini; adding another provider
// family means registering its converter pair and UpstreamCaller here,
// not touching the pipeline itself.
func claudeGatewayRegistry() *dialect.Registry {
	reg := dialect.NewRegistry()
	reg.Register(dialect.NewClaudeToGeminiConverter())
	reg.Register(dialect.NewGeminiToClaudeConverter())
	return reg
}

// RegisterClaudeRoutes mounts the Claude-Messages-compatible client
// surface (POST /v1/messages) on top of the gateway request pipeline,
// sharing the same credential pool and upstream client the
// OpenAI/Gemini-native routes already use.
func RegisterClaudeRoutes(root *gin.RouterGroup, cfg *config.Config, deps Dependencies) *gw.Handler {
	var claudeAuth gin.HandlerFunc
	if cm := config.GetConfigManager(); cm != nil {
		if fc := cm.GetConfig(); fc != nil && len(fc.APIKeys) > 0 {
			claudeAuth = mw.MultiKeyAuth(fc.APIKeys)
		}
	}
	if claudeAuth == nil {
		claudeAuth = mw.UnifiedAuth(mw.AuthConfig{RequiredKey: cfg.Upstream.GeminiKey})
	}

	maxRetry := cfg.Routing.CredentialSwitchMaxRetries
	if maxRetry <= 0 {
		maxRetry = 3
	}
	handler := gw.NewHandler(
		deps.CredentialManager,
		claudeGatewayRegistry(),
		gw.RouteTable{Chains: credential.FallbackChains(cfg.Routing.FallbackChain)},
		map[string]gw.UpstreamCaller{credential.DefaultProviderType: &geminiCaller{cfg: cfg}},
	)
	handler.MaxRetry = maxRetry

	v1 := root.Group("/v1")
	v1.Use(claudeAuth)
	v1.POST("/messages", func(c *gin.Context) { serveClaudeMessages(c, handler) })

	return handler
}

type claudeMessagesRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

func serveClaudeMessages(c *gin.Context, handler *gw.Handler) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, gw.MaxRequestBodyBytes+1))
	if err != nil {
		writeClaudeError(c, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}
	if len(body) > gw.MaxRequestBodyBytes {
		writeClaudeError(c, http.StatusBadRequest, "invalid_request_error", "request body exceeds maximum size")
		return
	}

	var req claudeMessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeClaudeError(c, http.StatusBadRequest, "invalid_request_error", "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeClaudeError(c, http.StatusBadRequest, "invalid_request_error", "missing required field: model")
		return
	}

	ctx := c.Request.Context()
	if !req.Stream {
		serveClaudeUnary(ctx, c, handler, req.Model, body)
		return
	}
	serveClaudeStream(ctx, c, handler, req.Model, body)
}

func serveClaudeUnary(ctx context.Context, c *gin.Context, handler *gw.Handler, model string, body []byte) {
	result, err := handler.HandleUnary(ctx, dialect.FormatClaudeMessages, credential.DefaultProviderType, model, body)
	if err != nil {
		mapClaudeGatewayError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", result.Body)
}

// serveClaudeStream relays the pipeline's per-chunk output as Claude
// Messages SSE events, synthesizing the envelope events
// (message_start/content_block_start/content_block_stop) the dialect
// converter doesn't itself emit (it only emits the per-chunk deltas),
// so the wire sequence is always
// message_start, content_block_start, content_block_delta..., content_block_stop,
// message_delta, message_stop.
func serveClaudeStream(ctx context.Context, c *gin.Context, handler *gw.Handler, model string, body []byte) {
	w, flusher := hcommon.PrepareSSE(c)

	_ = hcommon.SSEWriteEvent(w, flusher, "message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": "msg_stream", "type": "message", "role": "assistant",
			"model": model, "content": []any{},
		},
	})
	_ = hcommon.SSEWriteEvent(w, flusher, "content_block_start", map[string]any{
		"type": "content_block_start", "index": 0,
		"content_block": map[string]any{"type": "text", "text": ""},
	})

	stoppedContentBlock := false
	emit := func(chunk []byte) error {
		var parsed map[string]any
		if err := json.Unmarshal(chunk, &parsed); err != nil {
			return err
		}
		eventType, _ := parsed["type"].(string)
		if !stoppedContentBlock && (eventType == "message_delta" || eventType == "message_stop") {
			stoppedContentBlock = true
			if err := hcommon.SSEWriteEvent(w, flusher, "content_block_stop", map[string]any{
				"type": "content_block_stop", "index": 0,
			}); err != nil {
				return err
			}
		}
		if eventType == "content_block_delta" || eventType == "content_block_start" {
			parsed["index"] = 0
		}
		return hcommon.SSEWriteEvent(w, flusher, eventType, parsed)
	}

	if err := handler.HandleStream(ctx, dialect.FormatClaudeMessages, credential.DefaultProviderType, model, body, emit); err != nil {
		_ = hcommon.SSEWriteEvent(w, flusher, "error", map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "api_error", "message": err.Error()},
		})
		return
	}
}

func writeClaudeError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, gin.H{"error": gin.H{"type": errType, "message": message}})
}

// mapClaudeGatewayError maps the pipeline's classified outcomes to the
// Claude error envelope. The pipeline currently surfaces failures as
// plain errors rather than typed ones; a "no eligible credential"
// selection failure is the one outcome distinguishable by message
// today, so it maps to 503 no_healthy_providers, and everything else
// falls back to a generic 502 upstream error.
func mapClaudeGatewayError(c *gin.Context, err error) {
	msg := err.Error()
	if strings.Contains(msg, "credential selection failed") {
		writeClaudeError(c, http.StatusServiceUnavailable, "no_healthy_providers", "no healthy credential available for this request")
		return
	}
	if strings.Contains(msg, "exhausted retries") {
		writeClaudeError(c, http.StatusTooManyRequests, "rate_limit_error", msg)
		return
	}
	writeClaudeError(c, http.StatusBadGateway, "api_error", msg)
}
