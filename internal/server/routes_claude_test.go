package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aiproxy/internal/credential"
	gw "aiproxy/internal/gateway"

	"github.com/gin-gonic/gin"
)

type fakeClaudeUpstream struct {
	body string
}

func (f *fakeClaudeUpstream) Call(_ context.Context, _ *credential.Credential, _ string, _ []byte, _ bool) (*http.Response, error) {
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestServeClaudeMessagesStreamEnvelopeOrder(t *testing.T) {
	sse := "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"ok\"}]}}],\"usageMetadata\":{\"promptTokenCount\":28,\"candidatesTokenCount\":5}}\n\n"

	mgr := credential.NewManager(credential.Options{SelectionCooldownSeconds: -1})
	if err := mgr.AddCredential(&credential.Credential{ID: "c1", ProviderType: credential.DefaultProviderType}); err != nil {
		t.Fatalf("AddCredential: %v", err)
	}
	handler := gw.NewHandler(mgr, claudeGatewayRegistry(), gw.RouteTable{Chains: credential.FallbackChains{}},
		map[string]gw.UpstreamCaller{credential.DefaultProviderType: &fakeClaudeUpstream{body: sse}})

	engine := gin.New()
	engine.POST("/v1/messages", func(c *gin.Context) { serveClaudeMessages(c, handler) })

	req := httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"claude-sonnet-4-5","stream":true,"max_tokens":16,"messages":[{"role":"user","content":"Say 'ok'."}]}`))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var events []string
	var deltaData string
	lines := strings.Split(rec.Body.String(), "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "event: ") {
			continue
		}
		name := strings.TrimPrefix(line, "event: ")
		events = append(events, name)
		if name == "message_delta" && i+1 < len(lines) {
			deltaData = strings.TrimPrefix(lines[i+1], "data: ")
		}
	}

	want := []string{"message_start", "content_block_start", "content_block_delta", "content_block_stop", "message_delta", "message_stop"}
	if len(events) != len(want) {
		t.Fatalf("event sequence = %v, want %v\nbody:\n%s", events, want, rec.Body.String())
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s (full sequence %v)", i, events[i], want[i], events)
		}
	}

	var delta struct {
		Usage struct {
			InputTokens              int64 `json:"input_tokens"`
			CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
			OutputTokens             int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal([]byte(deltaData), &delta); err != nil {
		t.Fatalf("unmarshal message_delta data %q: %v", deltaData, err)
	}
	sum := delta.Usage.InputTokens + delta.Usage.CacheCreationInputTokens + delta.Usage.CacheReadInputTokens
	if sum != 28 {
		t.Fatalf("usage buckets sum to %d, want the upstream prompt count 28: %+v", sum, delta.Usage)
	}
	if delta.Usage.OutputTokens != 5 {
		t.Fatalf("output_tokens = %d, want 5", delta.Usage.OutputTokens)
	}
}
