// Package dialect implements the wire-format conversion contract
// (convert_request / convert_response / convert_stream_chunk) between
// the four client-facing dialects and the provider-native dialects
// credentials speak, plus the proprietary Kiro event-stream sink.
package dialect

// Format identifies a request/response wire dialect.
type Format string

const (
	FormatOpenAIChat      Format = "openai_chat"
	FormatOpenAIResponses Format = "openai_responses"
	FormatClaudeMessages  Format = "claude_messages"
	FormatGemini          Format = "gemini"
	FormatKiroEvents      Format = "kiro_events" // proprietary AWS event-stream sink, see internal/eventstream
)

// ChunkKind tags a StreamChunk's payload, replacing duck-typed
// streaming objects with an explicit sum type.
type ChunkKind string

const (
	ChunkText     ChunkKind = "text"
	ChunkToolCall ChunkKind = "tool_call"
	ChunkUsage    ChunkKind = "usage"
	ChunkDone     ChunkKind = "done"
)

// StreamChunk is the normalized unit converters pass between dialects;
// exactly one of the payload fields is populated per Kind.
type StreamChunk struct {
	Kind ChunkKind

	Text string

	ToolCallID   string
	ToolName     string
	ToolArgsJSON string

	InputTokens     int64
	OutputTokens    int64
	ReasoningTokens int64

	FinishReason string
}

// Converter is the per-ordered-pair contract every dialect pair
// implements: pure functions, no network or credential access.
type Converter interface {
	From() Format
	To() Format
	ConvertRequest(model string, body []byte, stream bool) ([]byte, error)
	ConvertResponse(model string, body []byte) ([]byte, error)
	ConvertStreamChunk(model string, chunk StreamChunk) ([]byte, error)
}

// Registry resolves a Converter by (from, to) pair, an N-by-N lookup
// generalizing a single hardcoded request/response pair.
type Registry struct {
	converters map[[2]Format]Converter
}

func NewRegistry() *Registry {
	return &Registry{converters: make(map[[2]Format]Converter)}
}

func (r *Registry) Register(c Converter) {
	r.converters[[2]Format{c.From(), c.To()}] = c
}

func (r *Registry) Get(from, to Format) (Converter, bool) {
	c, ok := r.converters[[2]Format{from, to}]
	return c, ok
}
