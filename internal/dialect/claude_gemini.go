package dialect

import (
	"encoding/json"
	"fmt"

	"aiproxy/internal/usage"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// claudeToGemini converts Claude Messages API requests/responses to
// and from Gemini's generateContent dialect, following the shape of
// the existing OpenAI<->Gemini translators in internal/translator,
// adapted to Claude's role/content-block schema instead of OpenAI's.
type claudeToGemini struct{}

// NewClaudeToGeminiConverter returns the claude_messages -> gemini
// direction of the pair.
func NewClaudeToGeminiConverter() Converter { return claudeToGemini{} }

func (claudeToGemini) From() Format { return FormatClaudeMessages }
func (claudeToGemini) To() Format   { return FormatGemini }

func (claudeToGemini) ConvertRequest(model string, body []byte, stream bool) ([]byte, error) {
	var contents []map[string]any
	var systemParts []map[string]any

	if sys := gjson.GetBytes(body, "system"); sys.Exists() {
		systemParts = append(systemParts, map[string]any{"text": sys.String()})
	}

	for _, msg := range gjson.GetBytes(body, "messages").Array() {
		role := msg.Get("role").String()
		geminiRole := "user"
		if role == "assistant" {
			geminiRole = "model"
		}
		var parts []any
		content := msg.Get("content")
		if content.IsArray() {
			for _, block := range content.Array() {
				switch block.Get("type").String() {
				case "text":
					parts = append(parts, map[string]any{"text": block.Get("text").String()})
				case "tool_use":
					var args any
					_ = json.Unmarshal([]byte(block.Get("input").Raw), &args)
					parts = append(parts, map[string]any{
						"functionCall": map[string]any{
							"name": block.Get("name").String(),
							"args": args,
						},
					})
				case "tool_result":
					parts = append(parts, map[string]any{
						"functionResponse": map[string]any{
							"name":     block.Get("tool_use_id").String(),
							"response": map[string]any{"content": block.Get("content").String()},
						},
					})
				}
			}
		} else {
			parts = append(parts, map[string]any{"text": content.String()})
		}
		contents = append(contents, map[string]any{"role": geminiRole, "parts": parts})
	}

	out := map[string]any{"contents": contents}
	if len(systemParts) > 0 {
		out["systemInstruction"] = map[string]any{"parts": systemParts}
	}
	if maxTok := gjson.GetBytes(body, "max_tokens"); maxTok.Exists() {
		out["generationConfig"] = map[string]any{"maxOutputTokens": maxTok.Int()}
	}
	return json.Marshal(out)
}

func (claudeToGemini) ConvertResponse(model string, body []byte) ([]byte, error) {
	text := ""
	finish := "end_turn"
	if cand := gjson.GetBytes(body, "candidates.0"); cand.Exists() {
		for _, part := range cand.Get("content.parts").Array() {
			text += part.Get("text").String()
		}
		if fr := cand.Get("finishReason").String(); fr == "MAX_TOKENS" {
			finish = "max_tokens"
		}
	}
	um := gjson.GetBytes(body, "usageMetadata")
	split := claudeSplit(um.Get("promptTokenCount").Int(), um.Get("candidatesTokenCount").Int())

	out := map[string]any{
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"stop_reason": finish,
		"usage":       split,
	}
	return json.Marshal(out)
}

// ConvertStreamChunk emits Gemini-shaped stream chunks, the sink
// dialect of this direction.
func (claudeToGemini) ConvertStreamChunk(model string, chunk StreamChunk) ([]byte, error) {
	switch chunk.Kind {
	case ChunkText:
		out, _ := sjson.SetBytes([]byte(`{"candidates":[{"content":{"parts":[]}}]}`), "candidates.0.content.parts.0.text", chunk.Text)
		return out, nil
	case ChunkToolCall:
		var args any
		_ = json.Unmarshal([]byte(chunk.ToolArgsJSON), &args)
		return json.Marshal(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{
					{"functionCall": map[string]any{"name": chunk.ToolName, "args": args}},
				}}},
			},
		})
	case ChunkUsage:
		return json.Marshal(map[string]any{
			"usageMetadata": map[string]any{
				"promptTokenCount":     chunk.InputTokens,
				"candidatesTokenCount": chunk.OutputTokens,
				"thoughtsTokenCount":   chunk.ReasoningTokens,
			},
		})
	case ChunkDone:
		return []byte(`{"candidates":[{"finishReason":"STOP"}]}`), nil
	default:
		return nil, fmt.Errorf("dialect: unknown chunk kind %q", chunk.Kind)
	}
}

// claudeSplit renders the fixed three-bucket input-token split as the
// Claude usage object. The raw upstream input count goes in; the
// redistribution itself lives in internal/usage.
func claudeSplit(inputTokens, outputTokens int64) map[string]any {
	split := usage.RedistributeClaudeUsage(inputTokens, outputTokens, 0)
	return map[string]any{
		"input_tokens":                split.InputTokens,
		"cache_creation_input_tokens": split.CacheCreationInputTokens,
		"cache_read_input_tokens":     split.CacheReadInputTokens,
		"output_tokens":               split.OutputTokens,
	}
}

// gemToClaude is the reverse direction of the same pair.
type gemToClaude struct{}

func NewGeminiToClaudeConverter() Converter { return gemToClaude{} }

func (gemToClaude) From() Format { return FormatGemini }
func (gemToClaude) To() Format   { return FormatClaudeMessages }

func (gemToClaude) ConvertRequest(model string, body []byte, stream bool) ([]byte, error) {
	var messages []map[string]any
	for _, c := range gjson.GetBytes(body, "contents").Array() {
		role := "user"
		if c.Get("role").String() == "model" {
			role = "assistant"
		}
		text := ""
		for _, p := range c.Get("parts").Array() {
			text += p.Get("text").String()
		}
		messages = append(messages, map[string]any{"role": role, "content": text})
	}
	out := map[string]any{"model": model, "messages": messages, "max_tokens": 4096}
	if sys := gjson.GetBytes(body, "systemInstruction.parts.0.text"); sys.Exists() {
		out["system"] = sys.String()
	}
	return json.Marshal(out)
}

func (gemToClaude) ConvertResponse(model string, body []byte) ([]byte, error) {
	text := ""
	for _, block := range gjson.GetBytes(body, "content").Array() {
		if block.Get("type").String() == "text" {
			text += block.Get("text").String()
		}
	}
	out := map[string]any{
		"candidates": []map[string]any{
			{
				"content":      map[string]any{"role": "model", "parts": []map[string]any{{"text": text}}},
				"finishReason": "STOP",
			},
		},
	}
	return json.Marshal(out)
}

// ConvertStreamChunk emits Claude Messages stream events, the sink
// dialect of this direction — this is the converter the /v1/messages
// streaming relay drives for every upstream chunk.
func (gemToClaude) ConvertStreamChunk(model string, chunk StreamChunk) ([]byte, error) {
	switch chunk.Kind {
	case ChunkText:
		return json.Marshal(map[string]any{
			"type":  "content_block_delta",
			"delta": map[string]any{"type": "text_delta", "text": chunk.Text},
		})
	case ChunkToolCall:
		var args any
		_ = json.Unmarshal([]byte(chunk.ToolArgsJSON), &args)
		return json.Marshal(map[string]any{
			"type": "content_block_start",
			"content_block": map[string]any{
				"type": "tool_use", "id": chunk.ToolCallID, "name": chunk.ToolName, "input": args,
			},
		})
	case ChunkUsage:
		return json.Marshal(map[string]any{
			"type":  "message_delta",
			"usage": claudeSplit(chunk.InputTokens, chunk.OutputTokens),
		})
	case ChunkDone:
		return json.Marshal(map[string]any{"type": "message_stop"})
	default:
		return nil, fmt.Errorf("dialect: unknown chunk kind %q", chunk.Kind)
	}
}
