package usage

// ClaudeTokenSplit holds the three input-token buckets the Claude
// messages dialect reports separately, plus the passthrough output and
// reasoning counts.
type ClaudeTokenSplit struct {
	InputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
	OutputTokens             int64
	ReasoningTokens          int64
}

// RedistributeClaudeUsage splits a single upstream input-token count
// into Claude's three-bucket accounting at the fixed 1:2:25 ratio
// (28ths): input_tokens = U/28, cache_creation_input_tokens = U*2/28,
// cache_read_input_tokens = U*25/28, each an integer floor division so
// the three buckets never sum to more than U. Output and reasoning
// token counts pass through unchanged.
func RedistributeClaudeUsage(upstreamInputTokens, outputTokens, reasoningTokens int64) ClaudeTokenSplit {
	return ClaudeTokenSplit{
		InputTokens:              upstreamInputTokens / 28,
		CacheCreationInputTokens: (upstreamInputTokens * 2) / 28,
		CacheReadInputTokens:     (upstreamInputTokens * 25) / 28,
		OutputTokens:             outputTokens,
		ReasoningTokens:          reasoningTokens,
	}
}
