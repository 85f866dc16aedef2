package usage

import "testing"

func TestRedistributeClaudeUsage(t *testing.T) {
	cases := []struct {
		name       string
		inputTok   int64
		wantInput  int64
		wantCreate int64
		wantRead   int64
	}{
		{"zero", 0, 0, 0, 0},
		{"exact28", 28, 1, 2, 25},
		{"floorsDown", 29, 1, 2, 25},
		{"largeValue", 2800, 100, 200, 2500},
		{"oneToken", 1, 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RedistributeClaudeUsage(tc.inputTok, 10, 5)
			if got.InputTokens != tc.wantInput {
				t.Fatalf("InputTokens = %d, want %d", got.InputTokens, tc.wantInput)
			}
			if got.CacheCreationInputTokens != tc.wantCreate {
				t.Fatalf("CacheCreationInputTokens = %d, want %d", got.CacheCreationInputTokens, tc.wantCreate)
			}
			if got.CacheReadInputTokens != tc.wantRead {
				t.Fatalf("CacheReadInputTokens = %d, want %d", got.CacheReadInputTokens, tc.wantRead)
			}
			sum := got.InputTokens + got.CacheCreationInputTokens + got.CacheReadInputTokens
			if sum > tc.inputTok {
				t.Fatalf("bucket sum %d exceeds upstream total %d", sum, tc.inputTok)
			}
			if got.OutputTokens != 10 || got.ReasoningTokens != 5 {
				t.Fatalf("output/reasoning passthrough changed: %+v", got)
			}
		})
	}
}
