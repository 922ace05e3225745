package ai

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "o200k_base"

// SplitByTokens cuts text into windows of at most maxTokens tokens. Windows
// end on a line break when one is available inside the window. A
// non-positive maxTokens returns the text as a single window.
func SplitByTokens(text string, maxTokens int) ([]string, error) {
	if maxTokens <= 0 || strings.TrimSpace(text) == "" {
		return []string{text}, nil
	}
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		return nil, err
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return []string{text}, nil
	}

	windows := make([]string, 0, len(tokens)/maxTokens+1)
	for start := 0; start < len(tokens); {
		end := min(start+maxTokens, len(tokens))
		chunk := enc.Decode(tokens[start:end])
		if end < len(tokens) {
			if cut := strings.LastIndex(chunk, "\n"); cut > len(chunk)/2 {
				consumed := len(enc.Encode(chunk[:cut+1], nil, nil))
				chunk = chunk[:cut+1]
				end = start + consumed
			}
		}
		windows = append(windows, chunk)
		start = end
	}
	return windows, nil
}
