package vectorsink

import "strings"

// charsPerToken is the approximate average characters per token for GPT
// tokenizers.
const charsPerToken = 4

// ChunkConfig holds chunking configuration for oversized blocks.
type ChunkConfig struct {
	// TargetTokens is the ideal chunk size in tokens.
	TargetTokens int

	// MaxTokens is the maximum chunk size before a block is split.
	MaxTokens int
}

// DefaultChunkConfig returns sensible chunking defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		TargetTokens: 1000,
		MaxTokens:    1500,
	}
}

func estimateTokens(text string) int {
	return len(text) / charsPerToken
}

// splitBlock splits block text that exceeds MaxTokens into chunks of
// roughly TargetTokens, breaking on paragraph boundaries where possible.
// Text at or under MaxTokens comes back as a single chunk.
func splitBlock(cfg ChunkConfig, text string) []string {
	if estimateTokens(text) <= cfg.MaxTokens {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		if estimateTokens(para) > cfg.MaxTokens {
			flush()
			chunks = append(chunks, splitByLength(para, cfg.TargetTokens*charsPerToken)...)
			continue
		}
		if current.Len() > 0 && estimateTokens(current.String())+estimateTokens(para) > cfg.TargetTokens {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}

// splitByLength hard-splits text with no paragraph structure.
func splitByLength(text string, maxChars int) []string {
	var chunks []string
	for len(text) > maxChars {
		cut := maxChars
		// Prefer breaking at whitespace near the limit.
		if idx := strings.LastIndexByte(text[:cut], ' '); idx > maxChars/2 {
			cut = idx
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
