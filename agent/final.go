package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/semsync/llm"
)

// streamChunkSize is the target size of one streamed chunk.
const streamChunkSize = 48

var validConfidence = map[string]bool{
	ConfidenceVeryHigh: true,
	ConfidenceHigh:     true,
	ConfidenceMedium:   true,
	ConfidenceLow:      true,
}

// parseFinal decodes the model's final message into a FinalResponse.
// Content that is not the expected JSON becomes a plain answer. Tool
// failures are always summarized in the reason.
func (l *Loop) parseFinal(state *State, content string) *FinalResponse {
	final := &FinalResponse{Answer: strings.TrimSpace(content), Confidence: ConfidenceMedium}

	if raw := extractJSONObject(content); raw != "" {
		var parsed FinalResponse
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil && parsed.Answer != "" {
			final = &parsed
		}
	}
	if !validConfidence[final.Confidence] {
		final.Confidence = ConfidenceMedium
	}
	appendFailureSummary(final, state)
	return final
}

// forcedFinal builds a response when a safety limit ends the run before
// the model produces one.
func (l *Loop) forcedFinal(state *State, reason string) *FinalResponse {
	final := &FinalResponse{
		Answer:     lastUsefulContent(state),
		Reason:     reason,
		Confidence: ConfidenceLow,
	}
	if final.Answer == "" {
		final.Answer = "I could not produce a complete answer."
	}
	appendFailureSummary(final, state)
	l.logger.Warn("Agent run force-finalized", "iteration", state.Iteration, "reason", reason)
	return final
}

// appendFailureSummary adds a summary of failed tool calls to the
// reason. Failures are never silently dropped.
func appendFailureSummary(final *FinalResponse, state *State) {
	var failed []string
	for _, res := range state.ToolResults {
		if res.Failed {
			failed = append(failed, res.ToolName)
		}
	}
	if len(failed) == 0 {
		return
	}
	summary := fmt.Sprintf("%d tool call(s) failed: %s", len(failed), strings.Join(dedupe(failed), ", "))
	if final.Reason == "" {
		final.Reason = summary
	} else {
		final.Reason += "; " + summary
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// lastUsefulContent returns the most recent non-empty assistant text.
func lastUsefulContent(state *State) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		m := state.Messages[i]
		if m.Role == llm.RoleAssistant && strings.TrimSpace(m.Content) != "" {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}

// extractJSONObject finds the outermost JSON object in content,
// tolerating markdown code fences around it.
func extractJSONObject(content string) string {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}

// Stream emits the response answer as paced chunks. The final chunk has
// Done set and carries the full response. streaming=false applies the
// slower fallback pacing for models without native streaming.
func Stream(ctx context.Context, final *FinalResponse, streaming bool) <-chan Chunk {
	delay := streamChunkDelay
	if !streaming {
		delay = fallbackChunkDelay
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		ticker := time.NewTicker(delay)
		defer ticker.Stop()

		for i, chunk := range splitChunks(final.Answer) {
			if i > 0 {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
			select {
			case <-ctx.Done():
				return
			case out <- Chunk{Text: chunk}:
			}
		}
		select {
		case <-ctx.Done():
		case out <- Chunk{Done: true, Response: final}:
		}
	}()
	return out
}

// splitChunks breaks text into chunks near streamChunkSize, preferring
// whitespace boundaries.
func splitChunks(text string) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	for len(text) > streamChunkSize {
		cut := streamChunkSize
		if idx := strings.LastIndexByte(text[:cut], ' '); idx > streamChunkSize/2 {
			cut = idx + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return append(chunks, text)
}
