// Package agent runs the bounded tool-calling loop that answers user
// queries. A request flows through a fixed graph of nodes: analyze,
// conditional_retrieve, get_user, prepare_prompt, then agent and
// execute_tools alternate until the model stops requesting tools or a
// safety limit trips, and final renders the response.
package agent

import (
	"context"
	"time"

	"github.com/c360studio/semsync/llm"
	"github.com/c360studio/semsync/tool"
	"github.com/c360studio/semsync/transform/vectorsink"
)

// Safety limits for one agent run.
const (
	maxIterations        = 15
	maxToolsPerIteration = 5
	maxToolRetries       = 2

	maxContextChars     = 100_000
	truncatedChars      = 2_000
	historyDepthSimple  = 6
	historyDepthComplex = 12
)

// Loop detection window over recent tool invocations.
const (
	loopWindow          = 5
	loopMaxUniqueNames  = 2
	loopMinRepeatedHits = 3
)

// Streaming pacing for the final node.
const (
	streamChunkDelay   = 10 * time.Millisecond
	fallbackChunkDelay = 20 * time.Millisecond
)

// Confidence levels for the final response.
const (
	ConfidenceVeryHigh = "Very High"
	ConfidenceHigh     = "High"
	ConfidenceMedium   = "Medium"
	ConfidenceLow      = "Low"
)

// Query is one user request.
type Query struct {
	UserID   string
	OrgKey   string
	Question string

	// History is the prior conversation, oldest first. It is trimmed to
	// the class-dependent depth during prompt assembly.
	History []llm.Message

	// ToolFilter restricts the active toolset; empty means all tools.
	ToolFilter []string
}

// UserInfo is the resolved identity injected into the prompt.
type UserInfo struct {
	UserID string
	Name   string
	Email  string
	OrgKey string
	Roles  []string
}

// UserLookup resolves user identity for prompt assembly. Lookup
// failures degrade to an id-only identity rather than failing the run.
type UserLookup func(ctx context.Context, userID string) (UserInfo, error)

// RetrievalBlock is a retrieved context block with its assigned number.
// The number shown to the model is the one returned in citations.
type RetrievalBlock struct {
	Number     int     `json:"number"`
	RecordKey  string  `json:"recordKey"`
	BlockIndex int     `json:"blockIndex"`
	BlockType  string  `json:"blockType,omitempty"`
	Content    string  `json:"content"`
	Similarity float32 `json:"similarity"`
}

// Retriever is the similarity-search dependency. Satisfied by
// *vectorsink.Retriever.
type Retriever interface {
	Search(ctx context.Context, orgID, query string) ([]vectorsink.RetrievedBlock, error)
}

// FinalResponse is the structured answer returned to the caller.
type FinalResponse struct {
	Answer          string         `json:"answer"`
	Reason          string         `json:"reason,omitempty"`
	Confidence      string         `json:"confidence"`
	AnswerMatchType string         `json:"answerMatchType,omitempty"`
	BlockNumbers    []int          `json:"blockNumbers,omitempty"`
	ReferenceData   map[string]any `json:"referenceData,omitempty"`
}

// State is the mutable per-request state threaded through the node
// graph. Run returns it even on error so partial tool results survive
// cancellation.
type State struct {
	Query Query
	Class QueryClass

	Messages         []llm.Message
	ToolResults      []tool.Result
	Iteration        int
	PendingToolCalls bool
	UserInfo         UserInfo
	RetrievalBlocks  []RetrievalBlock
	Errors           []string

	Final *FinalResponse
}

// Chunk is one piece of a streamed final response. The last chunk has
// Done set and carries the full response.
type Chunk struct {
	Text     string
	Done     bool
	Response *FinalResponse
}
