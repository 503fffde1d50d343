package tools

import (
	"context"
	"encoding/json"

	"github.com/c360studio/semsync/tool"
	"github.com/c360studio/semsync/transform/vectorsink"
)

// searchBlocksTool exposes vector retrieval to the agent. It is tagged
// essential so it survives any toolset filter.
func searchBlocksTool(deps Deps) *tool.Tool {
	return &tool.Tool{
		Definition: tool.Definition{
			AppName:        "retrieval",
			ToolName:       "search_blocks",
			Description:    "Search the indexed knowledge base for relevant content blocks",
			LLMDescription: "Semantic search over all synced documents. Returns numbered content blocks with their source records.",
			Tags:           []string{tool.TagEssential},
			PrimaryIntent:  tool.IntentSearch,
			Parameters: []tool.Parameter{
				{Name: "query", Type: "string", Description: "Natural-language search query", Required: true},
				{Name: "orgId", Type: "string", Description: "Organization scope; defaults to the requesting org"},
			},
			ArgsSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string"},
					"orgId": {"type": "string"}
				},
				"required": ["query"]
			}`),
			WhenToUse:    []string{"The question concerns synced documents, pages or records"},
			WhenNotToUse: []string{"The question is conversational and needs no source material"},
		},
		Idempotent: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, err := stringArg(args, "query")
			if err != nil {
				return "", err
			}
			org := deps.DefaultOrg
			if v, ok := args["orgId"].(string); ok && v != "" {
				org = v
			}
			blocks, err := deps.Retriever.Search(ctx, org, query)
			if err != nil {
				return "", err
			}
			return vectorsink.FormatBlocks(blocks), nil
		},
	}
}
