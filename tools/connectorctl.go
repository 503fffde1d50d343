package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/c360studio/semsync/connector"
	"github.com/c360studio/semsync/kvstore"
	"github.com/c360studio/semsync/messaging"
	"github.com/c360studio/semsync/tool"
)

var connectorArgsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"connector": {"type": "string"}
	},
	"required": ["connector"]
}`)

// connectorStatusTool reports one connector's configuration and sync
// position.
func connectorStatusTool(deps Deps) *tool.Tool {
	syncPoints := connector.NewSyncPointStore(deps.Store)
	return &tool.Tool{
		Definition: tool.Definition{
			AppName:        "connector",
			ToolName:       "status",
			Description:    "Show a connector's configuration and sync position",
			LLMDescription: "Reports whether a connector is enabled, its sync interval, cursor and resync epoch.",
			PrimaryIntent:  tool.IntentQuestion,
			Parameters: []tool.Parameter{
				{Name: "connector", Type: "string", Description: "Connector instance name", Required: true},
			},
			ArgsSchema: connectorArgsSchema,
		},
		Idempotent: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name, err := stringArg(args, "connector")
			if err != nil {
				return "", err
			}

			cfg, err := connector.LoadConfig(ctx, deps.Store, name)
			if errors.Is(err, kvstore.ErrKeyNotFound) {
				return fmt.Sprintf("connector %q is not configured", name), nil
			}
			if err != nil {
				return "", err
			}

			sp, err := syncPoints.Load(ctx, name)
			if err != nil {
				return "", err
			}

			status := map[string]any{
				"connector":       name,
				"enabled":         cfg.Enabled,
				"intervalSeconds": cfg.IntervalSeconds,
				"autoIndexOff":    cfg.AutoIndexOff,
				"cursor":          sp.Cursor,
				"epoch":           sp.Epoch,
			}
			if !sp.UpdatedAt.IsZero() {
				status["lastSync"] = sp.UpdatedAt
			}
			raw, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return "", err
			}
			return string(raw), nil
		},
	}
}

// listConnectorsTool lists the connector types compiled into the binary.
func listConnectorsTool() *tool.Tool {
	return &tool.Tool{
		Definition: tool.Definition{
			AppName:       "connector",
			ToolName:      "list_types",
			Description:   "List the available connector types",
			PrimaryIntent: tool.IntentQuestion,
		},
		Idempotent: true,
		Handler: func(context.Context, map[string]any) (string, error) {
			types := connector.RegisteredTypes()
			if len(types) == 0 {
				return "no connector types registered", nil
			}
			return strings.Join(types, "\n"), nil
		},
	}
}

// syncNowTool publishes a start event for a connector. Not idempotent:
// each call triggers a sync run.
func syncNowTool(deps Deps) *tool.Tool {
	return &tool.Tool{
		Definition: tool.Definition{
			AppName:        "connector",
			ToolName:       "sync_now",
			Description:    "Trigger an immediate sync run for a connector",
			LLMDescription: "Publishes a start event so the connector syncs now instead of waiting for its interval.",
			PrimaryIntent:  tool.IntentAction,
			Parameters: []tool.Parameter{
				{Name: "connector", Type: "string", Description: "Connector instance name", Required: true},
			},
			ArgsSchema:   connectorArgsSchema,
			WhenNotToUse: []string{"A sync for the connector is already in flight"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name, err := stringArg(args, "connector")
			if err != nil {
				return "", err
			}
			event, err := json.Marshal(map[string]string{
				"eventType": name + ".start",
				"orgId":     deps.DefaultOrg,
			})
			if err != nil {
				return "", err
			}
			if err := deps.Producer.Publish(ctx, messaging.TopicConnectorEvents, name, event); err != nil {
				return "", fmt.Errorf("publish start event: %w", err)
			}
			return fmt.Sprintf("sync requested for connector %q", name), nil
		},
	}
}
