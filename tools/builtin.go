// Package tools provides the built-in tools exposed to the Semsync agent:
// vector retrieval over indexed blocks and connector control.
package tools

import (
	"fmt"

	"github.com/c360studio/semsync/kvstore"
	"github.com/c360studio/semsync/messaging"
	"github.com/c360studio/semsync/tool"
	"github.com/c360studio/semsync/transform/vectorsink"
)

// Deps are the platform handles the built-in tools close over.
type Deps struct {
	Retriever *vectorsink.Retriever
	Store     kvstore.Store
	Producer  messaging.Producer

	// DefaultOrg scopes retrieval when the model omits an orgId argument.
	DefaultOrg string
}

// Register adds all built-in tools to the registry.
func Register(registry *tool.Registry, deps Deps) error {
	builtins := []*tool.Tool{}
	if deps.Retriever != nil {
		builtins = append(builtins, searchBlocksTool(deps))
	}
	if deps.Store != nil {
		builtins = append(builtins, connectorStatusTool(deps), listConnectorsTool())
	}
	if deps.Producer != nil {
		builtins = append(builtins, syncNowTool(deps))
	}

	for _, t := range builtins {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("register builtin %s: %w", t.FullName(), err)
		}
	}
	return nil
}

// stringArg fetches a required string argument.
func stringArg(args map[string]any, name string) (string, error) {
	value, ok := args[name].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("missing required argument %q", name)
	}
	return value, nil
}
