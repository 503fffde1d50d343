// Package tool holds the global tool registry, the loader that selects
// active tools per request and the wrapper that makes a tool invocable
// by the agent with caching, permission checks and timeouts applied.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// Intent classifies what a tool is primarily for.
type Intent string

// Primary intents.
const (
	IntentQuestion Intent = "question"
	IntentAction   Intent = "action"
	IntentSearch   Intent = "search"
	IntentAnalysis Intent = "analysis"
	IntentUtility  Intent = "utility"
)

// TagEssential marks tools included regardless of any caller filter.
const TagEssential = "essential"

// Parameter describes one tool argument for the planner.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Definition is the declarative tool metadata exposed to the LLM.
type Definition struct {
	AppName  string `json:"app_name"`
	ToolName string `json:"tool_name"`

	// Description is user-facing; LLMDescription is planner-facing.
	Description    string `json:"description"`
	LLMDescription string `json:"llm_description,omitempty"`

	Parameters []Parameter     `json:"parameters,omitempty"`
	ArgsSchema json.RawMessage `json:"args_schema,omitempty"`

	Examples      []string `json:"examples,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	PrimaryIntent Intent   `json:"primary_intent,omitempty"`
	WhenToUse     []string `json:"when_to_use,omitempty"`
	WhenNotToUse  []string `json:"when_not_to_use,omitempty"`
	TypicalQuery  []string `json:"typical_queries,omitempty"`
}

// FullName is "<app_name>.<tool_name>".
func (d *Definition) FullName() string {
	return d.AppName + "." + d.ToolName
}

// Essential reports whether the tool is always active.
func (d *Definition) Essential() bool {
	for _, tag := range d.Tags {
		if tag == TagEssential {
			return true
		}
	}
	return false
}

// Validate checks the minimum a registrable tool must carry.
func (d *Definition) Validate() error {
	if d.AppName == "" {
		return fmt.Errorf("tool app name is required")
	}
	if d.ToolName == "" {
		return fmt.Errorf("tool name is required")
	}
	if d.Description == "" {
		return fmt.Errorf("tool %s: description is required", d.FullName())
	}
	return nil
}

// Handler executes the tool. Args are the decoded tool-call arguments.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool couples metadata with its executable body.
type Tool struct {
	Definition
	Handler Handler

	// Idempotent tools may run in parallel within an agent iteration
	// and have their results cached.
	Idempotent bool
}
