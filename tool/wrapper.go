package tool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/semsync/cache"
	"github.com/c360studio/semsync/permission"
)

// invokeTimeout bounds a single tool execution.
const invokeTimeout = 60 * time.Second

// ResultPermissionDenied is the tool-role message for denied calls.
const ResultPermissionDenied = "permission denied"

// ChatState is the per-request context a wrapper closes over.
type ChatState struct {
	UserID string
	OrgKey string

	Logger      *slog.Logger
	Caches      *cache.Manager
	Permissions *permission.Manager
}

// Result is what a tool invocation hands back to the agent. Failures are
// carried in the result rather than raised, so they become tool-role
// messages for the LLM instead of control flow.
type Result struct {
	ToolName string
	Output   string
	Failed   bool
	Cached   bool
}

// Wrapper is an invocable tool bound to one request's chat state.
type Wrapper struct {
	tool  *Tool
	state ChatState
}

// Wrap binds each active tool to the request state.
func Wrap(tools []*Tool, state ChatState) []*Wrapper {
	if state.Logger == nil {
		state.Logger = slog.Default()
	}
	wrappers := make([]*Wrapper, 0, len(tools))
	for _, t := range tools {
		wrappers = append(wrappers, &Wrapper{tool: t, state: state})
	}
	return wrappers
}

// Definition exposes the wrapped tool's metadata for prompt assembly.
func (w *Wrapper) Definition() *Definition { return &w.tool.Definition }

// FullName is the wrapped tool's full name.
func (w *Wrapper) FullName() string { return w.tool.FullName() }

// Idempotent reports whether the wrapped tool is safe to parallelize.
func (w *Wrapper) Idempotent() bool { return w.tool.Idempotent }

// Invoke executes the tool with permission check, cache lookup and
// timeout applied. It never returns an error: failures become Result
// payloads.
func (w *Wrapper) Invoke(ctx context.Context, args map[string]any) Result {
	name := w.tool.FullName()

	if w.state.Permissions != nil && !w.state.Permissions.UserAllowed(w.state.UserID, name) {
		w.state.Logger.Warn("Tool invocation denied", "tool", name, "user", w.state.UserID)
		return Result{ToolName: name, Output: ResultPermissionDenied, Failed: true}
	}

	var cacheKey string
	if w.cacheable() {
		cacheKey = cache.Key(name, args, w.state.UserID)
		if value, hit := w.state.Caches.Tool().Get(cacheKey); hit {
			if output, ok := value.(string); ok {
				return Result{ToolName: name, Output: output, Cached: true}
			}
		}
	}

	invokeCtx, cancel := context.WithTimeout(ctx, invokeTimeout)
	defer cancel()

	start := time.Now()
	output, err := w.tool.Handler(invokeCtx, args)
	if err != nil {
		w.state.Logger.Error("Tool invocation failed", "tool", name, "duration", time.Since(start), "error", err)
		return Result{ToolName: name, Output: fmt.Sprintf("tool %s failed: %v", name, err), Failed: true}
	}

	if cacheKey != "" {
		w.state.Caches.Tool().Put(cacheKey, output)
	}
	w.state.Logger.Debug("Tool invoked", "tool", name, "duration", time.Since(start))
	return Result{ToolName: name, Output: output}
}

// cacheable: only idempotent tools may serve cached results.
func (w *Wrapper) cacheable() bool {
	return w.tool.Idempotent && w.state.Caches != nil
}
