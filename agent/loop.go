package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semsync/cache"
	"github.com/c360studio/semsync/llm"
	"github.com/c360studio/semsync/permission"
	"github.com/c360studio/semsync/tool"
)

// Loop executes agent requests. It is safe for concurrent use; all
// per-request state lives in State.
type Loop struct {
	completer  llm.Completer
	registry   *tool.Registry
	retriever  Retriever
	caches     *cache.Manager
	userLookup UserLookup
	logger     *slog.Logger
	perms      *permission.Manager
}

// Option configures a Loop.
type Option func(*Loop)

// WithRegistry sets the tool registry the loop loads tools from.
func WithRegistry(r *tool.Registry) Option {
	return func(l *Loop) { l.registry = r }
}

// WithRetriever enables vector retrieval for context assembly.
func WithRetriever(r Retriever) Option {
	return func(l *Loop) { l.retriever = r }
}

// WithCaches wires the tool and retrieval caches.
func WithCaches(m *cache.Manager) Option {
	return func(l *Loop) { l.caches = m }
}

// WithUserLookup sets the identity resolver for get_user.
func WithUserLookup(fn UserLookup) Option {
	return func(l *Loop) { l.userLookup = fn }
}

// WithPermissions sets the permission manager enforced by tool wrappers.
func WithPermissions(p *permission.Manager) Option {
	return func(l *Loop) { l.perms = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New creates an agent loop around the given completer.
func New(completer llm.Completer, opts ...Option) *Loop {
	l := &Loop{
		completer: completer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// invocation is one tool call observed by loop detection.
type invocation struct {
	name        string
	fingerprint string
}

// Run drives the node graph for one query. The returned State is
// non-nil even on error so callers can surface partial tool results.
func (l *Loop) Run(ctx context.Context, query Query) (*State, error) {
	state := &State{Query: query}

	// analyze
	var needsRetrieval bool
	state.Class, needsRetrieval = analyze(query.Question)

	// conditional_retrieve
	if err := ctx.Err(); err != nil {
		return state, err
	}
	if err := l.conditionalRetrieve(ctx, state, needsRetrieval); err != nil {
		return state, err
	}

	// get_user
	if err := ctx.Err(); err != nil {
		return state, err
	}
	state.UserInfo = l.getUser(ctx, state)

	// prepare_prompt
	wrappers := l.activeWrappers(state)
	l.preparePrompt(state, wrappers)

	// agent ⇄ execute_tools
	var recent []invocation
	for state.Iteration < maxIterations {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		state.Iteration++

		resp, err := l.completer.Complete(ctx, llm.Request{
			Messages: state.Messages,
			Tools:    toolSchemas(wrappers),
		})
		if err != nil {
			state.Errors = append(state.Errors, err.Error())
			return state, fmt.Errorf("agent iteration %d: %w", state.Iteration, err)
		}

		state.Messages = append(state.Messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			state.PendingToolCalls = false
			state.Final = l.parseFinal(state, resp.Content)
			return state, nil
		}
		state.PendingToolCalls = true

		if err := l.executeTools(ctx, state, wrappers, resp.ToolCalls, &recent); err != nil {
			return state, err
		}
		state.PendingToolCalls = false

		if looping(recent) {
			state.Final = l.forcedFinal(state, "suspected loop: the same tool kept returning the same result")
			return state, nil
		}

		enforceContextCap(state.Messages)
	}

	state.Final = l.forcedFinal(state, fmt.Sprintf("iteration limit of %d reached before the model produced a final answer", maxIterations))
	return state, nil
}

// getUser resolves identity, degrading to an id-only identity when the
// lookup fails.
func (l *Loop) getUser(ctx context.Context, state *State) UserInfo {
	fallback := UserInfo{UserID: state.Query.UserID, OrgKey: state.Query.OrgKey}
	if l.userLookup == nil {
		return fallback
	}
	info, err := l.userLookup(ctx, state.Query.UserID)
	if err != nil {
		state.Errors = append(state.Errors, fmt.Sprintf("user lookup: %v", err))
		l.logger.Warn("User lookup failed", "user", state.Query.UserID, "error", err)
		return fallback
	}
	if info.OrgKey == "" {
		info.OrgKey = state.Query.OrgKey
	}
	return info
}

// activeWrappers loads and binds the active toolset for this request.
func (l *Loop) activeWrappers(state *State) []*tool.Wrapper {
	if l.registry == nil {
		return nil
	}
	active := l.registry.Active(state.Query.ToolFilter)
	return tool.Wrap(active, tool.ChatState{
		UserID:      state.Query.UserID,
		OrgKey:      state.Query.OrgKey,
		Logger:      l.logger,
		Caches:      l.caches,
		Permissions: l.perms,
	})
}

// preparePrompt assembles the system message, trimmed history and the
// user question.
func (l *Loop) preparePrompt(state *State, wrappers []*tool.Wrapper) {
	var sb strings.Builder
	sb.WriteString("You are an enterprise assistant answering questions over the organization's synced knowledge.\n")
	if state.UserInfo.Name != "" {
		fmt.Fprintf(&sb, "You are assisting %s (%s).\n", state.UserInfo.Name, state.UserInfo.Email)
	}
	if len(wrappers) > 0 {
		sb.WriteString("Call tools when you need fresh data. When you have enough information, answer without calling tools.\n")
	}
	sb.WriteString("Respond with a JSON object: " +
		`{"answer": string, "reason": string, "confidence": "Very High"|"High"|"Medium"|"Low", ` +
		`"answerMatchType": string, "blockNumbers": [int], "referenceData": object}` +
		". Cite context blocks by number in blockNumbers.\n")
	if retrieval := formatRetrievalContext(state.RetrievalBlocks); retrieval != "" {
		sb.WriteString("\n")
		sb.WriteString(retrieval)
		sb.WriteString("\n")
	}

	state.Messages = append(state.Messages, llm.Message{Role: llm.RoleSystem, Content: sb.String()})

	history := state.Query.History
	if depth := state.Class.historyDepth(); len(history) > depth {
		history = history[len(history)-depth:]
	}
	state.Messages = append(state.Messages, history...)
	state.Messages = append(state.Messages, llm.Message{Role: llm.RoleUser, Content: state.Query.Question})
}

// executeTools runs up to maxToolsPerIteration of the requested calls,
// in parallel where idempotent, and appends one tool-role message per
// requested call.
func (l *Loop) executeTools(ctx context.Context, state *State, wrappers []*tool.Wrapper, calls []llm.ToolCall, recent *[]invocation) error {
	byName := make(map[string]*tool.Wrapper, len(wrappers))
	for _, w := range wrappers {
		byName[w.FullName()] = w
	}

	results := make([]tool.Result, len(calls))
	executed := calls
	if len(executed) > maxToolsPerIteration {
		executed = executed[:maxToolsPerIteration]
		for i := maxToolsPerIteration; i < len(calls); i++ {
			results[i] = tool.Result{
				ToolName: calls[i].Name,
				Output:   "not executed: tool call limit reached for this iteration",
				Failed:   true,
			}
		}
		state.Errors = append(state.Errors, fmt.Sprintf("iteration %d requested %d tool calls, limit is %d", state.Iteration, len(calls), maxToolsPerIteration))
	}

	g, gctx := errgroup.WithContext(ctx)
	var sequential []int
	for i, call := range executed {
		w, ok := byName[call.Name]
		if !ok {
			results[i] = tool.Result{ToolName: call.Name, Output: fmt.Sprintf("unknown tool %q", call.Name), Failed: true}
			continue
		}
		if w.Idempotent() {
			g.Go(func() error {
				results[i] = l.invokeWithRetry(gctx, w, call)
				return nil
			})
		} else {
			sequential = append(sequential, i)
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, i := range sequential {
		if err := ctx.Err(); err != nil {
			return err
		}
		results[i] = l.invokeWithRetry(ctx, byName[executed[i].Name], executed[i])
	}

	if err := ctx.Err(); err != nil {
		// Keep whatever finished before cancellation.
		for _, res := range results {
			if res.ToolName != "" {
				state.ToolResults = append(state.ToolResults, res)
			}
		}
		return err
	}

	for i, res := range results {
		state.ToolResults = append(state.ToolResults, res)
		state.Messages = append(state.Messages, llm.Message{
			Role:       llm.RoleTool,
			Content:    res.Output,
			ToolCallID: calls[i].ID,
			Name:       res.ToolName,
		})
		*recent = append(*recent, invocation{name: res.ToolName, fingerprint: fingerprint(res.Output)})
		if len(*recent) > loopWindow {
			*recent = (*recent)[len(*recent)-loopWindow:]
		}
	}
	return nil
}

// invokeWithRetry decodes the call arguments and invokes the wrapper,
// retrying failed results.
func (l *Loop) invokeWithRetry(ctx context.Context, w *tool.Wrapper, call llm.ToolCall) tool.Result {
	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return tool.Result{ToolName: call.Name, Output: fmt.Sprintf("invalid tool arguments: %v", err), Failed: true}
		}
	}

	var result tool.Result
	for attempt := 0; attempt <= maxToolRetries; attempt++ {
		result = w.Invoke(ctx, args)
		if !result.Failed || result.Output == tool.ResultPermissionDenied || ctx.Err() != nil {
			return result
		}
	}
	return result
}

// looping reports whether the recent invocations look like a stuck
// loop: few distinct tools, mostly identical results.
func looping(recent []invocation) bool {
	if len(recent) < loopMinRepeatedHits {
		return false
	}
	names := make(map[string]struct{})
	fingerprints := make(map[string]int)
	repeated := 0
	for _, inv := range recent {
		names[inv.name] = struct{}{}
		fingerprints[inv.fingerprint]++
		if fingerprints[inv.fingerprint] > repeated {
			repeated = fingerprints[inv.fingerprint]
		}
	}
	return len(names) <= loopMaxUniqueNames && repeated >= loopMinRepeatedHits
}

func fingerprint(output string) string {
	sum := sha256.Sum256([]byte(output))
	return hex.EncodeToString(sum[:8])
}

// enforceContextCap truncates older tool outputs once the transcript
// exceeds the context budget, keeping the summary line and a preview.
func enforceContextCap(messages []llm.Message) {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	for i := range messages {
		if total <= maxContextChars {
			return
		}
		m := &messages[i]
		if m.Role != llm.RoleTool || len(m.Content) <= truncatedChars {
			continue
		}
		truncated := truncateOutput(m.Content)
		total -= len(m.Content) - len(truncated)
		m.Content = truncated
	}
}

// truncateOutput keeps the first (summary) line plus a preview of the
// rest, up to roughly truncatedChars.
func truncateOutput(content string) string {
	firstLine, rest, _ := strings.Cut(content, "\n")
	if len(firstLine) > truncatedChars {
		firstLine = firstLine[:truncatedChars]
		rest = ""
	}
	budget := truncatedChars - len(firstLine)
	if budget > 0 && len(rest) > budget {
		rest = rest[:budget]
	}
	out := firstLine
	if rest != "" {
		out += "\n" + rest
	}
	return out + "\n... [output truncated]"
}

func toolSchemas(wrappers []*tool.Wrapper) []llm.ToolSchema {
	schemas := make([]llm.ToolSchema, 0, len(wrappers))
	for _, w := range wrappers {
		def := w.Definition()
		description := def.LLMDescription
		if description == "" {
			description = def.Description
		}
		schemas = append(schemas, llm.ToolSchema{
			Name:        w.FullName(),
			Description: description,
			Parameters:  def.ArgsSchema,
		})
	}
	return schemas
}
