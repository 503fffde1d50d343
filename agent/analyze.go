package agent

import "strings"

// QueryClass drives history depth and retrieval.
type QueryClass string

// Query classes.
const (
	ClassSimple  QueryClass = "simple"
	ClassComplex QueryClass = "complex"
)

// complexMarkers are phrases that indicate a multi-step or analytical
// question.
var complexMarkers = []string{
	"compare", "analyze", "analyse", "summarize", "summarise",
	"explain why", "walk through", "step by step", "difference between",
	"and then", "as well as", "across",
}

// analyze classifies the query to pick the history depth and decide
// whether vector retrieval should run.
func analyze(question string) (QueryClass, bool) {
	trimmed := strings.TrimSpace(question)
	lower := strings.ToLower(trimmed)

	complex := len(trimmed) > 160 ||
		strings.Count(trimmed, "?") > 1 ||
		strings.Count(lower, " and ") >= 2
	if !complex {
		for _, marker := range complexMarkers {
			if strings.Contains(lower, marker) {
				complex = true
				break
			}
		}
	}

	// Greetings and trivial acknowledgements need neither retrieval nor
	// much history.
	needsRetrieval := len(trimmed) > 12 || strings.Contains(trimmed, "?")

	if complex {
		return ClassComplex, needsRetrieval
	}
	return ClassSimple, needsRetrieval
}

// historyDepth is the number of prior messages kept in the prompt.
func (c QueryClass) historyDepth() int {
	if c == ClassComplex {
		return historyDepthComplex
	}
	return historyDepthSimple
}

// retrievalQueries derives the parallel search queries for a question.
// Complex questions are split on sentence boundaries so each clause
// gets its own similarity search.
func retrievalQueries(question string, class QueryClass) []string {
	queries := []string{question}
	if class != ClassComplex {
		return queries
	}
	for _, part := range strings.FieldsFunc(question, func(r rune) bool {
		return r == '?' || r == ';' || r == '\n'
	}) {
		part = strings.TrimSpace(part)
		if len(part) > 12 && part != question {
			queries = append(queries, part)
		}
		if len(queries) == 3 {
			break
		}
	}
	return queries
}
