package pipeline

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// NewTraceID generates a fresh 16-hex-character correlation token.
func NewTraceID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return raw[:16]
}

var (
	traceMu    sync.Mutex
	traceStack []string
)

// PushTrace installs id as the ambient trace for the duration of a scope and
// returns a restore function. The ambient value exists so synchronous event
// handlers can recover the trace id without a signature change; pipeline code
// proper threads the Context value instead.
//
// The stack is process-wide, not goroutine-scoped: concurrent pipeline runs
// would interleave their trace ids. The CLI executes one run per process, so
// callers that run pipelines concurrently must rely on Context.TraceID alone.
func PushTrace(id string) func() {
	traceMu.Lock()
	traceStack = append(traceStack, id)
	traceMu.Unlock()

	return func() {
		traceMu.Lock()
		defer traceMu.Unlock()
		if n := len(traceStack); n > 0 {
			traceStack = traceStack[:n-1]
		}
	}
}

// CurrentTrace returns the innermost ambient trace id, or "" when no pipeline
// scope is active.
func CurrentTrace() string {
	traceMu.Lock()
	defer traceMu.Unlock()
	if n := len(traceStack); n > 0 {
		return traceStack[n-1]
	}
	return ""
}
