package pipeline

// Result is the outcome of one pipeline invocation.
//
// Success holds when no fatal error occurred and the artifact is non-empty.
// PartialSuccess additionally signals that recoverable errors were recorded
// along the way.
type Result struct {
	Artifact       []byte
	Context        *Context
	Errors         []Error
	Success        bool
	PartialSuccess bool
}

// Finalize derives the success flags from the artifact and the reporter state.
func Finalize(ctx *Context, artifact []byte, reporter *ErrorReporter) *Result {
	errs := reporter.Errors()
	success := !reporter.HasFatal() && len(artifact) > 0
	return &Result{
		Artifact:       artifact,
		Context:        ctx,
		Errors:         errs,
		Success:        success,
		PartialSuccess: success && len(errs) > 0,
	}
}
