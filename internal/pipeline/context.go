package pipeline

import (
	"fmt"
	"unicode/utf8"
)

// Mode selects the pipeline's failure semantics.
type Mode string

const (
	// ModeStrict aborts on the first fatal error.
	ModeStrict Mode = "strict"
	// ModeTolerant accumulates errors and continues past recoverable failures.
	ModeTolerant Mode = "tolerant"
)

// MetadataLimit caps the total byte length of Context metadata (keys plus
// rendered values). Oversize additions are truncated and flagged.
const MetadataLimit = 64 * 1024

// Context is the per-invocation value object threaded through every stage.
// It is owned by a single pipeline run and never shared across runs.
type Context struct {
	TraceID    string
	SourceURL  string
	Mode       Mode
	DebugLevel int
	UserRoutes []string
	Exclusions []string

	metadata     map[string]string
	metadataSize int
	truncated    bool
}

// NewContext builds a fresh Context. An empty trace id is replaced with a
// newly generated one; an empty mode defaults to tolerant.
func NewContext(traceID, sourceURL string, mode Mode) *Context {
	if traceID == "" {
		traceID = NewTraceID()
	}
	if mode == "" {
		mode = ModeTolerant
	}
	return &Context{
		TraceID:   traceID,
		SourceURL: sourceURL,
		Mode:      mode,
		metadata:  make(map[string]string),
	}
}

// Strict reports whether the run aborts on fatal errors.
func (c *Context) Strict() bool {
	return c.Mode == ModeStrict
}

// SetMetadata records a key/value pair, enforcing the total size cap. Values
// that would push the map past the limit are truncated to the remaining space
// and the context is flagged.
func (c *Context) SetMetadata(key, value string) {
	if c.metadata == nil {
		c.metadata = make(map[string]string)
	}
	cost := len(key) + len(value)
	if prev, ok := c.metadata[key]; ok {
		c.metadataSize -= len(key) + len(prev)
	}
	if c.metadataSize+cost > MetadataLimit {
		room := MetadataLimit - c.metadataSize - len(key)
		if room < 0 {
			room = 0
		}
		if room < len(value) {
			// Back off to the previous rune start so the cut never
			// leaves a broken UTF-8 sequence behind.
			for room > 0 && !utf8.RuneStart(value[room]) {
				room--
			}
			value = value[:room]
			c.truncated = true
		}
		cost = len(key) + len(value)
	}
	c.metadata[key] = value
	c.metadataSize += cost
}

// Metadata fetches a metadata value.
func (c *Context) Metadata(key string) (string, bool) {
	v, ok := c.metadata[key]
	return v, ok
}

// MetadataTruncated reports whether any addition was cut to fit the cap.
func (c *Context) MetadataTruncated() bool {
	return c.truncated
}

// MetadataLen returns the number of stored metadata entries.
func (c *Context) MetadataLen() int {
	return len(c.metadata)
}

func (c *Context) String() string {
	return fmt.Sprintf("pipeline[trace=%s mode=%s source=%s]", c.TraceID, c.Mode, c.SourceURL)
}
