package errors

import (
	"fmt"
)

// FetchError represents a failure while retrieving subscription bytes.
type FetchError struct {
	Source  string
	Status  int
	Message string
	Err     error
}

// NewFetchError constructs a FetchError for the given source.
func NewFetchError(source string, status int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &FetchError{Source: source, Status: status, Message: message, Err: err}
}

func (e *FetchError) Error() string {
	if e == nil {
		return ""
	}
	if e.Status > 0 {
		return fmt.Sprintf("fetch error: %s: HTTP %d: %s", e.Source, e.Status, e.Message)
	}
	return fmt.Sprintf("fetch error: %s: %s", e.Source, e.Message)
}

// Unwrap exposes the underlying error.
func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ParseError represents a subscription decoding failure with optional record metadata.
type ParseError struct {
	Format  string
	Record  int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(format string, record int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Format: format, Record: record, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	if e.Record > 0 {
		return fmt.Sprintf("parse error: %s: record %d: %s", e.Format, e.Record, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Format, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures profile or artifact validation issues.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PluginError indicates issues within plugin registration or execution.
type PluginError struct {
	Plugin  string
	Message string
	Err     error
}

// NewPluginError constructs a PluginError for the given plugin name.
func NewPluginError(plugin string, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &PluginError{Plugin: plugin, Message: message, Err: err}
}

func (e *PluginError) Error() string {
	if e == nil {
		return ""
	}
	if e.Plugin != "" {
		return fmt.Sprintf("plugin error [%s]: %s", e.Plugin, e.Message)
	}
	return fmt.Sprintf("plugin error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *PluginError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ExportError represents a failure while assembling the client artifact.
type ExportError struct {
	Format  string
	Message string
	Err     error
}

// NewExportError constructs an ExportError for the given target format.
func NewExportError(format string, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ExportError{Format: format, Message: message, Err: err}
}

func (e *ExportError) Error() string {
	if e == nil {
		return ""
	}
	if e.Format != "" {
		return fmt.Sprintf("export error [%s]: %s", e.Format, e.Message)
	}
	return fmt.Sprintf("export error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ExportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PolicyError indicates a policy implementation failed internally. The policy
// engine converts it into a deny result so a broken policy cannot widen access.
type PolicyError struct {
	Policy  string
	Message string
	Err     error
}

// NewPolicyError constructs a PolicyError for the given policy name.
func NewPolicyError(policy string, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &PolicyError{Policy: policy, Message: message, Err: err}
}

func (e *PolicyError) Error() string {
	if e == nil {
		return ""
	}
	if e.Policy != "" {
		return fmt.Sprintf("policy error [%s]: %s", e.Policy, e.Message)
	}
	return fmt.Sprintf("policy error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *PolicyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
