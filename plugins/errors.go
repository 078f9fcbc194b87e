package plugins

import (
	"errors"
	"fmt"
)

// Common error variables for plugin-related operations
var (
	// ErrPluginNotFound indicates that a requested plugin could not be found in the
	// configuration or the registry.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrPluginAlreadyExists indicates an attempt to register a plugin under a name that is already in use
	ErrPluginAlreadyExists = errors.New("plugin already exists")

	// ErrPluginNotEnabled indicates a client call to a plugin that is disabled or not loaded
	ErrPluginNotEnabled = errors.New("plugin not enabled")

	// ErrMethodNotFound indicates a client call to a method the target plugin does not expose
	ErrMethodNotFound = errors.New("method not found")

	// ErrNotReady indicates a subsystem call made before the subsystem finished init.
	// Fatal to the calling operation, not to the process.
	ErrNotReady = errors.New("not ready")

	// ErrConfiguration indicates a fatal configuration problem: unknown profile,
	// missing config file, unroutable event, ordering cycle. Never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidPluginConfig indicates that a plugin configuration failed to decode or validate
	ErrInvalidPluginConfig = errors.New("invalid plugin configuration")

	// ErrInvalidFilter indicates a filter value that does not have one of the known shapes
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrPhaseCompleted indicates a registration attempted after its boot phase ran
	ErrPhaseCompleted = errors.New("boot phase already completed")
)

// PluginError represents a detailed error that occurred during plugin operations
type PluginError struct {
	// PluginID identifies the plugin where the error occurred
	PluginID string

	// Operation describes the action that was being performed when the error occurred
	Operation string

	// Message provides a detailed description of the error
	Message string

	// Err is the underlying error that caused this PluginError
	Err error
}

// Error implements the error interface for PluginError
func (e *PluginError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plugin %s: %s failed: %s (%v)", e.PluginID, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("plugin %s: %s failed: %s", e.PluginID, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error chain handling
func (e *PluginError) Unwrap() error {
	return e.Err
}

// NewPluginError creates a new PluginError with the given details
func NewPluginError(pluginID, operation, message string, err error) *PluginError {
	return &PluginError{
		PluginID:  pluginID,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// TemplateError is an error whose message is a {key} template resolved from
// Meta. The raw template and meta are kept so loggers can emit them as
// structured fields instead of a flattened string.
type TemplateError struct {
	Template string
	Meta     Meta
	// Err is the sentinel or cause this error wraps, may be nil.
	Err error
}

// NewTemplateError builds a TemplateError wrapping err (may be nil).
func NewTemplateError(err error, template string, meta Meta) *TemplateError {
	return &TemplateError{Template: template, Meta: meta, Err: err}
}

func (e *TemplateError) Error() string {
	return FormatTemplate(e.Template, e.Meta)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}
