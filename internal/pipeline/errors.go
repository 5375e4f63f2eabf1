package pipeline

import "fmt"

// PluginError is the error a stage reports to the pipeline. Plugin is a
// stable identifier of the component that failed and Message is the
// human-readable cause, usually taken verbatim from the remote service.
type PluginError struct {
	Plugin  string
	Message string
	Err     error
}

// NewPluginError builds a PluginError wrapping err.
func NewPluginError(plugin string, err error) *PluginError {
	return &PluginError{Plugin: plugin, Message: err.Error(), Err: err}
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("%s: %s", e.Plugin, e.Message)
}

func (e *PluginError) Unwrap() error {
	return e.Err
}
