package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrSinkClosed is returned by a sink that no longer accepts writes.
var ErrSinkClosed = NewStd("sink is closed")

// ConfigParseError reports a malformed configuration document or value.
type ConfigParseError struct {
	Path string // document path, empty when not tied to a file
	Line int    // 1-based line, 0 when unknown
	Key  string // dotted key path of the offending value
	Msg  string
	Err  error
}

func (e *ConfigParseError) Error() string {
	var b strings.Builder
	b.WriteString("config parse error")
	if e.Path != "" {
		b.WriteString(": ")
		b.WriteString(e.Path)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
		}
	}
	if e.Key != "" {
		fmt.Fprintf(&b, ": %s", e.Key)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigParseError) Unwrap() error                { return e.Err }
func (e *ConfigParseError) ErrorCategory() ErrorCategory { return CategoryConfigParse }

// UnresolvedVariableError reports a ${NAME} reference with no value and no default.
type UnresolvedVariableError struct {
	Name  string
	Input string // the raw string being interpolated
}

func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("unresolved variable ${%s} in %q", e.Name, e.Input)
}

func (e *UnresolvedVariableError) ErrorCategory() ErrorCategory { return CategoryUnresolvedVar }

// CyclicReferenceError reports a variable that references itself through a chain.
type CyclicReferenceError struct {
	Chain []string
}

func (e *CyclicReferenceError) Error() string {
	return "cyclic variable reference: " + strings.Join(e.Chain, " -> ")
}

func (e *CyclicReferenceError) ErrorCategory() ErrorCategory { return CategoryCyclicReference }

// IncludeCycleError reports a document that transitively includes itself.
type IncludeCycleError struct {
	Chain []string
}

func (e *IncludeCycleError) Error() string {
	return "include cycle: " + strings.Join(e.Chain, " -> ")
}

func (e *IncludeCycleError) ErrorCategory() ErrorCategory { return CategoryIncludeCycle }

// InheritanceCycleError reports a cycle in the inherits graph between loggers.
type InheritanceCycleError struct {
	Cycle []string
}

func (e *InheritanceCycleError) Error() string {
	return "inheritance cycle: " + strings.Join(e.Cycle, " -> ")
}

func (e *InheritanceCycleError) ErrorCategory() ErrorCategory { return CategoryInheritanceCycle }

// HandlerInitError reports a sink that could not be constructed. It disables
// the handler for the requesting logger only.
type HandlerInitError struct {
	Handler string
	Key     string
	Err     error
}

func (e *HandlerInitError) Error() string {
	return fmt.Sprintf("handler %q (%s) init failed: %v", e.Handler, e.Key, e.Err)
}

func (e *HandlerInitError) Unwrap() error                { return e.Err }
func (e *HandlerInitError) ErrorCategory() ErrorCategory { return CategoryHandlerInit }

// SinkBackpressureError is returned to the caller when a sink queue stayed
// full for the whole bounded wait.
type SinkBackpressureError struct {
	Key  string
	Wait time.Duration
}

func (e *SinkBackpressureError) Error() string {
	return fmt.Sprintf("sink %s: queue full after %s", e.Key, e.Wait)
}

func (e *SinkBackpressureError) ErrorCategory() ErrorCategory { return CategoryBackpressure }

// RuntimeDispatchError wraps a sink write failure. It goes to the fallback
// channel and never to the logging caller.
type RuntimeDispatchError struct {
	Logger  string
	Handler string
	Key     string
	Err     error
}

func (e *RuntimeDispatchError) Error() string {
	return fmt.Sprintf("dispatch %s -> %s (%s): %v", e.Logger, e.Handler, e.Key, e.Err)
}

func (e *RuntimeDispatchError) Unwrap() error                { return e.Err }
func (e *RuntimeDispatchError) ErrorCategory() ErrorCategory { return CategoryDispatch }
