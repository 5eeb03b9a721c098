// Package apperrors holds the error taxonomy shared by every stage. Callers
// match with errors.Is against the sentinels; the typed wrappers carry the
// context needed to reproduce a failure.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfig marks a structurally invalid or type-incompatible rule, spec
	// or setting. Always fatal and raised before any destination side effect.
	ErrConfig = errors.New("config error")
	// ErrValidationFailure marks a row failing a business or pattern rule.
	// Resolved inside the stage as a flag or a drop.
	ErrValidationFailure = errors.New("validation failure")
	// ErrConversion marks a value that could not be coerced to its target type.
	ErrConversion = errors.New("conversion error")
	// ErrDestinationUnavailable marks a transient destination failure
	// (connectivity, auth, quota). Retried by the load coordinator.
	ErrDestinationUnavailable = errors.New("destination unavailable")
	// ErrDestinationConflict marks a violated write-mode precondition.
	ErrDestinationConflict = errors.New("destination conflict")
	// ErrCommitUnknown marks a write whose commit may have reached the
	// destination before the connection failed. Never retried: a second
	// write could duplicate the rows.
	ErrCommitUnknown = errors.New("commit outcome unknown")
)

// ConfigError describes a bad configuration entry. Path is a dotted config
// path such as "transformation.field_rules[2].rules[0]".
type ConfigError struct {
	Path string
	Msg  string
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "config error: " + e.Msg
	}
	return fmt.Sprintf("config error: %s: %s", e.Path, e.Msg)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// Configf builds a ConfigError.
func Configf(path, format string, args ...any) error {
	return &ConfigError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// ConversionError describes one value that failed coercion.
type ConversionError struct {
	Column string
	Row    int
	Value  any
	Target string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion error: column %q row %d: cannot convert %v (%T) to %s",
		e.Column, e.Row, e.Value, e.Value, e.Target)
}

func (e *ConversionError) Unwrap() error { return ErrConversion }

// StageError wraps a fatal error with the stage it happened in and, when
// known, the offending column and row. Row is -1 when not applicable.
type StageError struct {
	Stage  string
	Column string
	Row    int
	Err    error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(e.Stage)
	if e.Column != "" {
		fmt.Fprintf(&b, " [column %s]", e.Column)
	}
	if e.Row >= 0 {
		fmt.Fprintf(&b, " [row %d]", e.Row)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *StageError) Unwrap() error { return e.Err }

// InStage wraps err in a StageError. A nil err stays nil, and an error that
// already carries a StageError is returned untouched.
func InStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	se = &StageError{Stage: stage, Row: -1, Err: err}
	var ce *ConversionError
	if errors.As(err, &ce) {
		se.Column, se.Row = ce.Column, ce.Row
	}
	return se
}

type wrapped struct {
	sentinel error
	err      error
}

func (w *wrapped) Error() string   { return w.sentinel.Error() + ": " + w.err.Error() }
func (w *wrapped) Unwrap() []error { return []error{w.sentinel, w.err} }

// Unavailable marks err as a transient destination failure. errors.Is sees
// both ErrDestinationUnavailable and the original chain.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrDestinationUnavailable) {
		return err
	}
	return &wrapped{sentinel: ErrDestinationUnavailable, err: err}
}

// Conflict builds a DestinationConflict error.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDestinationConflict, fmt.Sprintf(format, args...))
}

// CommitUnknown wraps a connection failure seen while committing.
func CommitUnknown(err error) error {
	return fmt.Errorf("%w: %w", ErrCommitUnknown, err)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrDestinationUnavailable)
}
