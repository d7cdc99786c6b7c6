// Package errs wraps pkg/errors with the coded error taxonomy used at
// component boundaries. Callers test for a failure class with Is(err, Code)
// regardless of how many times the error was wrapped on its way up.
package errs

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Code classifies a failure for operators and schedulers.
type Code string

const (
	// SourceUnreachable means the source location could not be listed or read.
	SourceUnreachable Code = "SourceUnreachable"
	// CheckpointCorrupt means the checkpoint could not be read or disagrees
	// with the source or destination. Needs an operator.
	CheckpointCorrupt Code = "CheckpointCorrupt"
	// SchemaIncompatible means the batch schema cannot be merged into the
	// destination table schema.
	SchemaIncompatible Code = "SchemaIncompatible"
	// CommitConflict means another writer advanced the destination table or
	// the checkpoint while this run was in flight.
	CommitConflict Code = "CommitConflict"
	// RunAlreadyInProgress means a run for the same dataset is active.
	RunAlreadyInProgress Code = "RunAlreadyInProgress"
	// ConfigInvalid means the project configuration failed validation.
	ConfigInvalid Code = "ConfigInvalid"
)

type codedError struct {
	code    Code
	message string
	cause   error
}

func (ce *codedError) Error() string {
	if ce.cause == nil {
		return fmt.Sprintf("%s: %s", ce.code, ce.message)
	}
	return fmt.Sprintf("%s: %s: %v", ce.code, ce.message, ce.cause)
}

func (ce *codedError) Unwrap() error { return ce.cause }

// New returns a coded error with a stack trace.
func New(code Code, message string) error {
	return errors.WithStack(&codedError{code: code, message: message})
}

// Errorf is New with formatting.
func Errorf(code Code, format string, args ...any) error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and message to err. It returns nil when err is nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&codedError{code: code, message: message, cause: err})
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Is reports whether any coded error in err's chain carries code.
func Is(err error, code Code) bool {
	for err != nil {
		var ce *codedError
		if !stderrors.As(err, &ce) {
			return false
		}
		if ce.code == code {
			return true
		}
		err = ce.cause
	}
	return false
}

// CodeOf returns the outermost code in err's chain, or "" when err is uncoded.
func CodeOf(err error) Code {
	var ce *codedError
	if stderrors.As(err, &ce) {
		return ce.code
	}
	return ""
}

// Retryable reports whether a scheduler may simply try the run again later.
// CheckpointCorrupt and SchemaIncompatible need an operator or a config fix.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case SourceUnreachable, CommitConflict, RunAlreadyInProgress:
		return true
	}
	return false
}
