// Package errs defines olut's closed error taxonomy. Every fatal condition
// raised by the lifecycle core is one of these kinds, so the CLI boundary can
// map an error to an exit code without inspecting message text.
package errs

import "github.com/pkg/errors"

// Kind identifies which row of the taxonomy an error belongs to.
type Kind string

const (
	SourceMissing        Kind = "SourceMissing"
	InvalidArchive       Kind = "InvalidArchive"
	UnsafePath           Kind = "UnsafePath"
	AlreadyInstalled     Kind = "AlreadyInstalled"
	NoSuchVersion        Kind = "NoSuchVersion"
	NoCurrent            Kind = "NoCurrent"
	UninstallActive      Kind = "UninstallActive"
	HookFailed           Kind = "HookFailed"
	AmbiguousDestination Kind = "AmbiguousDestination"
	CLIUsage             Kind = "CLIUsage"
)

// Error pairs a taxonomy Kind with the underlying cause. It wraps the cause
// with github.com/pkg/errors so Cause(err) still reaches the original
// filesystem/exec error for debug logging.
type Error struct {
	Kind Kind
	Pkg  string // package name, when relevant; empty otherwise
	err  error
}

func (e *Error) Error() string {
	if e.Pkg != "" {
		return e.Pkg + ": " + e.err.Error()
	}
	return e.err.Error()
}

func (e *Error) Cause() error { return e.err }
func (e *Error) Unwrap() error { return e.err }

// New builds a Kind-tagged error from a message, following the call sites
// that don't already have an underlying error to wrap.
func New(kind Kind, pkg, msg string) *Error {
	return &Error{Kind: kind, Pkg: pkg, err: errors.New(msg)}
}

// Wrap tags an existing error with a Kind, preserving it as the cause.
func Wrap(kind Kind, pkg string, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Pkg: pkg, err: errors.Wrap(err, msg)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, pkg string, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Pkg: pkg, err: errors.Wrapf(err, format, args...)}
}

// KindOf unwraps err looking for a *Error and returns its Kind. The second
// return value is false if err (or any error in its chain) is not tagged.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		err = cause.Cause()
	}
	return "", false
}
