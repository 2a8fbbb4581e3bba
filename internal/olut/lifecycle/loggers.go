package lifecycle

import "log"

// Loggers holds the standard/error loggers the controller and hook
// runner write to, plus a verbosity flag — the same shape as the
// teacher's cmd/dep Loggers.
type Loggers struct {
	Out, Err *log.Logger
	Verbose  bool
}

func (l Loggers) debugf(format string, args ...interface{}) {
	if l.Verbose && l.Err != nil {
		l.Err.Printf(format, args...)
	}
}

func (l Loggers) errorf(format string, args ...interface{}) {
	if l.Err != nil {
		l.Err.Printf(format, args...)
	}
}
