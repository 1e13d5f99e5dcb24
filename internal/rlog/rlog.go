// Package rlog provides the pipeline's stage loggers: colored debug/warning
// prefixes in the style of the teacher's own dbg/warn loggers
// (mewmew-x/cmd/x/main.go), one instance per pipeline stage so a reader can
// tell at a glance whether a line came from reflo, recontex, or restruc.
package rlog

import (
	"io"
	"log"
	"os"
	"sync/atomic"

	"github.com/mewkiz/pkg/term"
)

var quiet int32

// SetQuiet silences every stage logger's debug/info output, leaving only
// warnings, mirroring the teacher's "-q" flag.
func SetQuiet(q bool) {
	if q {
		atomic.StoreInt32(&quiet, 1)
	} else {
		atomic.StoreInt32(&quiet, 0)
	}
}

// Logger is one stage's pair of debug and warning loggers.
type Logger struct {
	name string
	dbg  *log.Logger
	warn *log.Logger
}

// Stage returns the Logger for the named pipeline stage, colorizing its
// prefix the way the teacher colorizes "x:" and "warning:". Progress lines
// (Infof) go to stdout, per §6's external-interface contract that analysis
// progress is part of the program's standard output, not incidental
// diagnostics; warnings stay on stderr alongside other non-fatal errors.
func Stage(name string) *Logger {
	return &Logger{
		name: name,
		dbg:  log.New(os.Stdout, term.MagentaBold(name+":")+" ", 0),
		warn: log.New(os.Stderr, term.RedBold("warning:")+" ", 0),
	}
}

// Infof logs a progress line unless quiet mode is set.
func (l *Logger) Infof(format string, args ...interface{}) {
	if atomic.LoadInt32(&quiet) != 0 {
		return
	}
	l.dbg.Printf(format, args...)
}

// Warnf always logs, even in quiet mode: per §7, non-fatal per-Flo errors
// are "logged and the Flo is dropped", and that should never be silenced.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.warn.Printf(format, args...)
}

// SetOutput redirects both loggers to w, used by tests that want to
// capture or discard log output.
func (l *Logger) SetOutput(w io.Writer) {
	l.dbg.SetOutput(w)
	l.warn.SetOutput(w)
}
