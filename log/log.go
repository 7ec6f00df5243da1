// Package log provides the audit-style logger used throughout the core:
// a small Logger interface constructed once at process startup and
// passed down to every component by constructor injection, with a
// process-wide default for packages that cannot take a constructor
// argument (background goroutines started from init-time wiring).
package log

import (
	"fmt"
	"log"
	"log/syslog"
	"os"
	"sync"
)

// Logger is the interface every component in the core depends on.
// "Audit" methods are for operator-facing lifecycle events (upload status
// transitions, reconciliation summaries, classification decisions);
// the rest are ordinary leveled logging.
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Warning(msg string)
	WarningErr(err error)
	Err(msg string)
	Errf(format string, args ...interface{})
	Crit(msg string)
	AuditInfo(msg string)
	AuditInfof(format string, args ...interface{})
	AuditErr(msg string)
	AuditObject(prefix string, obj interface{})
}

// impl is the concrete Logger. Every line is written to stderr, so the
// core runs unmodified in local development and in CI; the audit-level
// lines are also sent to the syslog.Writer when one is configured, and the
// other levels are not.
type impl struct {
	w      *syslog.Writer
	stderr *log.Logger
	tag    string
}

// New builds a Logger around an already-dialed syslog.Writer. Pass a nil
// writer to log to stderr only (used by tests and local runs).
func New(w *syslog.Writer, tag string) (Logger, error) {
	return &impl{
		w:      w,
		stderr: log.New(os.Stderr, "", log.LstdFlags|log.LUTC),
		tag:    tag,
	}, nil
}

// Dial connects to a syslog daemon at addr over network ("" for the local
// syslog socket) and returns a Logger tagged with tag. If addr is empty,
// the returned Logger writes to stderr only.
func Dial(network, addr, tag string) (Logger, error) {
	if addr == "" {
		return New(nil, tag)
	}
	w, err := syslog.Dial(network, addr, syslog.LOG_INFO, tag)
	if err != nil {
		return nil, err
	}
	return New(w, tag)
}

func (l *impl) line(level, msg string) string {
	return fmt.Sprintf("[%s] %s: %s", l.tag, level, msg)
}

func (l *impl) out(level, msg string) {
	l.stderr.Print(l.line(level, msg))
}

func (l *impl) Debug(msg string)                    { l.out("DEBUG", msg) }
func (l *impl) Debugf(f string, a ...interface{})    { l.out("DEBUG", fmt.Sprintf(f, a...)) }
func (l *impl) Info(msg string)                      { l.out("INFO", msg) }
func (l *impl) Infof(f string, a ...interface{})     { l.out("INFO", fmt.Sprintf(f, a...)) }
func (l *impl) Warning(msg string)                   { l.out("WARNING", msg) }
func (l *impl) WarningErr(err error)                 { l.out("WARNING", err.Error()) }
func (l *impl) Err(msg string)                       { l.out("ERR", msg) }
func (l *impl) Errf(f string, a ...interface{})      { l.out("ERR", fmt.Sprintf(f, a...)) }
func (l *impl) Crit(msg string)                      { l.out("CRIT", msg) }
func (l *impl) AuditInfo(msg string)                 { l.auditOut("AUDIT-INFO", msg) }
func (l *impl) AuditInfof(f string, a ...interface{}) { l.auditOut("AUDIT-INFO", fmt.Sprintf(f, a...)) }
func (l *impl) AuditErr(msg string)                  { l.auditOut("AUDIT-ERR", msg) }
func (l *impl) AuditObject(prefix string, obj interface{}) {
	l.auditOut("AUDIT-OBJECT", fmt.Sprintf("%s: %+v", prefix, obj))
}

func (l *impl) auditOut(level, msg string) {
	l.stderr.Print(l.line(level, msg))
	if l.w != nil {
		_ = l.w.Notice(l.line(level, msg))
	}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = mustStderrLogger()
)

func mustStderrLogger() Logger {
	l, _ := New(nil, "pkd-core")
	return l
}

// Set installs l as the process-wide default Logger. Called once at
// startup by the AppShell; never reassigned afterward except by tests.
func Set(l Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// Get returns the process-wide default Logger.
func Get() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}
