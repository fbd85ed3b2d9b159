// Package errtrack captures failures of the host program as error records.
//
// Go has no global handler for uncaught failures, so the tracker offers the
// nearest equivalents: a deferred Recover for panics, Go for goroutines
// whose error nobody waits for, and a zap hook for logged errors. Nothing
// here panics or returns an error to the host.
package errtrack

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nicktill/perfwatch/pkg/config"
	"github.com/nicktill/perfwatch/pkg/sdk/signals"
	"github.com/nicktill/perfwatch/pkg/telemetry"
)

// Enqueuer accepts a payload for background delivery. Add must not block.
type Enqueuer interface {
	Add(path string, payload interface{})
}

// Config configures a Tracker.
type Config struct {
	Path      string // default config.ErrorsPath
	SessionID string
	UserID    string // empty is sent as null
	UserAgent string

	// PageURL returns the current page; nil reports an empty URL
	PageURL func() string

	// Memory feeds the performanceMetrics snapshot; optional
	Memory signals.MemoryReader

	Now func() time.Time
}

// Tracker builds error records and enqueues them for the errors endpoint.
type Tracker struct {
	queue     Enqueuer
	cfg       Config
	startedAt time.Time
	enabled   atomic.Bool
	tracked   atomic.Uint64
}

// New creates an enabled tracker.
func New(queue Enqueuer, cfg Config) *Tracker {
	if cfg.Path == "" {
		cfg.Path = config.ErrorsPath
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SessionID == "" {
		cfg.SessionID = telemetry.NewSessionID()
	}

	t := &Tracker{
		queue:     queue,
		cfg:       cfg,
		startedAt: cfg.Now(),
	}
	t.enabled.Store(true)
	return t
}

// Recover records a panic in progress and stops it. It must be deferred
// directly:
//
//	defer tracker.Recover()
func (t *Tracker) Recover() {
	if r := recover(); r != nil {
		t.RecordPanic(r, debug.Stack())
	}
}

// RecordPanic records a value recovered by the caller. It must be called
// while the panic is still unwinding, i.e. from a deferred function, so
// the panicking frame can be located.
func (t *Tracker) RecordPanic(value interface{}, stack []byte) {
	rec := t.newRecord(telemetry.KindUncaught, panicMessage(value), nil)
	rec.Stack = string(stack)
	if loc := panicLocation(); loc != nil {
		rec.SourceLocation = *loc
	}
	t.send(rec)
}

// Go runs fn in a new goroutine. A panic is recorded and recovered, and an
// error returned by fn is recorded as an unhandled rejection.
func (t *Tracker) Go(fn func() error) {
	go func() {
		defer t.Recover()
		if err := fn(); err != nil {
			t.TrackRejection(err)
		}
	}()
}

// TrackRejection records an asynchronous failure nobody observed.
func (t *Tracker) TrackRejection(err error) {
	msg := "Unknown promise rejection"
	if err != nil {
		msg = err.Error()
	}
	t.send(t.newRecord(telemetry.KindUnhandledRejection, msg, nil))
}

// TrackCustomError records an error the host chose to report.
func (t *Tracker) TrackCustomError(err error, context map[string]interface{}) {
	if err == nil {
		return
	}
	rec := t.newRecord(telemetry.KindCustom, err.Error(), context)
	rec.Stack = string(debug.Stack())
	t.send(rec)
}

// TrackUserAction records a user action for correlation with failures.
func (t *Tracker) TrackUserAction(action string, context map[string]interface{}) {
	t.send(t.newRecord(telemetry.KindUserAction, action, context))
}

// Hook returns a zap option that records every entry at error level or
// above as a custom error.
func (t *Tracker) Hook() zap.Option {
	return zap.Hooks(func(e zapcore.Entry) error {
		if e.Level < zapcore.ErrorLevel {
			return nil
		}

		context := map[string]interface{}{"level": e.Level.String()}
		if e.LoggerName != "" {
			context["logger"] = e.LoggerName
		}
		rec := t.newRecord(telemetry.KindCustom, e.Message, context)
		rec.Stack = e.Stack
		if e.Caller.Defined {
			rec.SourceLocation = telemetry.SourceLocation{File: e.Caller.File, Line: e.Caller.Line}
		}
		t.send(rec)
		return nil
	})
}

// Tracked returns the number of records enqueued so far.
func (t *Tracker) Tracked() uint64 {
	return t.tracked.Load()
}

func (t *Tracker) Enable()  { t.enabled.Store(true) }
func (t *Tracker) Disable() { t.enabled.Store(false) }

func (t *Tracker) newRecord(kind telemetry.ErrorKind, message string, context map[string]interface{}) telemetry.ErrorRecord {
	now := t.cfg.Now()

	rec := telemetry.ErrorRecord{
		Type:               kind,
		Message:            message,
		Timestamp:          now.UnixMilli(),
		UserAgent:          t.cfg.UserAgent,
		SessionID:          t.cfg.SessionID,
		Context:            context,
		PerformanceMetrics: t.snapshot(now),
	}
	if t.cfg.PageURL != nil {
		rec.URL = t.cfg.PageURL()
	}
	if t.cfg.UserID != "" {
		userID := t.cfg.UserID
		rec.UserID = &userID
	}
	return rec
}

// snapshot describes the process when the failure was captured
func (t *Tracker) snapshot(now time.Time) map[string]interface{} {
	metrics := map[string]interface{}{
		"uptimeMs":   now.Sub(t.startedAt).Milliseconds(),
		"goroutines": runtime.NumGoroutine(),
		"timestamp":  now.UnixMilli(),
	}
	if t.cfg.Memory != nil {
		if usage, ok := t.cfg.Memory.HeapUsage(); ok {
			metrics["memoryUsage"] = usage.Used
		}
	}
	return metrics
}

func (t *Tracker) send(rec telemetry.ErrorRecord) {
	if !t.enabled.Load() {
		return
	}
	t.queue.Add(t.cfg.Path, rec)
	t.tracked.Add(1)
}

func panicMessage(value interface{}) string {
	if err, ok := value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(value)
}

// panicLocation finds the frame that panicked: the first frame outside the
// runtime after runtime.gopanic.
func panicLocation() *telemetry.SourceLocation {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	panicking := false
	for {
		frame, more := frames.Next()
		if frame.Function == "runtime.gopanic" {
			panicking = true
		} else if panicking && !strings.HasPrefix(frame.Function, "runtime.") {
			return &telemetry.SourceLocation{File: frame.File, Line: frame.Line}
		}
		if !more {
			return nil
		}
	}
}
