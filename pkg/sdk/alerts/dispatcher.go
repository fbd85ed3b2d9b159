// Package alerts turns poor samples into alerts on the client.
package alerts

import (
	"sync/atomic"
	"time"

	"github.com/nicktill/perfwatch/pkg/budget"
	"github.com/nicktill/perfwatch/pkg/config"
	"github.com/nicktill/perfwatch/pkg/telemetry"
)

// Enqueuer accepts a payload for background delivery. Add must not block.
type Enqueuer interface {
	Add(path string, payload interface{})
}

// Config configures a Dispatcher.
type Config struct {
	Path    string        // default config.AlertsPath
	Budgets *budget.Table // default budget.Default()
	Now     func() time.Time
}

// Dispatcher raises an alert for every poor sample. It runs ahead of the
// sampling gate, so alerts are delivered even when their sample is not.
type Dispatcher struct {
	queue   Enqueuer
	path    string
	budgets budget.Table
	now     func() time.Time
	enabled atomic.Bool
	raised  atomic.Uint64
}

// New creates an enabled dispatcher.
func New(queue Enqueuer, cfg Config) *Dispatcher {
	d := &Dispatcher{
		queue:   queue,
		path:    cfg.Path,
		budgets: budget.Default(),
		now:     cfg.Now,
	}
	if d.path == "" {
		d.path = config.AlertsPath
	}
	if cfg.Budgets != nil {
		d.budgets = *cfg.Budgets
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.enabled.Store(true)
	return d
}

// Check enqueues an alert when status is poor and reports whether it did.
func (d *Dispatcher) Check(s telemetry.Sample, status budget.Status) bool {
	if status != budget.Poor || !d.enabled.Load() {
		return false
	}

	alert, ok := d.budgets.PoorAlert(s, d.now())
	if !ok {
		return false
	}
	d.queue.Add(d.path, alert)
	d.raised.Add(1)
	return true
}

// Raised returns the number of alerts enqueued so far.
func (d *Dispatcher) Raised() uint64 {
	return d.raised.Load()
}

func (d *Dispatcher) Enable()  { d.enabled.Store(true) }
func (d *Dispatcher) Disable() { d.enabled.Store(false) }
