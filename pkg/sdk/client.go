package sdk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/perfwatch/pkg/budget"
	"github.com/nicktill/perfwatch/pkg/config"
	"github.com/nicktill/perfwatch/pkg/sdk/alerts"
	"github.com/nicktill/perfwatch/pkg/sdk/batch"
	"github.com/nicktill/perfwatch/pkg/sdk/errtrack"
	"github.com/nicktill/perfwatch/pkg/sdk/runtime"
	"github.com/nicktill/perfwatch/pkg/sdk/signals"
	"github.com/nicktill/perfwatch/pkg/sdk/transport"
	"github.com/nicktill/perfwatch/pkg/telemetry"
)

// Metrics emitted by the client that have no budget
const (
	MetricPageLoad        = "PageLoad"
	MetricUserInteraction = "UserInteraction"
)

var (
	ErrAlreadyStarted = errors.New("sdk: client already started")
	ErrStopped        = errors.New("sdk: client stopped")
)

// Config holds configuration for the perfwatch client
type Config struct {
	Endpoint    string `json:"endpoint"`
	MetricsPath string `json:"metrics_path"`
	AlertsPath  string `json:"alerts_path"`
	ErrorsPath  string `json:"errors_path"`

	// SampleRate is the probability a sample is transmitted. Alerts are
	// always transmitted.
	SampleRate float64 `json:"sample_rate"`
	Enabled    bool    `json:"enabled"`

	PageURL   string `json:"page_url"`
	UserAgent string `json:"user_agent"`
	UserID    string `json:"user_id"` // empty is sent as null

	MemoryWarmup     time.Duration `json:"memory_warmup"`
	MemoryInterval   time.Duration `json:"memory_interval"`
	RouteSettleDelay time.Duration `json:"route_settle_delay"`
	FlushEvery       time.Duration `json:"flush_every"`
	MaxPending       int           `json:"max_pending"`
	Timeout          time.Duration `json:"timeout"`

	Budgets  *budget.Table      `json:"-"` // nil uses budget.Default()
	Platform signals.Platform   `json:"-"`
	Logger   *zap.SugaredLogger `json:"-"`

	// Transport and Sampler replace the HTTP transport and random sampler
	Transport transport.Transport `json:"-"`
	Sampler   *budget.Sampler     `json:"-"`
}

// DefaultConfig returns an enabled configuration sampling 10% of samples
// and reading heap usage from the Go runtime.
func DefaultConfig() Config {
	return Config{
		Endpoint:   config.DefaultEndpoint,
		SampleRate: budget.DefaultSampleRate,
		Enabled:    true,
		Platform: signals.Platform{
			Memory: runtime.NewMemoryReader(),
		},
	}
}

func (c *Config) setDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = config.DefaultEndpoint
	}
	if c.MetricsPath == "" {
		c.MetricsPath = config.MetricsPath
	}
	if c.AlertsPath == "" {
		c.AlertsPath = config.AlertsPath
	}
	if c.ErrorsPath == "" {
		c.ErrorsPath = config.ErrorsPath
	}
	if c.MemoryWarmup <= 0 {
		c.MemoryWarmup = config.DefaultMemoryWarmup
	}
	if c.MemoryInterval <= 0 {
		c.MemoryInterval = config.DefaultMemoryInterval
	}
	if c.RouteSettleDelay <= 0 {
		c.RouteSettleDelay = config.DefaultRouteSettleDelay
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = config.DefaultFlushEvery
	}
	if c.MaxPending <= 0 {
		c.MaxPending = config.DefaultMaxPending
	}
	if c.Timeout <= 0 {
		c.Timeout = config.DefaultSendTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.Sampler == nil {
		c.Sampler = budget.NewSampler(nil)
	}
}

// Client is the handle a host application holds to report performance
// samples, alerts and errors. All methods are safe for concurrent use and
// none of them report delivery failures to the caller.
type Client struct {
	config     Config
	budgets    budget.Table
	queue      *batch.Queue
	dispatcher *alerts.Dispatcher
	errors     *errtrack.Tracker
	logger     *zap.SugaredLogger
	sessionID  string
	createdAt  time.Time
	now        func() time.Time

	enabled    atomic.Bool
	sampleRate atomic.Uint64 // math.Float64bits
	sent       atomic.Uint64

	mu       sync.Mutex
	pageURL  string
	navStart time.Time
	timers   map[*time.Timer]struct{}
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a new perfwatch client. Nothing runs until Start.
func New(cfg Config) (*Client, error) {
	if math.IsNaN(cfg.SampleRate) {
		return nil, fmt.Errorf("sample rate must be a number")
	}
	cfg.setDefaults()

	if cfg.Transport == nil {
		trans, err := transport.NewHTTP(cfg.Endpoint, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
		cfg.Transport = trans
	}

	queue := batch.New(cfg.Transport, batch.Config{
		MaxPending:  cfg.MaxPending,
		FlushEvery:  cfg.FlushEvery,
		SendTimeout: cfg.Timeout,
		Logger:      cfg.Logger,
	})

	c := &Client{
		config:    cfg,
		budgets:   budget.Default(),
		queue:     queue,
		logger:    cfg.Logger,
		sessionID: telemetry.NewSessionID(),
		createdAt: time.Now(),
		now:       time.Now,
		pageURL:   cfg.PageURL,
		timers:    make(map[*time.Timer]struct{}),
	}
	if cfg.Budgets != nil {
		c.budgets = *cfg.Budgets
	}
	c.enabled.Store(cfg.Enabled)
	c.SetSampleRate(cfg.SampleRate)

	c.dispatcher = alerts.New(queue, alerts.Config{
		Path:    cfg.AlertsPath,
		Budgets: &c.budgets,
	})
	c.errors = errtrack.New(queue, errtrack.Config{
		Path:      cfg.ErrorsPath,
		SessionID: c.sessionID,
		UserID:    cfg.UserID,
		UserAgent: cfg.UserAgent,
		PageURL:   c.PageURL,
		Memory:    cfg.Platform.Memory,
	})
	if !cfg.Enabled {
		c.Disable()
	}

	return c, nil
}

// Start starts delivery and the platform observers
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := c.queue.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start delivery queue: %w", err)
	}
	c.cancel = cancel
	c.started = true

	if c.config.Platform.Vitals != nil {
		c.wg.Add(1)
		go c.watchVitals(runCtx, c.config.Platform.Vitals)
	}
	if c.config.Platform.Memory != nil {
		c.wg.Add(1)
		go c.watchMemory(runCtx, c.config.Platform.Memory)
	}
	if c.config.Platform.Resources != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.reportBundles(c.config.Platform.Resources)
		}()
	}

	c.logger.Debugw("perfwatch client started", "session_id", c.sessionID, "sample_rate", c.SampleRate())
	return nil
}

// Stop stops the observers, cancels pending route measurements and flushes
// queued deliveries. Delivery failures are logged, not returned.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	if c.cancel != nil {
		c.cancel()
	}
	for t := range c.timers {
		t.Stop()
	}
	c.timers = make(map[*time.Timer]struct{})
	c.mu.Unlock()

	c.wg.Wait()

	if err := c.queue.Stop(); err != nil {
		c.logger.Warnw("Some telemetry was not delivered on shutdown", "error", err)
	}
	return nil
}

// TrackCustomMetric records a named measurement and returns its local
// classification.
func (c *Client) TrackCustomMetric(name string, value float64, context map[string]interface{}) budget.Status {
	return c.emit(c.newSample(name, value, "custom-"+name, "navigate", context))
}

// Record emits a prepared sample. Missing session, user, page and device
// fields are filled in from the client.
func (c *Client) Record(s telemetry.Sample) budget.Status {
	base := c.newSample(s.Metric, s.Value, s.ID, s.NavigationType, s.Context)
	if s.URL != "" {
		base.URL = s.URL
	}
	if s.Delta != 0 {
		base.Delta = s.Delta
	}
	if s.Timestamp != 0 {
		base.Timestamp = s.Timestamp
	}
	if s.UserAgent != "" {
		base.UserAgent = s.UserAgent
	}
	if s.SessionID != "" {
		base.SessionID = s.SessionID
	}
	if s.UserID != nil {
		base.UserID = s.UserID
	}
	return c.emit(base)
}

// MarkNavigationStart marks the beginning of a client-side navigation.
func (c *Client) MarkNavigationStart() {
	c.mu.Lock()
	c.navStart = c.now()
	c.mu.Unlock()
}

// Navigated reports that the page changed to url. The RouteChange sample is
// measured once the UI has had RouteSettleDelay to settle, from the last
// navigation-start mark, or from this call when there is none.
func (c *Client) Navigated(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	at := c.now()
	c.pageURL = url

	var timer *time.Timer
	timer = time.AfterFunc(c.config.RouteSettleDelay, func() {
		c.mu.Lock()
		if _, pending := c.timers[timer]; !pending {
			c.mu.Unlock()
			return
		}
		delete(c.timers, timer)
		start := c.navStart
		if start.IsZero() || start.After(at) {
			start = at
		}
		c.navStart = time.Time{}
		c.mu.Unlock()

		elapsed := durationMillis(c.now().Sub(start))
		s := c.newSample(budget.RouteChange, elapsed, "route-change", "navigate", nil)
		s.URL = url
		c.emit(s)
	})
	c.timers[timer] = struct{}{}
}

// PageLoaded reports the navigation timing entry of the initial page load.
func (c *Client) PageLoaded(nav signals.NavigationTiming) {
	c.emit(c.newSample(budget.DOMContentLoaded, durationMillis(nav.DOMContentLoaded()), "dom-content-loaded", "navigate", nil))
	c.emit(c.newSample(MetricPageLoad, durationMillis(nav.Load()), "page-load", "navigate", nil))
}

// TrackInteraction records a user interaction. The value is the time since
// the client was created.
func (c *Client) TrackInteraction(kind, target string) budget.Status {
	value := durationMillis(c.now().Sub(c.createdAt))
	return c.emit(c.newSample(MetricUserInteraction, value, "interaction-"+kind, "navigate", map[string]interface{}{
		"interaction": kind,
		"target":      target,
	}))
}

// Classify rates a value against the client's budgets without emitting it.
func (c *Client) Classify(metric string, value float64) budget.Status {
	return c.budgets.Classify(metric, value)
}

// Budgets returns a copy of the client's budget table.
func (c *Client) Budgets() map[string]budget.Budget {
	return c.budgets.All()
}

// SetSampleRate sets the transmission probability, clamped to [0, 1].
func (c *Client) SetSampleRate(rate float64) {
	if math.IsNaN(rate) {
		return
	}
	c.sampleRate.Store(math.Float64bits(budget.ClampRate(rate)))
}

// SampleRate returns the current transmission probability.
func (c *Client) SampleRate() float64 {
	return math.Float64frombits(c.sampleRate.Load())
}

// Enable turns reporting on, including alerts and error tracking.
func (c *Client) Enable() {
	c.enabled.Store(true)
	c.dispatcher.Enable()
	c.errors.Enable()
}

// Disable turns reporting off. Classification keeps working.
func (c *Client) Disable() {
	c.enabled.Store(false)
	c.dispatcher.Disable()
	c.errors.Disable()
}

// Enabled reports whether the client is reporting.
func (c *Client) Enabled() bool {
	return c.enabled.Load()
}

// SessionID returns the identifier shared by every record of this client.
func (c *Client) SessionID() string {
	return c.sessionID
}

// SetPageURL changes the page reported with subsequent records.
func (c *Client) SetPageURL(url string) {
	c.mu.Lock()
	c.pageURL = url
	c.mu.Unlock()
}

// PageURL returns the page reported with records.
func (c *Client) PageURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageURL
}

// Errors returns the client's error tracker.
func (c *Client) Errors() *errtrack.Tracker {
	return c.errors
}

// Stats summarises what the client has produced.
type Stats struct {
	SamplesSent  uint64      `json:"samples_sent"`
	AlertsRaised uint64      `json:"alerts_raised"`
	ErrorsQueued uint64      `json:"errors_queued"`
	Delivery     batch.Stats `json:"delivery"`
}

// Stats returns client counters.
func (c *Client) Stats() Stats {
	return Stats{
		SamplesSent:  c.sent.Load(),
		AlertsRaised: c.dispatcher.Raised(),
		ErrorsQueued: c.errors.Tracked(),
		Delivery:     c.queue.Stats(),
	}
}

// emit classifies s, raises an alert if it is poor and transmits it if it
// passes the sampling gate. The classification is returned in every case.
func (c *Client) emit(s telemetry.Sample) budget.Status {
	status := c.budgets.Classify(s.Metric, s.Value)
	if !c.enabled.Load() {
		return status
	}

	c.dispatcher.Check(s, status)

	if c.config.Sampler.ShouldSample(c.SampleRate()) {
		c.queue.Add(c.config.MetricsPath, s)
		c.sent.Add(1)
	}
	return status
}

func (c *Client) newSample(metric string, value float64, id, navigationType string, context map[string]interface{}) telemetry.Sample {
	s := telemetry.Sample{
		Metric:         metric,
		Value:          value,
		Delta:          value,
		ID:             id,
		NavigationType: navigationType,
		Timestamp:      c.now().UnixMilli(),
		URL:            c.PageURL(),
		UserAgent:      c.config.UserAgent,
		SessionID:      c.sessionID,
		Context:        c.deviceContext(context),
	}
	if c.config.UserID != "" {
		userID := c.config.UserID
		s.UserID = &userID
	}
	return s
}

// deviceContext merges best-effort device fields under caller context
func (c *Client) deviceContext(extra map[string]interface{}) map[string]interface{} {
	var ctx map[string]interface{}
	if dev := c.config.Platform.Device; dev != nil {
		info := dev.DeviceInfo()
		if info.ConnectionType != "" || info.DeviceMemoryGB > 0 {
			ctx = make(map[string]interface{}, len(extra)+2)
		}
		if info.ConnectionType != "" {
			ctx["connectionType"] = info.ConnectionType
		}
		if info.DeviceMemoryGB > 0 {
			ctx["deviceMemory"] = info.DeviceMemoryGB
		}
	}
	if len(extra) == 0 {
		return ctx
	}
	if ctx == nil {
		ctx = make(map[string]interface{}, len(extra))
	}
	for k, v := range extra {
		ctx[k] = v
	}
	return ctx
}

func (c *Client) watchVitals(ctx context.Context, source signals.VitalsSource) {
	defer c.wg.Done()

	events := source.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s := c.newSample(e.Name, e.Value, e.ID, e.NavigationType, nil)
			s.Delta = e.Delta
			c.emit(s)
		}
	}
}

// watchMemory reads heap usage once after the warm-up and then on every
// interval
func (c *Client) watchMemory(ctx context.Context, reader signals.MemoryReader) {
	defer c.wg.Done()

	warmup := time.NewTimer(c.config.MemoryWarmup)
	defer warmup.Stop()

	select {
	case <-ctx.Done():
		return
	case <-warmup.C:
		c.reportMemory(reader, "memory-usage")
	}

	ticker := time.NewTicker(c.config.MemoryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reportMemory(reader, "memory-usage-periodic")
		}
	}
}

func (c *Client) reportMemory(reader signals.MemoryReader, id string) {
	usage, ok := reader.HeapUsage()
	if !ok {
		return
	}

	context := map[string]interface{}{"totalMB": bytesToMB(usage.Total)}
	if usage.Limit > 0 {
		context["limitMB"] = bytesToMB(usage.Limit)
	}
	c.emit(c.newSample(budget.MemoryUsage, bytesToMB(usage.Used), id, "navigate", context))
}

// reportBundles emits one BundleSize sample per completed first-party script
func (c *Client) reportBundles(lister signals.ResourceLister) {
	for _, r := range lister.Resources() {
		if !r.Completed() || !r.IsFirstPartyScript() {
			continue
		}
		c.emit(c.newSample(budget.BundleSize, float64(r.TransferSize), "bundle-"+baseName(r.Name), "navigate", nil))
	}
}

func baseName(name string) string {
	return name[strings.LastIndex(name, "/")+1:]
}

func bytesToMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
