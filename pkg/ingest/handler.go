package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/nicktill/perfwatch/pkg/budget"
	"github.com/nicktill/perfwatch/pkg/config"
	"github.com/nicktill/perfwatch/pkg/httpx"
	"github.com/nicktill/perfwatch/pkg/storage"
	"github.com/nicktill/perfwatch/pkg/telemetry"
)

// Error bodies returned to clients. Details go to the log only.
const (
	errStoreMetric = "Failed to store metric"
	errStoreError  = "Failed to store error"
	errStoreAlert  = "Failed to store alert"
)

// ErrBodyTooLarge is returned when a request body exceeds config.MaxBodyBytes
var ErrBodyTooLarge = fmt.Errorf("request body too large (max %d bytes)", config.MaxBodyBytes)

// Notifier receives every stored alert
type Notifier interface {
	Broadcast(data interface{}) error
}

// Handler handles telemetry ingestion
type Handler struct {
	store    storage.Store
	budgets  budget.Table
	tracker  *CardinalityTracker
	notifier Notifier
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the handler's logger
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithBudgets replaces the default budget table used for server-side alerts
func WithBudgets(t budget.Table) Option {
	return func(h *Handler) {
		h.budgets = t
	}
}

// WithNotifier broadcasts every stored alert, e.g. to WebSocket subscribers
func WithNotifier(n Notifier) Option {
	return func(h *Handler) {
		h.notifier = n
	}
}

// WithCardinalityTracker replaces the default metric name tracker
func WithCardinalityTracker(c *CardinalityTracker) Option {
	return func(h *Handler) {
		h.tracker = c
	}
}

// NewHandler creates a new ingest handler backed by store
func NewHandler(store storage.Store, opts ...Option) *Handler {
	h := &Handler{
		store:   store,
		budgets: budget.Default(),
		tracker: NewCardinalityTracker(config.MaxUniqueMetrics),
		logger:  zap.NewNop().Sugar(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Tracker returns the metric name cardinality tracker
func (h *Handler) Tracker() *CardinalityTracker {
	return h.tracker
}

// HandleSample handles POST /api/performance-metrics
func (h *Handler) HandleSample(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	if err := h.ingestSample(ctx, r); err != nil {
		h.fail(w, r, collectionMetrics, errStoreMetric, err)
		return
	}

	recordIngested(collectionMetrics, start)
	httpx.RespondSuccess(w)
}

func (h *Handler) ingestSample(ctx context.Context, r *http.Request) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err := ValidateSample(body); err != nil {
		return fmt.Errorf("invalid sample: %w", err)
	}

	now := h.now()
	body, err = stamp(body, now)
	if err != nil {
		return err
	}

	var sample telemetry.Sample
	if err := json.Unmarshal(body, &sample); err != nil {
		return fmt.Errorf("failed to decode sample: %w", err)
	}
	foldUnknownFields(&sample, gjson.ParseBytes(body))
	if sample.Timestamp == 0 {
		sample.Timestamp = now.UnixMilli()
	}

	if err := h.tracker.CheckAndRecord(sample.Metric); err != nil {
		return err
	}
	if err := h.store.AppendSample(ctx, sample); err != nil {
		h.tracker.Release(sample.Metric)
		return fmt.Errorf("failed to append sample: %w", err)
	}

	recordClassified(sample.Metric, h.budgets.Classify(sample.Metric, sample.Value))

	// The sample is stored; a failed derived alert does not fail the request
	if alert, ok := h.budgets.PoorAlert(sample, now); ok {
		if err := h.raise(ctx, alert, now); err != nil {
			h.logger.Warnw("Failed to store performance alert", "metric", sample.Metric, "error", err)
		}
	}
	return nil
}

// HandleError handles POST /api/errors
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	if err := h.ingestError(ctx, r); err != nil {
		h.fail(w, r, collectionErrors, errStoreError, err)
		return
	}

	recordIngested(collectionErrors, start)
	httpx.RespondSuccess(w)
}

func (h *Handler) ingestError(ctx context.Context, r *http.Request) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err := ValidateError(body); err != nil {
		return fmt.Errorf("invalid error record: %w", err)
	}

	now := h.now()
	body, err = stamp(body, now)
	if err != nil {
		return err
	}

	var rec telemetry.ErrorRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return fmt.Errorf("failed to decode error record: %w", err)
	}
	rec.Type = telemetry.NormalizeErrorKind(string(rec.Type))
	if rec.Timestamp == 0 {
		rec.Timestamp = now.UnixMilli()
	}

	if err := h.store.AppendError(ctx, rec); err != nil {
		return fmt.Errorf("failed to append error record: %w", err)
	}

	if rec.Type.Critical() {
		if err := h.raise(ctx, h.errorAlert(rec, now), now); err != nil {
			h.logger.Warnw("Failed to store error alert", "type", rec.Type, "error", err)
		}
	}
	return nil
}

// errorAlert builds the critical alert raised for rec
func (h *Handler) errorAlert(rec telemetry.ErrorRecord, now time.Time) telemetry.Alert {
	metadata, err := json.Marshal(rec)
	if err != nil {
		// Context holds a value encoding/json cannot represent
		h.logger.Warnw("Failed to encode error alert metadata", "type", rec.Type, "error", err)
		metadata = nil
	}
	return telemetry.Alert{
		Type:      telemetry.AlertError,
		Severity:  telemetry.SeverityCritical,
		Message:   fmt.Sprintf("%s: %s", rec.Type, rec.Message),
		Metadata:  metadata,
		Timestamp: now.UnixMilli(),
	}
}

// HandleAlert handles POST /api/performance-alerts
func (h *Handler) HandleAlert(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	if err := h.ingestAlert(ctx, r); err != nil {
		h.fail(w, r, collectionAlerts, errStoreAlert, err)
		return
	}

	recordIngested(collectionAlerts, start)
	httpx.RespondSuccess(w)
}

func (h *Handler) ingestAlert(ctx context.Context, r *http.Request) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err := ValidateAlert(body); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}

	var alert telemetry.Alert
	if err := json.Unmarshal(body, &alert); err != nil {
		return fmt.Errorf("failed to decode alert: %w", err)
	}
	if alert.Type == "" {
		alert.Type = telemetry.AlertPerformance
	}
	if alert.Severity == "" {
		alert.Severity = telemetry.SeverityWarning
	}

	return h.raise(ctx, alert, h.now())
}

// HandleCardinalityStats handles GET /api/analytics/cardinality
func (h *Handler) HandleCardinalityStats(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, h.tracker.Stats())
}

// raise fills server-assigned alert fields, stores the alert and notifies
// live subscribers
func (h *Handler) raise(ctx context.Context, alert telemetry.Alert, now time.Time) error {
	if alert.ID == "" {
		alert.ID = telemetry.NewAlertID()
	}
	if alert.Timestamp == 0 {
		alert.Timestamp = now.UnixMilli()
	}
	received := now.UTC()
	alert.ReceivedAt = &received

	if err := h.store.AppendAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to append alert: %w", err)
	}
	recordAlert(alert)

	if h.notifier != nil {
		if err := h.notifier.Broadcast(alert); err != nil {
			h.logger.Debugw("Failed to broadcast alert", "id", alert.ID, "error", err)
		}
	}
	return nil
}

// fail answers 500 with a generic body. Malformed payloads are logged at
// info; storage failures at warn.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, collection, message string, err error) {
	recordFailure(collection)
	if IsValidationError(err) {
		h.logger.Infow("Rejected malformed payload", "collection", collection, "error", err, "remote", r.RemoteAddr)
	} else {
		h.logger.Warnw(message, "collection", collection, "error", err, "remote", r.RemoteAddr)
	}
	httpx.RespondError(w, http.StatusInternalServerError, message)
}

// readBody reads at most config.MaxBodyBytes from the request
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, config.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(body) > config.MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// stamp sets the server-side receipt time on a JSON object body
func stamp(body []byte, now time.Time) ([]byte, error) {
	stamped, err := sjson.SetBytes(body, "receivedAt", now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to stamp receivedAt: %w", err)
	}
	return stamped, nil
}

// sampleFields are the top-level keys that map onto telemetry.Sample
var sampleFields = map[string]struct{}{
	"metric": {}, "value": {}, "delta": {}, "id": {}, "navigationType": {},
	"timestamp": {}, "url": {}, "userAgent": {}, "sessionId": {}, "userId": {},
	"context": {}, "receivedAt": {},
}

// unknownFields returns the top-level members of obj not listed in known
func unknownFields(obj gjson.Result, known map[string]struct{}) map[string]interface{} {
	var extra map[string]interface{}
	obj.ForEach(func(key, value gjson.Result) bool {
		if _, ok := known[key.Str]; ok {
			return true
		}
		if extra == nil {
			extra = make(map[string]interface{})
		}
		extra[key.Str] = value.Value()
		return true
	})
	return extra
}

// foldUnknownFields moves unrecognised top-level fields (connectionType,
// deviceMemory, ...) into the sample's context. Explicit context keys win.
func foldUnknownFields(s *telemetry.Sample, obj gjson.Result) {
	extra := unknownFields(obj, sampleFields)
	if len(extra) == 0 {
		return
	}
	if s.Context == nil {
		s.Context = make(map[string]any, len(extra))
	}
	for k, v := range extra {
		if _, exists := s.Context[k]; !exists {
			s.Context[k] = v
		}
	}
}

// IsValidationError reports whether err came from payload validation
// rather than from storage
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidJSON, ErrNotObject, ErrMetricNameEmpty, ErrMetricNameTooLong,
		ErrValueNotNumeric, ErrFieldType, ErrTooManyContextKeys,
		ErrContextKeyTooLong, ErrMessageTooLong, ErrBodyTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
