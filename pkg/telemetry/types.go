package telemetry

import (
	"encoding/json"
	"strings"
	"time"
)

// AlertKind is the source of an alert
type AlertKind string

const (
	AlertPerformance AlertKind = "performance"
	AlertError       AlertKind = "error"
)

// Severity is the urgency of an alert
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ErrorKind classifies an error record
type ErrorKind string

const (
	KindUncaught           ErrorKind = "js-error"
	KindUnhandledRejection ErrorKind = "unhandled-rejection"
	KindCustom             ErrorKind = "custom"
	KindUserAction         ErrorKind = "user-action"
)

// legacyKinds maps the labels browser clients have historically sent.
var legacyKinds = map[string]ErrorKind{
	"javascript error":            KindUncaught,
	"unhandled promise rejection": KindUnhandledRejection,
	"custom error":                KindCustom,
	"user action":                 KindUserAction,
}

// NormalizeErrorKind maps legacy labels onto the canonical kinds.
// Unknown labels are returned unchanged.
func NormalizeErrorKind(kind string) ErrorKind {
	if k, ok := legacyKinds[strings.ToLower(strings.TrimSpace(kind))]; ok {
		return k
	}
	return ErrorKind(kind)
}

// Critical reports whether records of this kind raise a critical alert.
func (k ErrorKind) Critical() bool {
	return k == KindUncaught || k == KindUnhandledRejection
}

// Sample is a single performance observation
type Sample struct {
	Metric         string         `json:"metric"`
	Value          float64        `json:"value"`
	Delta          float64        `json:"delta,omitempty"`
	ID             string         `json:"id,omitempty"`
	NavigationType string         `json:"navigationType,omitempty"`
	Timestamp      int64          `json:"timestamp"` // unix milliseconds
	URL            string         `json:"url"`
	UserAgent      string         `json:"userAgent,omitempty"`
	SessionID      string         `json:"sessionId,omitempty"`
	UserID         *string        `json:"userId"`
	Context        map[string]any `json:"context,omitempty"`
	ReceivedAt     *time.Time     `json:"receivedAt,omitempty"`
}

// SourceLocation points at the code that raised an error.
type SourceLocation struct {
	File   string `json:"filename,omitempty"`
	Line   int    `json:"lineno,omitempty"`
	Column int    `json:"colno,omitempty"`
}

// ErrorRecord is a captured failure or user action
type ErrorRecord struct {
	Type    ErrorKind `json:"type"`
	Message string    `json:"message"`
	Stack   string    `json:"stack,omitempty"`
	SourceLocation
	Timestamp          int64          `json:"timestamp"`
	URL                string         `json:"url"`
	UserAgent          string         `json:"userAgent,omitempty"`
	SessionID          string         `json:"sessionId,omitempty"`
	UserID             *string        `json:"userId"`
	Context            map[string]any `json:"context,omitempty"`
	PerformanceMetrics map[string]any `json:"performanceMetrics,omitempty"`
	ReceivedAt         *time.Time     `json:"receivedAt,omitempty"`
}

// Location returns the source location, or nil when none was captured.
func (e ErrorRecord) Location() *SourceLocation {
	if e.File == "" && e.Line == 0 && e.Column == 0 {
		return nil
	}
	loc := e.SourceLocation
	return &loc
}

// Alert is raised for poor samples and critical errors
type Alert struct {
	ID         string          `json:"id,omitempty"`
	Type       AlertKind       `json:"type"`
	Severity   Severity        `json:"severity"`
	Message    string          `json:"message"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Timestamp  int64           `json:"timestamp"` // unix milliseconds
	ReceivedAt *time.Time      `json:"receivedAt,omitempty"`
}

// Counts holds the size of each collection
type Counts struct {
	Metrics int `json:"metrics"`
	Errors  int `json:"errors"`
	Alerts  int `json:"alerts"`
}
