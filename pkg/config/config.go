package config

import "time"

// Server defaults
const (
	DefaultPort              = "8080"
	DefaultStoreBackend      = "memory"
	DefaultBadgerMaxMemoryMB = 48
	Version                  = "1.0.0"
)

// Ingestion endpoints
const (
	MetricsPath = "/api/performance-metrics"
	ErrorsPath  = "/api/errors"
	AlertsPath  = "/api/performance-alerts"
)

// Ingest timeouts and limits
const (
	IngestTimeout      = 5 * time.Second
	MaxBodyBytes       = 64 * 1024
	MaxUniqueMetrics   = 1000
	StoreStatsEvery    = 30 * time.Second
	ShutdownTimeout    = 30 * time.Second
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 10 * time.Second
)

// Analytics defaults
const (
	DefaultMetricsLimit = 100
	DefaultErrorsLimit  = 100
	DefaultAlertsLimit  = 50
	MaxAnalyticsLimit   = 1000
	RecentEntries       = 10
)

// SDK defaults
const (
	DefaultEndpoint         = "http://localhost:8080"
	DefaultMemoryWarmup     = 5 * time.Second
	DefaultMemoryInterval   = 30 * time.Second
	DefaultRouteSettleDelay = 100 * time.Millisecond
	DefaultFlushEvery       = 1 * time.Second
	DefaultMaxPending       = 1000
	DefaultFlushSize        = 50
	DefaultFeedBuffer       = 64
	DefaultSendTimeout      = 5 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
