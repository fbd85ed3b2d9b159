// Package analytics serves read-only views over the telemetry store.
//
// # Overview
//
// Every response is derived from the store on each request. Summaries are
// never cached, so two reads with no write in between return identical
// totals and summaries.
//
// # HTTP API
//
//	GET /api/analytics/metrics?metric=&limit=   (default limit 100)
//	GET /api/analytics/errors?limit=            (default limit 100)
//	GET /api/analytics/alerts?limit=            (default limit 50)
//
// Each returns the last limit entries in insertion order, the total number
// of matching entries and a summary computed over all of them:
//
//	{
//	  "metrics": [ ... ],
//	  "total": 3,
//	  "summary": {"LCP": {"count": 3, "min": 1200, "max": 4100, "avg": 2466.6}}
//	}
//
// A missing, non-numeric or non-positive limit falls back to the default.
// Limits above 1000 are clamped.
//
// # Export
//
//	GET /api/analytics/export?collection=metrics|errors|alerts&format=json|csv&metric=
//
// JSON exports carry a metadata header and the whole collection. CSV
// exports are flattened; sample exports get one column per context key
// present in the data.
//
//	curl "http://localhost:8080/api/analytics/export?collection=metrics&format=csv" \
//	  -o metrics.csv
package analytics
