/*
Package sdk is the perfwatch client: it turns platform performance signals
into samples, classifies each one against the budget table, raises alerts
for poor values and ships everything to the ingestion API.

# Quick Start

	cfg := sdk.DefaultConfig()
	cfg.Endpoint = "http://localhost:8080"
	cfg.PageURL = "https://courts.example/search"

	client, err := sdk.New(cfg)
	if err != nil {
	    log.Fatal(err)
	}

	client.Start(ctx)
	defer client.Stop()

	// Report panics of the current goroutine
	defer client.Errors().Recover()

	status := client.TrackCustomMetric("SearchResults", 320, map[string]interface{}{
	    "query": "leeds",
	})

# Platform signals

The client reads from the optional sources in Config.Platform:

  - Vitals: a stream of Core Web Vitals (CLS, FID, FCP, LCP, TTFB, INP).
    signals.Feed lets the host push measurements.
  - Memory: heap usage, reported as MemoryUsage in MB after MemoryWarmup
    and then every MemoryInterval. DefaultConfig reads the Go runtime.
  - Resources: resource-timing entries; every completed first-party script
    is reported once as BundleSize at Start.
  - Device: connection type and device memory, attached to every sample.

A missing source disables only its own feature.

Route changes are reported with MarkNavigationStart and Navigated, page
loads with PageLoaded and interactions with TrackInteraction.

# Sampling and alerts

Every sample is classified locally and the status is returned to the
caller. A poor sample always raises an alert. The sample itself is only
transmitted with probability SampleRate (10% by default).

# Delivery

Deliveries are queued and posted in the background, one request per record,
with a 5 second timeout. Failures are logged and dropped; nothing is retried
and no method reports a delivery failure to the caller. Stop flushes what is
still queued.
*/
package sdk
