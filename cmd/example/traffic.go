package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/perfwatch/pkg/sdk"
	"github.com/nicktill/perfwatch/pkg/sdk/signals"
)

var routes = []string{"/courts", "/courts/12", "/search?q=leeds", "/hearings"}

// simulateSession plays the part of a browser: it reports a page load and
// its vitals, then navigates between routes every few seconds while
// calling the example API.
func simulateSession(ctx context.Context, client *sdk.Client, feed *signals.Feed, log *zap.SugaredLogger) {
	// Give the server a moment to fully start
	time.Sleep(500 * time.Millisecond)

	client.PageLoaded(signals.NavigationTiming{
		DOMContentLoadedEventStart: 420 * time.Millisecond,
		DOMContentLoadedEventEnd:   436 * time.Millisecond,
		LoadEventStart:             910 * time.Millisecond,
		LoadEventEnd:               918 * time.Millisecond,
	})
	publishVitals(feed, "navigate")

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	log.Infow("Session simulator started", "session", client.SessionID())

	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			log.Info("Session simulator stopped")
			return
		case <-ticker.C:
		}

		route := routes[step%len(routes)]
		client.MarkNavigationStart()
		client.TrackInteraction("click", "nav a[href='"+route+"']")
		client.Errors().TrackUserAction("navigate", map[string]interface{}{"to": route})

		client.Errors().Go(func() error {
			return fetch(ctx, apiPathFor(route))
		})

		client.Navigated("https://courts.example" + route)

		// Late vitals for the new route, occasionally poor
		if rand.Float32() < 0.3 {
			feed.Publish(signals.VitalEvent{Name: "INP", Value: 80 + rand.Float64()*600, ID: fmt.Sprintf("inp-%d", step)})
		}
		if step%10 == 9 {
			feed.Publish(signals.VitalEvent{Name: "CLS", Value: 0.3, Delta: 0.12, ID: "cls-1", NavigationType: "navigate"})
		}
	}
}

func publishVitals(feed *signals.Feed, navType string) {
	lcp := 1800 + rand.Float64()*1200
	if rand.Float32() < 0.2 {
		lcp = 4500
	}
	for _, v := range []signals.VitalEvent{
		{Name: "TTFB", Value: 300 + rand.Float64()*400},
		{Name: "FCP", Value: 900 + rand.Float64()*900},
		{Name: "LCP", Value: lcp},
		{Name: "CLS", Value: rand.Float64() * 0.08},
		{Name: "FID", Value: 20 + rand.Float64()*60},
	} {
		v.ID = "v1-" + v.Name
		v.Delta = v.Value
		v.NavigationType = navType
		feed.Publish(v)
	}
}

func apiPathFor(route string) string {
	switch route {
	case "/courts":
		return "/api/courts"
	case "/courts/12":
		return "/api/courts/12"
	case "/search?q=leeds":
		return "/api/search?q=leeds"
	default:
		// Exercises the recovered panic path
		return "/api/search"
	}
}

func fetch(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost"+appAddr+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("fetch %s failed with status %d", path, resp.StatusCode)
	}
	return nil
}
