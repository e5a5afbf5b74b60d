package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockPrometheusServer creates an HTTP server that serves Prometheus metrics.
func mockPrometheusServer(t *testing.T, metrics string) *httptest.Server {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(metrics))
	})
	return httptest.NewServer(handler)
}

// sampleBackendMetrics returns metrics in the shape a FastAPI
// instrumentator exposes.
func sampleBackendMetrics() string {
	return `# HELP http_requests_total Total number of requests by method, status and handler.
# TYPE http_requests_total counter
http_requests_total{handler="/health",method="GET",status="2xx"} 120
http_requests_total{handler="/api/score",method="POST",status="2xx"} 450
http_requests_total{handler="/api/score",method="POST",status="5xx"} 3

# HELP http_requests_in_progress Number of HTTP requests in progress.
# TYPE http_requests_in_progress gauge
http_requests_in_progress{method="POST"} 2
http_requests_in_progress{method="GET"} 1
`
}

func TestBackendScraper_FeatureDisabled(t *testing.T) {
	scraper := NewBackendScraper("", 1*time.Second, nil)
	if scraper != nil {
		t.Error("Expected nil scraper when URL empty")
	}
}

func TestBackendScraper_Scrape(t *testing.T) {
	server := mockPrometheusServer(t, sampleBackendMetrics())
	defer server.Close()

	scraper := NewBackendScraper(server.URL+"/metrics", 100*time.Millisecond, nil)
	if scraper == nil {
		t.Fatal("Expected scraper, got nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scraper.Run(ctx)

	// Wait for initial scrape
	time.Sleep(150 * time.Millisecond)

	m := scraper.GetMetrics()
	if m == nil {
		t.Fatal("Expected metrics, got nil")
	}

	// Sum across all label sets
	if m.RequestsTotal != 573 {
		t.Errorf("Expected RequestsTotal 573, got %f", m.RequestsTotal)
	}
	if m.InFlight != 3 {
		t.Errorf("Expected InFlight 3, got %f", m.InFlight)
	}

	// Rate should be 0 on first scrape
	if !m.Healthy {
		t.Error("Expected Healthy=true after successful scrape")
	}
}

func TestBackendScraper_RateCalculation(t *testing.T) {
	server := mockPrometheusServer(t, sampleBackendMetrics())
	defer server.Close()

	scraper := NewBackendScraper(server.URL+"/metrics", 100*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scraper.Run(ctx)

	// Wait for two scrapes
	time.Sleep(250 * time.Millisecond)

	m := scraper.GetMetrics()
	if m == nil {
		t.Fatal("Expected metrics, got nil")
	}

	// Counter is static so the rate should settle at 0, never negative
	if m.RequestRate < 0 {
		t.Errorf("Expected RequestRate >= 0, got %f", m.RequestRate)
	}
}

func TestBackendScraper_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	scraper := NewBackendScraper(server.URL+"/metrics", 1*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scraper.Run(ctx)

	time.Sleep(100 * time.Millisecond)

	m := scraper.GetMetrics()
	if m == nil {
		t.Fatal("Expected metrics (with error), got nil")
	}
	if m.Healthy {
		t.Error("Expected Healthy=false on HTTP error")
	}
	if m.Error == "" {
		t.Error("Expected error message on HTTP error")
	}
}

func TestBackendScraper_ConnectionRefused(t *testing.T) {
	scraper := NewBackendScraper("http://localhost:1/metrics", 1*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scraper.Run(ctx)

	time.Sleep(200 * time.Millisecond)

	m := scraper.GetMetrics()
	if m == nil {
		t.Fatal("Expected metrics (with error), got nil")
	}
	if m.Healthy {
		t.Error("Expected Healthy=false on connection error")
	}
}

func TestBackendScraper_ConcurrentReads(t *testing.T) {
	server := mockPrometheusServer(t, sampleBackendMetrics())
	defer server.Close()

	scraper := NewBackendScraper(server.URL+"/metrics", 50*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scraper.Run(ctx)

	time.Sleep(100 * time.Millisecond)

	done := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				m := scraper.GetMetrics()
				if m == nil {
					t.Error("Expected metrics, got nil")
				}
			}
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		<-done
	}
}

func TestBackendScraper_NilScraper(t *testing.T) {
	var scraper *BackendScraper

	if m := scraper.GetMetrics(); m != nil {
		t.Error("Expected nil metrics from nil scraper")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Should not panic
	scraper.Run(ctx)
}

func TestSumFamily_AlternateNames(t *testing.T) {
	server := mockPrometheusServer(t, `# HELP starlette_requests_total Total requests.
# TYPE starlette_requests_total counter
starlette_requests_total{method="GET"} 42
`)
	defer server.Close()

	scraper := NewBackendScraper(server.URL+"/metrics", 1*time.Second, nil)
	scraper.scrape()

	m := scraper.GetMetrics()
	if m == nil {
		t.Fatal("Expected metrics, got nil")
	}
	if m.RequestsTotal != 42 {
		t.Errorf("Expected RequestsTotal 42 from starlette family, got %f", m.RequestsTotal)
	}
}
