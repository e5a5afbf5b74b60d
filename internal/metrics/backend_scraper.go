package metrics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// BackendMetrics contains metrics scraped from the backend's own
// Prometheus endpoint.
type BackendMetrics struct {
	RequestsTotal float64
	RequestRate   float64 // requests/sec between scrapes
	InFlight      float64

	LastUpdate time.Time
	Healthy    bool
	Error      string
}

// Metric families exposed by common FastAPI/uvicorn instrumentation.
var (
	requestFamilies  = []string{"http_requests_total", "starlette_requests_total"}
	inFlightFamilies = []string{"http_requests_in_progress", "http_requests_in_flight"}
)

// BackendScraper periodically scrapes the backend's Prometheus endpoint.
// Uses atomic.Value for lock-free metric reads.
type BackendScraper struct {
	url        string
	interval   time.Duration
	logger     *slog.Logger
	httpClient *http.Client

	// Atomic storage (lock-free reads)
	metrics atomic.Value // *BackendMetrics

	// Rate calculation state
	lastTotal float64
	lastTime  time.Time
}

// NewBackendScraper creates a new backend metrics scraper.
// Returns nil if the URL is empty (feature disabled).
func NewBackendScraper(url string, interval time.Duration, logger *slog.Logger) *BackendScraper {
	if url == "" {
		return nil // Feature disabled
	}

	s := &BackendScraper{
		url:      url,
		interval: interval,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}

	s.metrics.Store(&BackendMetrics{
		Healthy: false,
		Error:   "Not yet scraped",
	})

	return s
}

// Run starts the scraper loop. Blocks until ctx is cancelled.
func (s *BackendScraper) Run(ctx context.Context) {
	if s == nil {
		return // Feature disabled
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.scrape()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scrape()
		}
	}
}

// GetMetrics returns the current metrics (thread-safe, lock-free).
func (s *BackendScraper) GetMetrics() *BackendMetrics {
	if s == nil {
		return nil // Feature disabled
	}
	ptr := s.metrics.Load()
	if ptr == nil {
		return nil
	}
	return ptr.(*BackendMetrics)
}

// scrape fetches and parses the endpoint once.
func (s *BackendScraper) scrape() {
	families, err := s.fetch()
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("backend_metrics_scrape_failed", "url", s.url, "error", err)
		}
		s.metrics.Store(&BackendMetrics{
			LastUpdate: time.Now(),
			Healthy:    false,
			Error:      err.Error(),
		})
		return
	}

	m := &BackendMetrics{
		LastUpdate: time.Now(),
		Healthy:    true,
	}

	m.RequestsTotal = sumFamily(families, requestFamilies)
	m.InFlight = sumFamily(families, inFlightFamilies)

	// Rate from the delta since the previous scrape
	now := time.Now()
	if !s.lastTime.IsZero() {
		elapsed := now.Sub(s.lastTime).Seconds()
		if elapsed > 0 && m.RequestsTotal >= s.lastTotal {
			m.RequestRate = (m.RequestsTotal - s.lastTotal) / elapsed
		}
	}
	s.lastTotal = m.RequestsTotal
	s.lastTime = now

	s.metrics.Store(m)
}

// fetch downloads and decodes the Prometheus text exposition.
func (s *BackendScraper) fetch() (map[string]*dto.MetricFamily, error) {
	resp, err := s.httpClient.Get(s.url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	decoder := expfmt.NewDecoder(resp.Body, expfmt.FmtText)
	families := make(map[string]*dto.MetricFamily)
	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode: %w", err)
		}
		families[mf.GetName()] = &mf
	}

	return families, nil
}

// sumFamily sums every sample of the first matching family name, covering
// counters and gauges across all label sets.
func sumFamily(families map[string]*dto.MetricFamily, names []string) float64 {
	for _, name := range names {
		mf, ok := families[name]
		if !ok {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
		return total
	}
	return 0
}
