// Package httpsource implements feed.Source over an HTTP JSON endpoint.
// It maps transport and status failures onto the feed error taxonomy and
// optionally gates fetches with a shared source health tracker.
package httpsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/feedworks/feedpager/pkg/feed"
	"github.com/feedworks/feedpager/pkg/health"
	"github.com/feedworks/feedpager/pkg/logging"
)

// Prometheus metrics for source requests.
var (
	sourceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_source_requests_total",
		Help: "Total source requests by status",
	}, []string{"status"})

	sourceRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feed_source_request_duration_seconds",
		Help:    "Source request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	sourceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_source_errors_total",
		Help: "Total source errors by class",
	}, []string{"class"})
)

// Config holds the source configuration.
type Config struct {
	// BaseURL of the feed endpoint. Required. The source issues
	// GET {BaseURL}/items?page=N&page_size=S.
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per request. 0 uses 30 seconds.
	Timeout time.Duration

	// Health, when set, gates requests on the shared source error budget.
	Health *health.Tracker

	// HTTPClient overrides the default client (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: "feedpager/0.1.0",
		Timeout:   30 * time.Second,
	}
}

// pageResponse is the wire format of one feed page.
type pageResponse struct {
	Items      []feed.Item `json:"items"`
	TotalCount int         `json:"total_count"`
}

// Source fetches feed pages over HTTP.
type Source struct {
	httpClient *http.Client
	cfg        Config
	logger     zerolog.Logger
}

// New creates a new HTTP feed source.
func New(cfg Config) (*Source, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Source{
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logging.NewLogger("httpsource"),
	}, nil
}

// FetchPage implements feed.Source. Filters are forwarded as query parameters
// so the endpoint can narrow the page server-side.
func (s *Source) FetchPage(ctx context.Context, page, pageSize int, filters feed.FilterSet) (feed.PageResult, error) {
	startTime := time.Now()
	defer func() {
		sourceRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	if s.cfg.Health != nil {
		allowed, err := s.cfg.Health.ShouldAllowFetch(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("Health check failed")
			return feed.PageResult{}, fmt.Errorf("health check: %w", err)
		}
		if !allowed {
			sourceRequestsTotal.WithLabelValues("blocked").Inc()
			s.logger.Warn().Int("page", page).Msg("Fetch blocked by source health gate")
			return feed.PageResult{}, &feed.FetchError{
				Class:   feed.ErrorClassServer,
				Message: "fetch blocked: source error budget critical",
			}
		}
	}

	req, err := s.buildRequest(ctx, page, pageSize, filters)
	if err != nil {
		return feed.PageResult{}, err
	}

	s.logger.Debug().
		Int("page", page).
		Int("page_size", pageSize).
		Str("filters", filters.Key()).
		Msg("Fetching feed page")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		ferr := s.transportError(err)
		sourceErrorsTotal.WithLabelValues(string(ferr.Class)).Inc()
		sourceRequestsTotal.WithLabelValues("network_error").Inc()
		s.recordFailure(ctx)
		s.logger.Error().Err(err).Int("page", page).Msg("Source request failed")
		return feed.PageResult{}, ferr
	}
	defer resp.Body.Close()

	sourceRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		ferr := s.statusError(resp.StatusCode)
		sourceErrorsTotal.WithLabelValues(string(ferr.Class)).Inc()
		if feed.Retryable(ferr.Class) {
			s.recordFailure(ctx)
		}
		s.logger.Warn().
			Int("page", page).
			Int("status", resp.StatusCode).
			Str("error_class", string(ferr.Class)).
			Msg("Source request error")
		return feed.PageResult{}, ferr
	}

	var body pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		sourceErrorsTotal.WithLabelValues(string(feed.ErrorClassValidation)).Inc()
		return feed.PageResult{}, &feed.FetchError{
			Class:   feed.ErrorClassValidation,
			Message: "malformed page response",
			Err:     err,
		}
	}

	return feed.PageResult{
		Items:      body.Items,
		TotalCount: body.TotalCount,
	}, nil
}

func (s *Source) buildRequest(ctx context.Context, page, pageSize int, filters feed.FilterSet) (*http.Request, error) {
	u, err := url.Parse(s.cfg.BaseURL + "/items")
	if err != nil {
		return nil, fmt.Errorf("build request URL: %w", err)
	}

	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	for k, v := range filters {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	return req, nil
}

// transportError maps a client-side failure onto the feed taxonomy.
func (s *Source) transportError(err error) *feed.FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &feed.FetchError{
			Class:   feed.ErrorClassTimeout,
			Message: "source request timed out",
			Err:     err,
		}
	}
	return &feed.FetchError{
		Class:   feed.ErrorClassNetwork,
		Message: "source unreachable",
		Err:     err,
	}
}

// statusError maps an HTTP status onto the feed taxonomy. 5xx and 429 are
// retryable server trouble, other 4xx mean the request itself is wrong.
func (s *Source) statusError(status int) *feed.FetchError {
	switch {
	case status >= 500 || status == http.StatusTooManyRequests:
		return &feed.FetchError{
			Class:   feed.ErrorClassServer,
			Message: fmt.Sprintf("source returned %d", status),
		}
	default:
		return &feed.FetchError{
			Class:   feed.ErrorClassValidation,
			Message: fmt.Sprintf("source rejected request with %d", status),
		}
	}
}

func (s *Source) recordFailure(ctx context.Context) {
	if s.cfg.Health == nil {
		return
	}
	if _, err := s.cfg.Health.RecordFailure(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record source failure")
	}
}
