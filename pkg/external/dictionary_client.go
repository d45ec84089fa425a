package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/hla-match-prediction/internal/domain"
	"github.com/hla-match-prediction/pkg/hla"
)

// latestVersion is requested when the caller does not pin a nomenclature version
const latestVersion = "latest"

// DictionaryClient resolves typings through a remote HLA metadata
// dictionary service, behind a rate limiter, a circuit breaker and an
// optional shared cache.
type DictionaryClient struct {
	baseURL    string
	apiKey     string
	retryCount int
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	cache      ResolutionCache
	logger     *logrus.Logger
}

// DictionaryResponse is the JSON document returned by the dictionary service
type DictionaryResponse struct {
	Locus               string   `json:"locus"`
	Typing              string   `json:"typing"`
	NomenclatureVersion string   `json:"nomenclature_version"`
	Values              []string `json:"values"`
}

// dictionaryErrorResponse is returned with 4xx statuses
type dictionaryErrorResponse struct {
	Error string `json:"error"`
}

// NewDictionaryClient creates a dictionary client. cache may be nil.
func NewDictionaryClient(config domain.DictionaryConfig, cache ResolutionCache, logger *logrus.Logger) *DictionaryClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 50
	}

	return &DictionaryClient{
		baseURL:    config.BaseURL,
		apiKey:     config.APIKey,
		retryCount: config.RetryCount,
		httpClient: &http.Client{Timeout: config.Timeout},
		rateLimit:  rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimit),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "HlaDictionary",
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			// An unknown typing is a valid answer, not a service failure
			IsSuccessful: func(err error) bool {
				var invalidErr *domain.InvalidHlaError
				return err == nil || errors.As(err, &invalidErr)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Circuit breaker changed state")
			},
		}),
		cache:  cache,
		logger: logger,
	}
}

// Resolve implements domain.HlaMetadataDictionary
func (c *DictionaryClient) Resolve(ctx context.Context, locus domain.Locus, typing string, nomenclatureVersion string) ([]string, error) {
	normalized := hla.Normalize(typing)
	if _, err := hla.Classify(normalized); err != nil {
		return nil, &domain.InvalidHlaError{Locus: locus, Typing: typing, Reason: err.Error()}
	}
	if nomenclatureVersion == "" {
		nomenclatureVersion = latestVersion
	}

	if c.cache != nil {
		values, found, err := c.cache.Get(ctx, locus, normalized, nomenclatureVersion)
		if err != nil {
			c.logger.WithError(err).Warn("Dictionary cache read failed")
		} else if found {
			return values, nil
		}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchWithRetry(ctx, locus, normalized, nomenclatureVersion)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("HLA dictionary unavailable (circuit breaker open): %w", err)
		}
		return nil, err
	}
	values := result.([]string)

	// Only pinned versions are immutable
	if c.cache != nil && nomenclatureVersion != latestVersion {
		if err := c.cache.Set(ctx, locus, normalized, nomenclatureVersion, values); err != nil {
			c.logger.WithError(err).Warn("Failed to cache dictionary resolution")
		}
	}
	return values, nil
}

func (c *DictionaryClient) fetchWithRetry(ctx context.Context, locus domain.Locus, typing, version string) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		values, err := c.fetch(ctx, locus, typing, version)
		if err == nil {
			return values, nil
		}
		var invalidErr *domain.InvalidHlaError
		if errors.As(err, &invalidErr) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		c.logger.WithFields(logrus.Fields{
			"locus":   locus.String(),
			"typing":  typing,
			"attempt": attempt + 1,
		}).WithError(err).Debug("Dictionary request failed")
	}
	return nil, lastErr
}

func (c *DictionaryClient) fetch(ctx context.Context, locus domain.Locus, typing, version string) ([]string, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	endpoint := fmt.Sprintf("%s/hla/%s/%s?typing=%s",
		c.baseURL, url.PathEscape(version), url.PathEscape(locus.String()), url.QueryEscape(typing))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusUnprocessableEntity:
		reason := "unknown typing"
		var errResp dictionaryErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			reason = errResp.Error
		}
		return nil, &domain.InvalidHlaError{Locus: locus, Typing: typing, Reason: reason}
	default:
		return nil, fmt.Errorf("dictionary returned status %d: %s", resp.StatusCode, string(body))
	}

	var dictResp DictionaryResponse
	if err := json.Unmarshal(body, &dictResp); err != nil {
		return nil, fmt.Errorf("failed to parse dictionary response: %w", err)
	}
	if len(dictResp.Values) == 0 {
		return nil, &domain.InvalidHlaError{Locus: locus, Typing: typing, Reason: "typing resolved to no allele groups"}
	}
	return dictResp.Values, nil
}
