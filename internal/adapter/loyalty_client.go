package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/loyalty-leaderboard/internal/circuitbreaker"
	"github.com/loyalty-leaderboard/internal/config"
	apperrors "github.com/loyalty-leaderboard/internal/errors"
	"github.com/loyalty-leaderboard/internal/logging"
	"github.com/loyalty-leaderboard/internal/models"
	"github.com/loyalty-leaderboard/internal/retry"
	"golang.org/x/time/rate"
)

// feedSuccessCode is the envelope code the feed returns on success,
// independent of the HTTP status
const feedSuccessCode = 200

// LoyaltyClient reads loyalty operations from the upstream feed
type LoyaltyClient struct {
	baseURL    string
	apiKey     string
	templateID string
	startDate  string
	pageSize   int

	client  *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	retry   *retry.RetryConfig
}

// NewLoyaltyClient creates a feed client from configuration
func NewLoyaltyClient(cfg *config.LoyaltyConfig) (*LoyaltyClient, error) {
	switch {
	case cfg.APIURL == "":
		return nil, apperrors.NewConfigurationError("LOYALTY_API_URL", "must be set")
	case cfg.APIKey == "":
		return nil, apperrors.NewConfigurationError("LOYALTY_API_KEY", "must be set")
	case cfg.TemplateID == "":
		return nil, apperrors.NewConfigurationError("LOYALTY_TEMPLATE_ID", "must be set")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	retryCfg := retry.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.MaxAttempts
	retryCfg.ShouldRetry = apperrors.IsRetryable

	return &LoyaltyClient{
		baseURL:    cfg.APIURL,
		apiKey:     cfg.APIKey,
		templateID: cfg.TemplateID,
		startDate:  cfg.StartDate,
		pageSize:   cfg.PageSize,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		breaker:    circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("loyalty-feed")),
		retry:      retryCfg,
	}, nil
}

// FetchAllOperations walks the feed page by page and returns every operation
// in page order. The page count is taken from each page's meta block, so the
// loop stops once the current page reaches ceil(totalItems/itemsPerPage).
// Any failing page aborts the whole fetch.
func (c *LoyaltyClient) FetchAllOperations(ctx context.Context) ([]models.Operation, error) {
	logger := logging.FromContext(ctx)

	var operations []models.Operation
	page := 1
	totalPages := 1

	for {
		resp, err := c.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}

		operations = append(operations, resp.Data...)
		totalPages = resp.Meta.TotalPages()

		logger.WithFields(map[string]interface{}{
			"page":       page,
			"totalPages": totalPages,
			"operations": len(resp.Data),
		}).Debug("Fetched loyalty feed page")

		page++
		if page > totalPages {
			break
		}
	}

	logger.WithField("operations", len(operations)).Info("Fetched loyalty operations")
	return operations, nil
}

// fetchPage requests one page, retrying transport faults
func (c *LoyaltyClient) fetchPage(ctx context.Context, page int) (*models.FeedResponse, error) {
	var resp *models.FeedResponse

	err := retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return apperrors.NewUpstreamFetchError("request cancelled", err)
		}

		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			r, err := c.doRequest(ctx, page)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return apperrors.NewUpstreamFetchError("feed circuit open", err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}

	return resp, nil
}

func (c *LoyaltyClient) pageURL(page int) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", apperrors.NewConfigurationError("LOYALTY_API_URL", err.Error())
	}

	q := u.Query()
	q.Set("templateId", c.templateID)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(c.pageSize))
	if c.startDate != "" {
		q.Set("startDate", c.startDate)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *LoyaltyClient) doRequest(ctx context.Context, page int) (*models.FeedResponse, error) {
	pageURL, err := c.pageURL(page)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, apperrors.NewUpstreamFetchError("failed to create request", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.NewTransientUpstreamError("request failed", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apperrors.NewTransientUpstreamError("failed to read response", err)
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500:
		return nil, apperrors.NewTransientUpstreamError(fmt.Sprintf("HTTP %d", httpResp.StatusCode), nil)
	case httpResp.StatusCode < 200 || httpResp.StatusCode > 299:
		return nil, apperrors.NewUpstreamFetchError(fmt.Sprintf("HTTP %d", httpResp.StatusCode), nil)
	}

	var feed models.FeedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, apperrors.NewUpstreamFetchError("failed to parse response", err)
	}

	if feed.Code != feedSuccessCode {
		return nil, apperrors.NewUpstreamFetchError(fmt.Sprintf("feed returned code %d", feed.Code), nil)
	}

	return &feed, nil
}
