package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://2captcha.com"
	pollInterval   = 5 * time.Second
	maxPolls       = 24
)

// Stats counts solver API usage for the run summary
type Stats struct {
	TotalRequests   int64     `json:"total_requests"`
	SuccessRequests int64     `json:"success_requests"`
	FailedRequests  int64     `json:"failed_requests"`
	LastRequest     time.Time `json:"last_request"`
}

// apiResponse is the JSON shape of both in.php and res.php
type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Client talks to a 2captcha-compatible solver API
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
	maxRetries   int
	pollInterval time.Duration
	maxPolls     int
	logger       *logrus.Logger

	mu    sync.RWMutex
	stats Stats
}

// NewClient creates a solver client. The API key may be empty, in which
// case every solve call fails fast and the caller falls back to manual
// strategies.
func NewClient(apiKey string, logger *logrus.Logger) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     60 * time.Second,
			},
		},
		limiter:      rate.NewLimiter(rate.Every(1*time.Second), 2),
		maxRetries:   2,
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
		logger:       logger,
	}
}

// Enabled reports whether an API key was configured
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// SolveRecaptchaV2 solves a reCAPTCHA v2 widget and returns the response token
func (c *Client) SolveRecaptchaV2(ctx context.Context, siteKey, pageURL string) (string, error) {
	return c.solve(ctx, url.Values{
		"key":       {c.apiKey},
		"method":    {"userrecaptcha"},
		"googlekey": {siteKey},
		"pageurl":   {pageURL},
		"json":      {"1"},
	})
}

// SolveHCaptcha solves an hCaptcha widget and returns the response token
func (c *Client) SolveHCaptcha(ctx context.Context, siteKey, pageURL string) (string, error) {
	return c.solve(ctx, url.Values{
		"key":     {c.apiKey},
		"method":  {"hcaptcha"},
		"sitekey": {siteKey},
		"pageurl": {pageURL},
		"json":    {"1"},
	})
}

func (c *Client) solve(ctx context.Context, form url.Values) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("captcha solver not configured")
	}

	start := time.Now()
	c.mu.Lock()
	c.stats.TotalRequests++
	c.stats.LastRequest = start
	c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 2s, 4s, 8s...
			backoff := time.Duration(1<<uint(attempt)) * 2 * time.Second
			c.logger.WithFields(logrus.Fields{
				"attempt":         attempt + 1,
				"backoff_seconds": backoff.Seconds(),
			}).Warn("Retrying captcha solve")

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		token, err := c.solveAttempt(ctx, form)
		if err == nil {
			c.mu.Lock()
			c.stats.SuccessRequests++
			c.mu.Unlock()

			c.logger.WithFields(logrus.Fields{
				"duration": time.Since(start).Round(time.Second).String(),
				"attempt":  attempt + 1,
			}).Info("Captcha solved")
			return token, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		c.logger.WithError(err).WithField("attempt", attempt+1).Error("Captcha solve failed")
	}

	c.mu.Lock()
	c.stats.FailedRequests++
	c.mu.Unlock()

	return "", fmt.Errorf("failed to solve captcha after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) solveAttempt(ctx context.Context, form url.Values) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	captchaID, err := c.submit(ctx, form)
	if err != nil {
		return "", fmt.Errorf("failed to submit captcha: %w", err)
	}
	c.logger.WithField("captcha_id", captchaID).Debug("Captcha submitted")

	token, err := c.waitForSolution(ctx, captchaID)
	if err != nil {
		return "", err
	}
	return token, nil
}

func (c *Client) submit(ctx context.Context, form url.Values) (string, error) {
	result, err := c.postForm(ctx, c.baseURL+"/in.php", form)
	if err != nil {
		return "", err
	}
	if result.Status != 1 {
		return "", fmt.Errorf("solver API error: %s", result.Request)
	}
	return result.Request, nil
}

func (c *Client) waitForSolution(ctx context.Context, captchaID string) (string, error) {
	start := time.Now()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for poll := 0; poll < c.maxPolls; poll++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		result, err := c.checkSolution(ctx, captchaID)
		if err != nil {
			c.logger.WithError(err).Warn("Error checking captcha solution")
			continue
		}

		if result.Status == 1 {
			c.logger.WithFields(logrus.Fields{
				"captcha_id": captchaID,
				"duration":   time.Since(start).Round(time.Second).String(),
			}).Debug("Captcha solution ready")
			return result.Request, nil
		}
		if result.Request == "CAPCHA_NOT_READY" {
			continue
		}
		return "", fmt.Errorf("captcha solve rejected: %s", result.Request)
	}

	return "", fmt.Errorf("timeout waiting for captcha solution after %s", time.Since(start).Round(time.Second))
}

func (c *Client) checkSolution(ctx context.Context, captchaID string) (*apiResponse, error) {
	reqURL := fmt.Sprintf("%s/res.php?key=%s&action=get&id=%s&json=1",
		c.baseURL, url.QueryEscape(c.apiKey), url.QueryEscape(captchaID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*apiResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result apiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse solver response: %w", err)
	}
	return &result, nil
}

// GetStats returns a snapshot of solver usage
func (c *Client) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
