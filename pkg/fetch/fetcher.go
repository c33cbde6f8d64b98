package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"link-auditor/pkg/config"
	"link-auditor/pkg/utils"
)

// Fetcher issues GET requests with retry for transient failures. Server
// errors (5xx) and 429 are retried with exponential backoff and jitter;
// other client errors are terminal immediately. Every non-2xx outcome
// surfaces as a *utils.HTTPStatusError carrying the final status code.
type Fetcher struct {
	client    *http.Client
	cfg       *config.AppConfig
	userAgent string
	log       *logrus.Logger
}

// NewFetcher creates a Fetcher sending the given User-Agent.
func NewFetcher(client *http.Client, cfg *config.AppConfig, userAgent string, log *logrus.Logger) *Fetcher {
	return &Fetcher{
		client:    client,
		cfg:       cfg,
		userAgent: userAgent,
		log:       log,
	}
}

// Fetch retrieves rawURL and reports the delivered response. With
// parseBody true the body is read and, for HTML, its links extracted;
// otherwise the body is drained and discarded (the caller only needs
// the status). A nil error means a 2xx response was delivered; every
// failure, including non-2xx statuses, comes back as an error and the
// URL is terminal for this crawl.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, parseBody bool) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", utils.ErrRequestCreation, rawURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.FetchWithRetry(ctx, req)
	if err != nil {
		// 4xx returns the response alongside the error; drain it so the
		// connection can be reused
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return nil, err
	}
	defer resp.Body.Close()

	result := &Response{
		FinalURL:   resp.Request.URL,
		StatusCode: resp.StatusCode,
	}
	contentType := resp.Header.Get("Content-Type")

	if !parseBody {
		result.IsText = isTextContentType(contentType)
		io.Copy(io.Discard, resp.Body)
		return result, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", utils.ErrResponseBodyRead, rawURL, readErr)
	}
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	result.IsText = isTextContentType(contentType)
	if isHTMLContentType(contentType) {
		result.Links = extractLinks(body, result.FinalURL, f.log.WithField("url", rawURL))
	}
	return result, nil
}

// FetchWithRetry executes req with the configured retry policy. The
// caller owns the response body whenever a non-nil response is
// returned, including the 4xx response-plus-error case.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	var currentResp *http.Response

	reqLog := f.log.WithField("url", req.URL.String())

	maxRetries := 0
	if f.cfg.MaxRetries != nil {
		maxRetries = *f.cfg.MaxRetries
	}
	initialRetryDelay := f.cfg.InitialRetryDelay
	maxRetryDelay := f.cfg.MaxRetryDelay

	// Initial attempt plus up to maxRetries retries
	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			reqLog.Warnf("Context cancelled before attempt %d: %v", attempt, ctx.Err())
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err())
		default:
		}

		if attempt > 0 {
			// initial * 2^(attempt-1), capped at maxRetryDelay
			backoff := float64(initialRetryDelay) * math.Pow(2, float64(attempt-1))
			delay := time.Duration(backoff)
			if delay <= 0 || delay > maxRetryDelay {
				delay = maxRetryDelay
			}

			// Jitter of +/- 10% to avoid synchronized retries
			var jitter time.Duration
			if jitterRange := int64(delay) / 5; jitterRange > 0 {
				jitter = time.Duration(rand.Int63n(jitterRange)) - (delay / 10)
			}
			finalDelay := delay + jitter
			if finalDelay < 0 {
				finalDelay = 0
			}

			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": finalDelay}).Warn("Retrying request...")

			select {
			case <-time.After(finalDelay):
			case <-ctx.Done():
				reqLog.Warnf("Context cancelled during retry sleep: %v", ctx.Err())
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
				}
				return nil, fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
			}
		}

		currentResp, lastErr = f.client.Do(req.WithContext(ctx))

		// Transport-level failure: DNS, TCP, TLS, or context errors
		if lastErr != nil {
			if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
				reqLog.Warnf("Context cancelled/timed out during HTTP request: %v", lastErr)
				if currentResp != nil {
					io.Copy(io.Discard, currentResp.Body)
					currentResp.Body.Close()
				}
				return nil, lastErr
			}

			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", lastErr)
			if currentResp != nil {
				io.Copy(io.Discard, currentResp.Body)
				currentResp.Body.Close()
			}
			continue
		}

		statusCode := currentResp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return currentResp, nil

		case statusCode >= 500 || statusCode == http.StatusTooManyRequests:
			// Potentially transient; retry after draining the body
			resLog.Warn("Transient status, retrying...")
			lastErr = &utils.HTTPStatusError{StatusCode: statusCode, URL: req.URL.String()}
			io.Copy(io.Discard, currentResp.Body)
			currentResp.Body.Close()
			continue

		default:
			// Remaining 4xx and unexpected codes are terminal on the
			// first sighting. The response is returned so the caller
			// can inspect it, and the caller must close the body.
			resLog.Warn("Non-retryable status")
			return currentResp, &utils.HTTPStatusError{StatusCode: statusCode, URL: req.URL.String()}
		}
	}

	reqLog.WithField("category", utils.CategorizeError(lastErr)).
		Errorf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	if currentResp != nil {
		io.Copy(io.Discard, currentResp.Body)
		currentResp.Body.Close()
	}

	if lastErr != nil {
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return nil, utils.ErrRetryFailed
}
