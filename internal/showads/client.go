package showads

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vojhanzlik/showads-connector/internal/config"
	"github.com/vojhanzlik/showads-connector/internal/ingest"
	"github.com/vojhanzlik/showads-connector/internal/logging"
)

// tokenTTL is how long a fetched access token is trusted. The API issues
// tokens valid for 24 hours; renewing an hour early avoids sending a bulk
// request with a token that expires mid-flight.
const tokenTTL = 23 * time.Hour

// Client talks to the ShowAds API: it fetches and caches the access token
// and submits record batches to the bulk endpoint. Safe for concurrent use
// by multiple delivery workers.
type Client struct {
	http        *http.Client
	baseURL     string
	projectKey  string
	gzipEnabled bool
	cookieField string
	bannerField string
	timings     *ingest.Timings
	log         logging.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClient builds a client from the delivery section of the configuration.
func NewClient(cfg config.DeliveryConfig, timings *ingest.Timings) *Client {
	return &Client{
		http:        &http.Client{Timeout: cfg.Timeout()},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		projectKey:  cfg.ProjectKey,
		gzipEnabled: cfg.Gzip,
		cookieField: cfg.CookieField,
		bannerField: cfg.BannerField,
		timings:     timings,
		log:         *logging.Named("showads"),
	}
}

// Send submits one batch with exactly one bulk POST and classifies the
// result. Retrying is the caller's job; Send never re-issues the request.
// The batch is only read, never modified.
func (c *Client) Send(ctx context.Context, batch ingest.Batch) Outcome {
	token, authFail := c.accessToken(ctx)
	if authFail != nil {
		return *authFail
	}

	items, err := c.bulkItems(batch)
	if err != nil {
		return Outcome{Class: PermanentFailure, Err: err}
	}

	marshalStart := time.Now()
	payload, err := json.Marshal(BulkRequest{Data: items})
	if c.timings != nil {
		c.timings.ObserveMarshal(time.Since(marshalStart))
	}
	if err != nil {
		return Outcome{Class: PermanentFailure, Err: fmt.Errorf("marshal bulk request: %w", err)}
	}

	var body io.Reader = bytes.NewReader(payload)
	contentEncoding := ""
	if c.gzipEnabled {
		gzipStart := time.Now()
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(payload); err != nil {
			return Outcome{Class: PermanentFailure, Err: fmt.Errorf("gzip write: %w", err)}
		}
		if err := gz.Close(); err != nil {
			return Outcome{Class: PermanentFailure, Err: fmt.Errorf("gzip close: %w", err)}
		}
		if c.timings != nil {
			c.timings.ObserveGzip(time.Since(gzipStart))
		}
		body = &buf
		contentEncoding = "gzip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/banners/show/bulk", body)
	if err != nil {
		return Outcome{Class: PermanentFailure, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}

	httpStart := time.Now()
	resp, err := c.http.Do(req)
	if c.timings != nil {
		c.timings.ObserveHTTP(time.Since(httpStart))
	}
	if err != nil {
		return Outcome{Class: RetryableFailure, Err: fmt.Errorf("send bulk request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.log.Debug().
			Int64("batch", batch.Seq).
			Int("records", len(batch.Records)).
			Int("status", resp.StatusCode).
			Msg("batch accepted")
		return Outcome{Class: Success, Code: resp.StatusCode}
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(respBody)),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.clearToken()
		c.log.Warn().Int64("batch", batch.Seq).Msg("bulk request rejected with 401, dropping cached token")
	}

	return Outcome{
		Class:      Classify(resp.StatusCode),
		Code:       resp.StatusCode,
		RetryAfter: httpErr.RetryAfter,
		Err:        httpErr,
	}
}

// bulkItems maps batch records onto the wire format using the configured
// cookie and banner fields.
func (c *Client) bulkItems(batch ingest.Batch) ([]BulkItem, error) {
	items := make([]BulkItem, 0, len(batch.Records))
	for _, rec := range batch.Records {
		cookie, ok := rec.Values[c.cookieField].(string)
		if !ok {
			return nil, fmt.Errorf("record %d: field %q is not a string", rec.Row, c.cookieField)
		}
		banner, ok := rec.Values[c.bannerField].(int64)
		if !ok {
			return nil, fmt.Errorf("record %d: field %q is not an integer", rec.Row, c.bannerField)
		}
		items = append(items, BulkItem{VisitorCookie: cookie, BannerID: banner})
	}
	return items, nil
}

// accessToken returns a cached token or fetches a fresh one. The mutex is
// held across the fetch so concurrent senders wait for one authentication
// instead of stampeding the auth endpoint.
func (c *Client) accessToken(ctx context.Context) (string, *Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expiresAt) {
		return c.token, nil
	}

	token, fail := c.fetchToken(ctx)
	if fail != nil {
		return "", fail
	}
	c.token = token
	c.expiresAt = time.Now().Add(tokenTTL)
	c.log.Debug().Time("expires_at", c.expiresAt).Msg("access token refreshed")
	return c.token, nil
}

// fetchToken performs POST /auth. The API hands out tokens with 200 only;
// every other status fails the batch with the usual classification.
func (c *Client) fetchToken(ctx context.Context) (string, *Outcome) {
	payload, err := json.Marshal(AuthRequest{ProjectKey: c.projectKey})
	if err != nil {
		return "", &Outcome{Class: PermanentFailure, Err: fmt.Errorf("marshal auth request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", bytes.NewReader(payload))
	if err != nil {
		return "", &Outcome{Class: PermanentFailure, Err: fmt.Errorf("create auth request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	authStart := time.Now()
	resp, err := c.http.Do(req)
	if c.timings != nil {
		c.timings.ObserveAuth(time.Since(authStart))
	}
	if err != nil {
		return "", &Outcome{Class: RetryableFailure, Err: fmt.Errorf("send auth request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		class := Classify(resp.StatusCode)
		if class == Success {
			// A 2xx that is not 200 carries no token we know how to read.
			class = PermanentFailure
		}
		return "", &Outcome{Class: class, Code: resp.StatusCode, RetryAfter: httpErr.RetryAfter, Err: fmt.Errorf("auth: %w", httpErr)}
	}

	var auth AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", &Outcome{Class: PermanentFailure, Code: resp.StatusCode, Err: fmt.Errorf("decode auth response: %w", err)}
	}
	if auth.AccessToken == "" {
		return "", &Outcome{Class: PermanentFailure, Code: resp.StatusCode, Err: fmt.Errorf("auth response carries no token")}
	}
	return auth.AccessToken, nil
}

// clearToken drops the cached token so the next Send re-authenticates.
func (c *Client) clearToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}
