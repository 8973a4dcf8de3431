package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// wireRecord is the JSON shape of one LogRecord on the wire (§6.1).
type wireRecord struct {
	Timestamp  string                 `json:"timestamp"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Service    string                 `json:"service,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

type envelope struct {
	APIKey string       `json:"api_key"`
	Logs   []wireRecord `json:"logs"`
}

// ingestOutcome classifies the server's response to a flush attempt so the
// flusher (§4.E) can decide whether to retry.
type ingestOutcome int

const (
	outcomeDelivered ingestOutcome = iota
	outcomeRejected                // 4xx other than 429: drop, do not retry
	outcomeRetryable                // 429, 5xx, or network error
)

type ingestResult struct {
	outcome    ingestOutcome
	retryAfter time.Duration
	err        error
}

// client is the SDK's HTTP transport to {dsn}/ingest. It uses a single
// shared http.Client with connection pooling, mirroring the teacher's
// upstream client shape.
type client struct {
	httpClient *http.Client
	dsn        string
}

func newClient(dsn string) *client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second, // §5 SDK flush-per-attempt timeout
		},
		dsn: dsn,
	}
}

// post serializes batch into the §6.1 wire envelope and POSTs it to
// {dsn}/ingest, classifying the response for the flusher's retry decision.
func (c *client) post(ctx context.Context, apiKey string, batch []LogRecord) ingestResult {
	env := envelope{APIKey: apiKey, Logs: make([]wireRecord, len(batch))}
	for i, rec := range batch {
		env.Logs[i] = wireRecord{
			Timestamp:  rec.Timestamp.UTC().Format(time.RFC3339Nano),
			Level:      rec.Level,
			Message:    rec.Message,
			Service:    rec.Service,
			Attributes: rec.Attributes,
		}
	}

	body, err := json.Marshal(env)
	if err != nil {
		return ingestResult{outcome: outcomeRejected, err: fmt.Errorf("marshalling envelope: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.dsn+"/ingest", bytes.NewReader(body))
	if err != nil {
		return ingestResult{outcome: outcomeRetryable, err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ingestResult{outcome: outcomeRetryable, err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return ingestResult{outcome: outcomeDelivered}
	case resp.StatusCode == http.StatusTooManyRequests:
		return ingestResult{outcome: outcomeRetryable, retryAfter: retryAfterDuration(resp)}
	case resp.StatusCode >= 500:
		return ingestResult{outcome: outcomeRetryable, retryAfter: retryAfterDuration(resp)}
	case resp.StatusCode >= 400:
		return ingestResult{outcome: outcomeRejected, err: fmt.Errorf("ingest rejected batch: status %d", resp.StatusCode)}
	default:
		return ingestResult{outcome: outcomeRetryable, err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

// retryAfterDuration parses the Retry-After header as integer seconds,
// returning 0 if absent or unparsable.
func retryAfterDuration(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
