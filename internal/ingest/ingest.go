// Package ingest implements component G: the authenticated POST /ingest
// endpoint that validates, stamps, and hands off a batch of log records to
// the owning per-app processor.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/logsentry/logsentry/internal/fingerprint"
	"github.com/logsentry/logsentry/internal/keyregistry"
	"github.com/logsentry/logsentry/internal/metrics"
	"github.com/logsentry/logsentry/internal/processor"
	"github.com/logsentry/logsentry/internal/ratelimit"
	"github.com/logsentry/logsentry/internal/store"
	"github.com/logsentry/logsentry/internal/tracing"
)

const (
	maxMessageLen    = 16384
	maxAttributeKeys = 32
)

var validLevels = map[string]bool{
	"TRACE": true, "DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true, "CRITICAL": true,
}

// Handler implements the POST /ingest HTTP surface.
type Handler struct {
	keys         *keyregistry.Registry
	store        *store.Store
	manager      *processor.Manager
	maxBodyBytes int64
	maxRecords   int
	metrics      *metrics.Collector
	limiter      *ratelimit.Limiter

	appNameMu    sync.RWMutex
	appNameCache map[string]string
}

// NewHandler builds a Handler.
func NewHandler(keys *keyregistry.Registry, st *store.Store, manager *processor.Manager, maxBodyBytes int64, maxRecords int) *Handler {
	return &Handler{
		keys:         keys,
		store:        st,
		manager:      manager,
		maxBodyBytes: maxBodyBytes,
		maxRecords:   maxRecords,
		appNameCache: make(map[string]string),
	}
}

// WithMetrics attaches a metrics.Collector that records request outcomes and
// accepted record counts. Passing nil disables reporting.
func (h *Handler) WithMetrics(c *metrics.Collector) *Handler {
	h.metrics = c
	return h
}

// WithRateLimit attaches a per-app_id ingest rate limiter. Passing nil
// disables throttling.
func (h *Handler) WithRateLimit(l *ratelimit.Limiter) *Handler {
	h.limiter = l
	return h
}

// Mount registers the ingestion route under r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/ingest", h.handleIngest)
}

type envelope struct {
	APIKey string            `json:"api_key"`
	Logs   []json.RawMessage `json:"logs"`
}

type wireRecord struct {
	Timestamp  json.RawMessage        `json:"timestamp"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Service    string                 `json:"service"`
	Attributes map[string]interface{} `json:"attributes"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartIngestSpan(r.Context(), "")
	r = r.WithContext(ctx)
	defer span.End()

	start := time.Now()
	bodyLen := 0
	outcome := "ok"
	defer func() {
		if h.metrics != nil {
			h.metrics.ObserveIngest(outcome, bodyLen, time.Since(start))
		}
	}()

	body, err := readLimited(r.Body, h.maxBodyBytes)
	if err != nil {
		outcome = "too_large"
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body exceeds 1 MiB")
		return
	}
	bodyLen = len(body)

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		outcome = "bad_request"
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed JSON envelope")
		return
	}
	if env.APIKey == "" {
		outcome = "bad_request"
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "api_key is required")
		return
	}

	appID, err := h.keys.Authenticate(env.APIKey)
	if err != nil {
		if errors.Is(err, keyregistry.ErrUnauthorized) {
			outcome = "unauthorized"
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or revoked api_key")
			return
		}
		outcome = "internal_error"
		tracing.RecordError(ctx, err)
		log.Error().Err(err).Msg("ingest: authentication error")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "authentication failed")
		return
	}
	tracing.SetIngestAttributes(ctx, appID, len(env.Logs))

	if len(env.Logs) > h.maxRecords {
		outcome = "too_large"
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", fmt.Sprintf("batch exceeds %d records", h.maxRecords))
		return
	}

	records, parseErr := parseRecords(env.Logs)
	if parseErr != nil {
		outcome = "bad_request"
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", parseErr.Error())
		return
	}

	if h.limiter != nil {
		if rlErr := h.limiter.Allow(appID); rlErr != nil {
			outcome = "rate_limited"
			rerr := rlErr.(*ratelimit.Error)
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", rerr.RetryAfter))
			tracing.SetIngestOutcome(ctx, http.StatusTooManyRequests, false)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write(rerr.ToJSON())
			return
		}
	}

	appName := h.appName(appID)
	proc, err := h.manager.GetOrCreate(appID, appName)
	if err != nil {
		outcome = "internal_error"
		log.Error().Err(err).Str("app_id", appID).Msg("ingest: could not start processor")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not route batch")
		return
	}

	now := store.Now().Format(time.RFC3339Nano)
	batch := make([]*store.PersistedLog, len(records))
	for i, rec := range records {
		attrsJSON, _ := json.Marshal(rec.Attributes)
		batch[i] = &store.PersistedLog{
			ID:          processor.NewRecordID(),
			AppID:       appID,
			Timestamp:   rec.Timestamp,
			Level:       rec.Level,
			Message:     rec.Message,
			Service:     rec.Service,
			Attributes:  string(attrsJSON),
			Fingerprint: fingerprint.Record(appID, rec.Level, rec.Message, rec.Service),
			IngestedAt:  now,
		}
	}

	if !proc.TryEnqueue(r.Context(), batch) {
		outcome = "backpressure"
		w.Header().Set("Retry-After", "1")
		tracing.SetIngestOutcome(ctx, http.StatusServiceUnavailable, false)
		writeError(w, http.StatusServiceUnavailable, "BACKPRESSURE", "ingestion queue is full, retry shortly")
		return
	}

	if h.metrics != nil {
		h.metrics.AddIngestedRecords(appID, len(batch))
	}
	tracing.SetIngestOutcome(ctx, http.StatusOK, true)
	writeJSON(w, http.StatusOK, map[string]interface{}{"accepted": len(batch)})
}

func (h *Handler) appName(appID string) string {
	h.appNameMu.RLock()
	name, ok := h.appNameCache[appID]
	h.appNameMu.RUnlock()
	if ok {
		return name
	}

	app, err := h.store.GetApp(appID)
	if err != nil {
		return appID
	}

	h.appNameMu.Lock()
	h.appNameCache[appID] = app.Name
	h.appNameMu.Unlock()
	return app.Name
}

type parsedRecord struct {
	Timestamp  string
	Level      string
	Message    string
	Service    string
	Attributes map[string]interface{}
}

func parseRecords(raw []json.RawMessage) ([]parsedRecord, error) {
	out := make([]parsedRecord, 0, len(raw))
	for i, r := range raw {
		var wr wireRecord
		if err := json.Unmarshal(r, &wr); err != nil {
			return nil, fmt.Errorf("log[%d]: malformed record", i)
		}
		if !validLevels[wr.Level] {
			return nil, fmt.Errorf("log[%d]: invalid level %q", i, wr.Level)
		}
		if len(wr.Message) > maxMessageLen {
			return nil, fmt.Errorf("log[%d]: message exceeds %d chars", i, maxMessageLen)
		}
		if len(wr.Attributes) > maxAttributeKeys {
			return nil, fmt.Errorf("log[%d]: attributes exceed %d entries", i, maxAttributeKeys)
		}
		ts, err := parseTimestamp(wr.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("log[%d]: %w", i, err)
		}
		out = append(out, parsedRecord{
			Timestamp:  ts,
			Level:      wr.Level,
			Message:    wr.Message,
			Service:    wr.Service,
			Attributes: wr.Attributes,
		})
	}
	return out, nil
}

// parseTimestamp accepts either an ISO8601 string or an epoch-seconds
// number (§6.1) and normalizes to RFC3339Nano for storage.
func parseTimestamp(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("timestamp is required")
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		t, err := time.Parse(time.RFC3339, asString)
		if err != nil {
			t, err = time.Parse(time.RFC3339Nano, asString)
			if err != nil {
				return "", fmt.Errorf("invalid timestamp %q", asString)
			}
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	}

	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		sec := int64(asNumber)
		nsec := int64((asNumber - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC().Format(time.RFC3339Nano), nil
	}

	return "", errors.New("timestamp must be a string or a number")
}

// readLimited reads up to limit+1 bytes and errors if the body is larger
// than limit, giving an exact 413 instead of http.MaxBytesReader's
// truncated-read ambiguity.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	lr := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}
