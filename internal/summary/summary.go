// Package summary implements component K: GET /summary/{app_id}, returning
// the latest aggregate snapshot across every known service plus a bounded
// window of recent error records.
package summary

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/logsentry/logsentry/internal/processor"
	"github.com/logsentry/logsentry/internal/store"
)

const recentErrorLimit = 50

// OwnerResolver authorizes a summary request: callers must own the app
// they're asking about.
type OwnerResolver interface {
	OwnerID(r *http.Request) (string, error)
}

// Handler implements the GET /summary/{app_id} endpoint.
type Handler struct {
	store   *store.Store
	manager *processor.Manager
	owners  OwnerResolver
}

// NewHandler builds a Handler. owners resolves the authenticated caller's
// owner_id from the request (e.g. a session cookie or bearer token); pass
// nil to disable the ownership check (used by internal/trusted callers).
func NewHandler(st *store.Store, manager *processor.Manager, owners OwnerResolver) *Handler {
	return &Handler{store: st, manager: manager, owners: owners}
}

// Mount registers the summary routes under r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/apps", h.handleListApps)
	r.Get("/summary/{app_id}", h.handleSummary)
}

type appStatus struct {
	AppID       string  `json:"app_id"`
	Name        string  `json:"name"`
	Health      string  `json:"health"`
	ErrorsPer10 float64 `json:"errors_per_10"`
}

// handleListApps gives the operator CLI's status command a single place to
// fetch every known app's worst-case health across its services.
func (h *Handler) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.store.ListApps()
	if err != nil {
		log.Error().Err(err).Msg("summary: list apps failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "lookup failed")
		return
	}

	out := make([]appStatus, len(apps))
	for i, app := range apps {
		out[i] = appStatus{AppID: app.ID, Name: app.Name, Health: "unknown"}
		proc, ok := h.manager.Get(app.ID)
		if !ok {
			continue
		}
		for _, svc := range proc.Services() {
			snap := proc.AggregateSnapshot(svc)
			if snap == nil {
				continue
			}
			if out[i].Health == "unknown" || worseHealth(snap.Health, out[i].Health) {
				out[i].Health = snap.Health
			}
			if snap.AvgErrorsPer10Logs > out[i].ErrorsPer10 {
				out[i].ErrorsPer10 = snap.AvgErrorsPer10Logs
			}
		}
	}

	writeJSON(w, http.StatusOK, out)
}

func worseHealth(candidate, current string) bool {
	rank := map[string]int{"healthy": 0, "warning": 1, "unhealthy": 2, "unknown": -1}
	return rank[candidate] > rank[current]
}

type serviceSummary struct {
	Service                    string           `json:"service"`
	Health                     string           `json:"health"`
	TotalCount                 int64            `json:"total_count"`
	SeverityDistribution       map[string]int64 `json:"severity_distribution"`
	ErrorsPer10Logs            []int            `json:"errors_per_10_logs"`
	AvgErrorsPer10Logs         float64          `json:"avg_errors_per_10_logs"`
	FirstErrorTS               string           `json:"first_error_ts,omitempty"`
	LatestErrorTS              string           `json:"latest_error_ts,omitempty"`
	MostCommonErrorFingerprint string           `json:"most_common_error_fingerprint,omitempty"`
	MostCommonErrorCount       int64            `json:"most_common_error_count"`
}

type recentError struct {
	ID          string `json:"id"`
	Timestamp   string `json:"timestamp"`
	Level       string `json:"level"`
	Service     string `json:"service"`
	Message     string `json:"message"`
	Fingerprint string `json:"fingerprint"`
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "app_id")
	if appID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "app_id is required")
		return
	}

	app, err := h.store.GetApp(appID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown app_id")
			return
		}
		log.Error().Err(err).Str("app_id", appID).Msg("summary: store lookup failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "lookup failed")
		return
	}

	if h.owners != nil {
		ownerID, err := h.owners.OwnerID(r)
		if err != nil || ownerID != app.OwnerID {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "caller does not own this app")
			return
		}
	}

	services := []serviceSummary{}
	if proc, ok := h.manager.Get(appID); ok {
		for _, svc := range proc.Services() {
			snap := proc.AggregateSnapshot(svc)
			if snap == nil {
				continue
			}
			s := serviceSummary{
				Service:                    snap.Service,
				Health:                     snap.Health,
				TotalCount:                 snap.TotalCount,
				SeverityDistribution:       snap.SeverityDistribution,
				ErrorsPer10Logs:            snap.ErrorsPer10Logs,
				AvgErrorsPer10Logs:         snap.AvgErrorsPer10Logs,
				MostCommonErrorFingerprint: snap.MostCommonErrorFingerprint,
				MostCommonErrorCount:       snap.MostCommonErrorCount,
			}
			if !snap.FirstErrorTS.IsZero() {
				s.FirstErrorTS = snap.FirstErrorTS.Format("2006-01-02T15:04:05.999999999Z07:00")
			}
			if !snap.LatestErrorTS.IsZero() {
				s.LatestErrorTS = snap.LatestErrorTS.Format("2006-01-02T15:04:05.999999999Z07:00")
			}
			services = append(services, s)
		}
	}

	persisted, err := h.store.RecentErrorsForApp(appID, recentErrorLimit)
	if err != nil {
		log.Error().Err(err).Str("app_id", appID).Msg("summary: recent errors query failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "lookup failed")
		return
	}
	recentErrors := make([]recentError, len(persisted))
	for i, l := range persisted {
		recentErrors[i] = recentError{ID: l.ID, Timestamp: l.Timestamp, Level: l.Level, Service: l.Service, Message: l.Message, Fingerprint: l.Fingerprint}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"app_id":        appID,
		"services":      services,
		"recent_errors": recentErrors,
	})
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
