package deviceauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/logsentry/logsentry/internal/store"
)

// Handlers wires the device-authorization HTTP surface onto a chi router.
type Handlers struct {
	proto *Protocol
}

// NewHandlers builds Handlers around an existing Protocol.
func NewHandlers(proto *Protocol) *Handlers {
	return &Handlers{proto: proto}
}

// Mount registers the three device-auth endpoints under r. Per spec §4.I,
// poll is a GET (it's idempotent from the caller's point of view even
// though it side-effectfully clears the one-time plaintext key slot).
func (h *Handlers) Mount(r chi.Router) {
	r.Post("/sdk/device/start", h.start)
	r.Get("/sdk/device/poll", h.poll)
	r.Post("/sdk/device/complete", h.complete)
}

func (h *Handlers) start(w http.ResponseWriter, r *http.Request) {
	res, err := h.proto.Start()
	if err != nil {
		log.Error().Err(err).Msg("device auth start failed")
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "could not start device session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_code":           res.DeviceCode,
		"user_code":             res.UserCode,
		"verification_url":      verificationURL(r, res.UserCode),
		"expires_in":            res.ExpiresInSecs,
		"poll_interval_seconds": res.PollIntervalSec,
	})
}

// verificationURL points the human operator at the out-of-scope dashboard's
// device-confirmation page, pre-filled with the user_code.
func verificationURL(r *http.Request, userCode string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/device?user_code=%s", scheme, r.Host, userCode)
}

func (h *Handlers) poll(w http.ResponseWriter, r *http.Request) {
	deviceCode := r.URL.Query().Get("device_code")
	if deviceCode == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "device_code is required")
		return
	}

	res, err := h.proto.Poll(deviceCode)
	switch {
	case errors.Is(err, ErrPollTooFast):
		writeJSONError(w, http.StatusTooManyRequests, "slow_down", "polling too frequently")
		return
	case errors.Is(err, ErrAlreadyConsumed):
		writeJSONError(w, http.StatusGone, "consumed", "api key already retrieved")
		return
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", "unknown device_code")
		return
	case err != nil:
		log.Error().Err(err).Str("device_code", deviceCode).Msg("device auth poll failed")
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "could not poll device session")
		return
	}

	switch res.Status {
	case store.DeviceStatusPending:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "pending"})
	case store.DeviceStatusExpired:
		writeJSONError(w, http.StatusGone, "expired_token", "device code expired")
	case store.DeviceStatusDenied:
		writeJSONError(w, http.StatusGone, "access_denied", "authorization request was denied")
	case store.DeviceStatusCompleted:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "completed",
			"app_id":  res.AppID,
			"api_key": res.APIKey,
		})
	}
}

type completeRequest struct {
	UserCode string `json:"user_code"`
	OwnerID  string `json:"owner_id"`
	AppName  string `json:"app_name"`
}

func (h *Handlers) complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserCode == "" || req.OwnerID == "" || req.AppName == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "user_code, owner_id, and app_name are required")
		return
	}

	appID, err := h.proto.Complete(req.UserCode, req.OwnerID, req.AppName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "unknown user_code")
			return
		}
		log.Error().Err(err).Str("user_code", req.UserCode).Msg("device auth complete failed")
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"app_id": appID})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}
