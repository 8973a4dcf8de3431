// Package deviceauth implements component I: the device-authorization
// handshake a new SDK installation uses to obtain an API key without the
// device itself ever handling an operator's credentials, in the style of
// RFC 8628's device authorization grant.
package deviceauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/logsentry/logsentry/internal/keyregistry"
	"github.com/logsentry/logsentry/internal/metrics"
	"github.com/logsentry/logsentry/internal/store"
)

// ErrPollTooFast is returned when a device polls more often than the
// advertised poll interval allows.
var ErrPollTooFast = errors.New("deviceauth: polling too fast")

// ErrAlreadyConsumed is returned when a completed session's one-time
// plaintext slot has already been read by an earlier poll.
var ErrAlreadyConsumed = errors.New("deviceauth: api key already consumed")

// StartResult is returned from Start.
type StartResult struct {
	DeviceCode      string
	UserCode        string
	ExpiresInSecs   int
	PollIntervalSec int
}

// PollResult is returned from Poll. Status is one of the store-level
// DeviceStatus* constants; an already-consumed session is reported through
// ErrAlreadyConsumed, not through a PollResult.
type PollResult struct {
	Status string
	AppID  string
	APIKey string
}

const PollStatusConsumed = "consumed"

// Protocol implements the start/complete/poll handshake against a Store,
// minting API keys through a keyregistry.Registry on completion.
type Protocol struct {
	store        *store.Store
	keys         *keyregistry.Registry
	sessionTTL   time.Duration
	pollInterval time.Duration
	limiter      *pollLimiter
	metrics      *metrics.Collector
}

// WithMetrics attaches a metrics.Collector that records terminal session
// outcomes. Passing nil disables reporting.
func (p *Protocol) WithMetrics(c *metrics.Collector) *Protocol {
	p.metrics = c
	return p
}

// New builds a Protocol. sessionTTL bounds how long an unclaimed device
// code remains pending; pollInterval is both the minimum gap a device must
// wait between polls and the value advertised back to it in StartResult.
func New(st *store.Store, keys *keyregistry.Registry, sessionTTL, pollInterval time.Duration) *Protocol {
	return &Protocol{
		store:        st,
		keys:         keys,
		sessionTTL:   sessionTTL,
		pollInterval: pollInterval,
		limiter:      newPollLimiter(pollInterval),
	}
}

// Start creates a new pending device session and returns the codes the SDK
// and the human operator need.
func (p *Protocol) Start() (*StartResult, error) {
	deviceCode, err := GenerateDeviceCode()
	if err != nil {
		return nil, err
	}
	userCode, err := GenerateUserCode()
	if err != nil {
		return nil, err
	}

	now := store.Now()
	ds := &store.DeviceSession{
		DeviceCode: deviceCode,
		UserCode:   userCode,
		Status:     store.DeviceStatusPending,
		CreatedAt:  now.Format(time.RFC3339),
		ExpiresAt:  now.Add(p.sessionTTL).Format(time.RFC3339),
	}
	if err := p.store.CreateDeviceSession(ds); err != nil {
		return nil, err
	}

	return &StartResult{
		DeviceCode:      deviceCode,
		UserCode:        userCode,
		ExpiresInSecs:   int(p.sessionTTL.Seconds()),
		PollIntervalSec: int(p.pollInterval.Seconds()),
	}, nil
}

// Complete approves a pending session identified by its user_code on
// behalf of ownerID, binding it to appName (reusing an existing app owned
// by ownerID with that name, or creating one) and minting a fresh API key.
// It returns the app_id the caller should hand back to the browser-side
// completion page (spec §4.I step 5).
func (p *Protocol) Complete(userCode, ownerID, appName string) (string, error) {
	ds, err := p.store.GetDeviceSessionByUserCode(userCode)
	if err != nil {
		return "", err
	}
	if ds.Status != store.DeviceStatusPending {
		return "", fmt.Errorf("deviceauth: session %s is %s, not pending", ds.DeviceCode, ds.Status)
	}
	if store.Now().After(parseTime(ds.ExpiresAt)) {
		_ = p.store.UpdateDeviceSessionStatus(ds.DeviceCode, store.DeviceStatusExpired)
		return "", fmt.Errorf("deviceauth: session %s expired", ds.DeviceCode)
	}

	app, err := p.store.FindAppByOwnerAndName(ownerID, appName)
	if errors.Is(err, store.ErrNotFound) {
		app = &store.App{
			ID:        newAppID(),
			Name:      appName,
			OwnerID:   ownerID,
			CreatedAt: store.Now().Format(time.RFC3339),
		}
		if err := p.store.CreateApp(app); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	plaintext, lookupHash, err := p.keys.IssueAndStore(app.ID)
	if err != nil {
		return "", err
	}

	if err := p.store.CompleteDeviceSession(ds.DeviceCode, app.ID, plaintext, lookupHash); err != nil {
		return "", err
	}
	if p.metrics != nil {
		p.metrics.AddDeviceSessionTerminal(store.DeviceStatusCompleted)
	}
	return app.ID, nil
}

// Deny marks a pending session as denied, used when the operator declines
// the request from the browser-facing completion page.
func (p *Protocol) Deny(userCode string) error {
	ds, err := p.store.GetDeviceSessionByUserCode(userCode)
	if err != nil {
		return err
	}
	if err := p.store.UpdateDeviceSessionStatus(ds.DeviceCode, store.DeviceStatusDenied); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.AddDeviceSessionTerminal(store.DeviceStatusDenied)
	}
	return nil
}

// Poll resolves the current state of a device session for the polling SDK.
// A completed session's plaintext key is handed back exactly once; every
// poll after that returns ErrAlreadyConsumed instead of re-sending it.
func (p *Protocol) Poll(deviceCode string) (*PollResult, error) {
	if !p.limiter.allow(deviceCode) {
		return nil, ErrPollTooFast
	}

	ds, err := p.store.GetDeviceSessionByCode(deviceCode)
	if err != nil {
		return nil, err
	}

	now := store.Now().Format(time.RFC3339)

	switch ds.Status {
	case store.DeviceStatusPending:
		if store.Now().After(parseTime(ds.ExpiresAt)) {
			_ = p.store.UpdateDeviceSessionStatus(deviceCode, store.DeviceStatusExpired)
			_ = p.store.TouchDeviceSessionPoll(deviceCode, now)
			return &PollResult{Status: store.DeviceStatusExpired}, nil
		}
		_ = p.store.TouchDeviceSessionPoll(deviceCode, now)
		return &PollResult{Status: store.DeviceStatusPending}, nil

	case store.DeviceStatusExpired, store.DeviceStatusDenied:
		_ = p.store.TouchDeviceSessionPoll(deviceCode, now)
		return &PollResult{Status: ds.Status}, nil

	case store.DeviceStatusCompleted:
		if ds.APIKeyPlaintext == "" {
			_ = p.store.TouchDeviceSessionPoll(deviceCode, now)
			return nil, ErrAlreadyConsumed
		}
		result := &PollResult{Status: store.DeviceStatusCompleted, AppID: ds.AppID, APIKey: ds.APIKeyPlaintext}
		if err := p.store.ConsumeDeviceSessionPlaintext(deviceCode, now); err != nil {
			return nil, err
		}
		return result, nil

	default:
		return nil, fmt.Errorf("deviceauth: unknown session status %q", ds.Status)
	}
}

// SweepExpired flips every pending session past its expiry to expired and
// trims the poll-rate-limiter's bookkeeping. It is meant to be called
// periodically from a janitor goroutine (see RunJanitor).
func (p *Protocol) SweepExpired() (int64, error) {
	n, err := p.store.ExpirePendingSessions(store.Now().Format(time.RFC3339))
	if p.metrics != nil && n > 0 {
		for i := int64(0); i < n; i++ {
			p.metrics.AddDeviceSessionTerminal(store.DeviceStatusExpired)
		}
	}
	p.limiter.sweep(24 * time.Hour)
	return n, err
}

func newAppID() string {
	return "app_" + uuid.NewString()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
