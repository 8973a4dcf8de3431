// Package sdk is the LogSentry client runtime: in-process log capture,
// buffered batching, and asynchronous flushing with bounded retry
// (components D, E, F).
package sdk

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrMissingCredentials is returned by Init when no api_key can be
// resolved from the explicit argument, environment, or local credentials
// file.
var ErrMissingCredentials = errors.New("logsentry: MISSING_CREDENTIALS")

// instance holds the single process-wide SDK state. Init is idempotent:
// calling it twice replaces the configuration, drains the prior buffer on
// a best-effort basis, and installs exactly one log tap.
type instance struct {
	mu      sync.Mutex
	buf     *buffer
	flusher *flusher
	hook    *tapHook
	cancel  context.CancelFunc
}

var (
	globalMu  sync.Mutex
	global    *instance
	installed *zerolog.Logger // the logger instance the tap was installed on
)

// Init resolves configuration per §4.F, starts the background flusher, and
// returns a new console (stderr) zerolog.Logger with the log tap installed;
// only records written through that returned logger are captured. No other
// logger, global or caller-owned, is modified. Calling Init again
// replaces the running instance: the old flusher is stopped (best-effort
// drain) before the new one starts.
func Init(opts Options) (*zerolog.Logger, error) {
	cfg, err := resolve(opts)
	if err != nil {
		return nil, err
	}

	globalMu.Lock()
	defer globalMu.Unlock()

	if global != nil {
		global.shutdown(time.Second)
	}

	console := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	buf := newBuffer(cfg.maxBuffer)
	hook := newTapHook(buf, parseLevel(cfg.logLevel), cfg.service, &console)
	c := newClient(cfg.dsn)
	f := newFlusher(buf, c, cfg.apiKey, cfg.batchSize, time.Duration(cfg.flushInterval*float64(time.Second)), console)

	ctx, cancel := context.WithCancel(context.Background())
	go f.run(ctx)

	inst := &instance{buf: buf, flusher: f, hook: hook, cancel: cancel}
	global = inst

	logger := console.Hook(hook)
	return &logger, nil
}

// Flush requests an immediate drain of the buffer. It does not block until
// delivery completes; call Shutdown for a blocking final flush.
func Flush() {
	globalMu.Lock()
	inst := global
	globalMu.Unlock()
	if inst == nil {
		return
	}
	inst.flusher.requestFlush()
}

// Shutdown signals the flusher, waits up to timeout for a final drain, then
// cancels outstanding HTTP I/O. Safe to call even if Init was never called.
func Shutdown(timeout time.Duration) {
	globalMu.Lock()
	inst := global
	global = nil
	globalMu.Unlock()
	if inst == nil {
		return
	}
	inst.shutdown(timeout)
}

func (inst *instance) shutdown(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		inst.flusher.stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		inst.cancel()
		<-done
	}
}
