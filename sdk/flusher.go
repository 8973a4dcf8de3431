package sdk

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/logsentry/logsentry/internal/backoff"
)

const maxConsecutiveFailures = 10

// flusherBackoff matches the §4.E/§4.H shared backoff curve: base 500ms,
// cap 30s, full jitter.
var flusherBackoff = backoff.Config{Base: 500 * time.Millisecond, Max: 30 * time.Second}

// flusher is the single background task that owns the network socket
// (component E). It wakes on batch-ready, timer, explicit flush, or
// shutdown, and drains the buffer in batch_size chunks.
type flusher struct {
	buf        *buffer
	client     *client
	apiKey     string
	batchSize  int
	interval   time.Duration
	logger     zerolog.Logger

	flushCh  chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
}

func newFlusher(buf *buffer, c *client, apiKey string, batchSize int, interval time.Duration, logger zerolog.Logger) *flusher {
	return &flusher{
		buf:       buf,
		client:    c,
		apiKey:    apiKey,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger,
		flushCh:   make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
		stopCh:    make(chan struct{}),
	}
}

// requestFlush asks the flusher to wake up and drain, without blocking.
func (f *flusher) requestFlush() {
	select {
	case f.flushCh <- struct{}{}:
	default:
	}
}

// run is the flusher's main loop. It exits when stopCh is closed.
func (f *flusher) run(ctx context.Context) {
	defer close(f.doneCh)

	ticker := time.NewTicker(f.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			f.drainOnShutdown()
			return
		case <-ctx.Done():
			f.drainOnShutdown()
			return
		case <-ticker.C:
			if f.buf.oldestAge() >= f.interval || f.buf.len() >= f.batchSize {
				f.flushOnce(ctx)
			}
		case <-f.flushCh:
			f.flushOnce(ctx)
		}
	}
}

// tickInterval wakes frequently enough to notice the interval deadline
// without busy-polling.
func (f *flusher) tickInterval() time.Duration {
	d := f.interval / 4
	if d < 50*time.Millisecond {
		d = 50 * time.Millisecond
	}
	return d
}

// flushOnce drains and ships the buffer in batch_size chunks until it is
// empty, including a final partial batch.
func (f *flusher) flushOnce(ctx context.Context) {
	for f.buf.len() > 0 {
		batch := f.buf.drain(f.batchSize)
		if len(batch) == 0 {
			return
		}
		f.sendWithRetry(ctx, batch)
	}
}

// sendWithRetry implements the §4.E batch lifecycle: on retryable outcomes
// it reinserts the batch at the head of the buffer and backs off, up to
// maxConsecutiveFailures before dropping the batch.
func (f *flusher) sendWithRetry(ctx context.Context, batch []LogRecord) {
	attempt := 0
	for {
		res := f.client.post(ctx, f.apiKey, batch)
		switch res.outcome {
		case outcomeDelivered:
			return
		case outcomeRejected:
			f.logger.Warn().Err(res.err).Int("batch_size", len(batch)).Msg("logsentry: server rejected batch, dropping")
			return
		case outcomeRetryable:
			attempt++
			if attempt >= maxConsecutiveFailures {
				f.logger.Error().Int("batch_size", len(batch)).Msg("logsentry: dropping batch after repeated flush failures")
				return
			}
			f.buf.requeue(batch)
			delay := flusherBackoff.Delay(attempt - 1)
			if res.retryAfter > delay {
				delay = res.retryAfter
			}
			if err := backoff.Sleep(ctx, delay); err != nil {
				return
			}
			// The batch now sits at the buffer head; drain it back out
			// so the retry ships exactly this batch rather than whatever
			// is currently at the front (which may have grown).
			batch = f.buf.drain(len(batch))
			if len(batch) == 0 {
				return
			}
		}
	}
}

// drainOnShutdown attempts one final flush with a bounded wall-clock
// budget, then drops anything left undelivered.
func (f *flusher) drainOnShutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.flushOnce(shutdownCtx)
}

// stop signals the flusher to drain and exit, blocking until it does.
func (f *flusher) stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
	<-f.doneCh
}
