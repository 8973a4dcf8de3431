package deviceauth

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunJanitor periodically expires stale pending sessions and trims the
// poll-rate-limiter's bookkeeping. It blocks until ctx is cancelled, so
// callers run it in its own goroutine.
func RunJanitor(ctx context.Context, proto *Protocol, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("device-auth janitor: recovered from panic")
					}
				}()
				n, err := proto.SweepExpired()
				if err != nil {
					log.Error().Err(err).Msg("device-auth janitor: sweep failed")
					return
				}
				if n > 0 {
					log.Info().Int64("expired", n).Msg("device-auth janitor: expired stale sessions")
				}
			}()
		}
	}
}
