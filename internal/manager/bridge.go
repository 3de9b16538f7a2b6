package manager

import (
	"context"
	"fmt"
	"time"

	"sketchd/internal/engine"
)

// runFunc drives one generation against the underlying session, invoking the
// callback with cumulative-text snapshots.
type runFunc func(ctx context.Context, cb engine.Callback) error

// streamGeneration adapts the engine's callback contract into a channel of
// Update values. Guarantees to the consumer:
//
//   - every non-terminal Update carries the cumulative text so far;
//   - exactly one terminal Update (Done or Err set) is sent, then the
//     channel is closed;
//   - after cancellation or timeout no further partials are forwarded, even
//     if the underlying runtime keeps firing callbacks;
//   - a panic inside the run is converted into a terminal error.
//
// The returned channel is unbuffered; the producer goroutine exits once the
// terminal Update is delivered or the context is gone.
func streamGeneration(ctx context.Context, timeout time.Duration, run runFunc) <-chan Update {
	out := make(chan Update)
	gctx, cancel := context.WithTimeout(ctx, timeout)

	go func() {
		defer close(out)
		defer cancel()

		terminal := func(u Update) {
			u.Done = true
			select {
			case out <- u:
			case <-ctx.Done():
				// Consumer is gone; nobody will read the terminal.
			}
		}

		var text string
		cb := func(partial string, done bool) {
			if gctx.Err() != nil {
				return
			}
			if done {
				return
			}
			text = partial
			select {
			case out <- Update{Text: partial}:
			case <-gctx.Done():
			}
		}

		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("inference runtime panic: %v", r)
				}
			}()
			return run(gctx, cb)
		}()

		switch {
		case err != nil:
			terminal(Update{Text: text, Err: err})
		case gctx.Err() != nil && ctx.Err() == nil:
			// The per-call deadline fired while the caller is still around.
			terminal(Update{Text: text, Err: newTimeoutError(timeout)})
		case gctx.Err() != nil:
			terminal(Update{Text: text, Err: gctx.Err()})
		default:
			terminal(Update{Text: text})
		}
	}()

	return out
}
