package sweep

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/itohio/gofbg/pkg/instrument"
)

// Runner repeats sweeps for one program run and hands every result to the
// registered callbacks.
type Runner struct {
	sweeper  *Sweeper
	readings int
	interval time.Duration

	mu        sync.RWMutex
	last      Result
	hasLast   bool
	completed int

	callbacks []func(Result)
	cbMu      sync.RWMutex
}

// NewRunner creates a runner taking readings reads per position and pausing
// interval between sweeps.
func NewRunner(s *Sweeper, readings int, interval time.Duration) *Runner {
	return &Runner{
		sweeper:   s,
		readings:  readings,
		interval:  interval,
		callbacks: make([]func(Result), 0),
	}
}

// OnResult registers a callback invoked after every completed sweep.
// Callbacks run on the sweep goroutine and should return quickly.
func (r *Runner) OnResult(callback func(Result)) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

// Last returns the most recent completed sweep.
func (r *Runner) Last() (Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.hasLast
}

// Completed returns the number of completed sweeps.
func (r *Runner) Completed() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.completed
}

// Run performs count sweeps, or sweeps until ctx is done when count is 0.
// A cancelled sweep produces no result and ends the run without error.
// Any other sweep error ends the run and is returned, so the caller can
// reconnect the devices and start a new run.
func (r *Runner) Run(ctx context.Context, count int) error {
	for n := 0; count == 0 || n < count; n++ {
		if n > 0 {
			if err := sleepContext(ctx, r.interval); err != nil {
				return nil
			}
		}

		res, err := r.sweeper.Acquire(ctx, r.readings)
		if err != nil {
			if errors.Is(err, instrument.ErrCancelled) {
				log.Printf("sweep cancelled, no data this cycle")
				return nil
			}
			return err
		}

		r.mu.Lock()
		r.last = res
		r.hasLast = true
		r.completed++
		r.mu.Unlock()

		r.notifyCallbacks(res)
	}
	return nil
}

// notifyCallbacks invokes all registered callbacks without holding any locks.
func (r *Runner) notifyCallbacks(res Result) {
	r.cbMu.RLock()
	callbacks := make([]func(Result), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(res)
		}
	}
}
