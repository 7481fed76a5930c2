package supervisor

import (
	"context"
	"sync"
	"time"
)

// Outcome is the single-resolution result of one launch. The first settle
// wins; later attempts are ignored and every observer sees the same value.
type Outcome struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	err     error
	at      time.Time
}

func newOutcome() *Outcome {
	return &Outcome{done: make(chan struct{})}
}

// settle records err (nil for ready). Returns false if already settled.
func (o *Outcome) settle(err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.settled {
		return false
	}
	o.settled = true
	o.err = err
	o.at = time.Now()
	close(o.done)
	return true
}

// Done is closed once the outcome is settled.
func (o *Outcome) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the outcome settles or ctx is done. It returns nil when
// the backend is ready and the startup error otherwise.
func (o *Outcome) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settled reports whether the outcome has been decided.
func (o *Outcome) Settled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settled
}

// Ready reports whether the outcome settled successfully.
func (o *Outcome) Ready() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settled && o.err == nil
}

// Err returns the startup error, or nil if ready or not yet settled.
func (o *Outcome) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// SettledAt returns when the outcome was decided.
func (o *Outcome) SettledAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.at
}
