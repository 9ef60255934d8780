package engine

import (
	"context"
	"sync"
)

// CancelToken is a cooperative cancellation flag shared between a running
// turn and the connection that may stop it. The turn polls Cancelled at its
// checkpoints; blocking waits select on Done.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

// NewCancelToken returns an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel sets the flag. It reports false if the token was already set.
func (t *CancelToken) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	t.cancelled = true
	close(t.done)
	return true
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done is closed once the token is cancelled.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// Context derives a context that is cancelled together with the token, so
// provider streams and tool waits unblock promptly.
func (t *CancelToken) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
