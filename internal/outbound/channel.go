package outbound

import (
	"context"
	"errors"
	"time"
)

// ErrFull is returned when the consumer did not accept an event within the push timeout.
var ErrFull = errors.New("outbound channel full")

// Sink accepts supervisor-bound events. Delivery is attempted, not guaranteed.
type Sink interface {
	Push(ctx context.Context, e Event) error
}

const (
	defaultCapacity    = 256
	defaultPushTimeout = time.Second
)

// Channel is a bounded in-process Sink drained by the supervisor through C.
type Channel struct {
	ch          chan Event
	pushTimeout time.Duration
}

// NewChannel creates a channel holding up to capacity undelivered events. A push into a full
// channel waits up to pushTimeout for the consumer before giving up.
func NewChannel(capacity int, pushTimeout time.Duration) *Channel {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if pushTimeout <= 0 {
		pushTimeout = defaultPushTimeout
	}
	return &Channel{ch: make(chan Event, capacity), pushTimeout: pushTimeout}
}

func (c *Channel) Push(ctx context.Context, e Event) error {
	if c == nil {
		return errors.New("nil outbound channel")
	}
	select {
	case c.ch <- e:
		return nil
	default:
	}

	t := time.NewTimer(c.pushTimeout)
	defer t.Stop()
	select {
	case c.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return ErrFull
	}
}

// C is the consumer side.
func (c *Channel) C() <-chan Event {
	return c.ch
}

// Len reports undelivered events.
func (c *Channel) Len() int {
	return len(c.ch)
}
