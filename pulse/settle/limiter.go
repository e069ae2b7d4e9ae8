package settle

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/remit/errors"
)

// Limiter bounds how often movers are called across a whole process
type Limiter struct {
	perMinute int
	lim       *rate.Limiter
}

// NewLimiter allows callsPerMinute mover calls, evenly spaced.
// Zero or less means unlimited.
func NewLimiter(callsPerMinute int) *Limiter {
	if callsPerMinute <= 0 {
		return &Limiter{}
	}
	return &Limiter{
		perMinute: callsPerMinute,
		lim:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(callsPerMinute)), 1),
	}
}

// Wait blocks until a call is allowed or ctx ends
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.lim == nil {
		return nil
	}
	if err := l.lim.Wait(ctx); err != nil {
		err = errors.Mark(errors.Wrap(err, "waiting for mover rate limit"), errors.ErrTimeout)
		return errors.WithDetail(err, fmt.Sprintf("Max mover calls per minute: %d", l.perMinute))
	}
	return nil
}

// Unlimited reports whether the limiter never blocks
func (l *Limiter) Unlimited() bool {
	return l == nil || l.lim == nil
}
