package gateway

import (
	"context"
	"math/rand/v2"
	"time"
)

// mock drives the mockup adapters: sleep a synthetic processing delay, then
// succeed with the configured probability. Probability 1.0 always succeeds
// and 0.0 always fails, which is what tests rely on.
type mock struct {
	probability float64
	delay       time.Duration
}

// simulate waits out the delay. Reports timedOut when the context expires
// first, otherwise rolls the success dice.
func (m mock) simulate(ctx context.Context) (ok, timedOut bool) {
	if m.delay > 0 {
		t := time.NewTimer(m.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false, true
		case <-t.C:
		}
	}
	return rand.Float64() < m.probability, false
}
