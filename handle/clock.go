package handle

import (
	"context"
	"sync/atomic"
	"time"
)

// Clock supplies the timestamps used to order resources for discarding
type Clock interface {
	Now() uint32
}

// FrameClock counts frames. The host advances it once per frame with Tick, or lets Run advance it on
// a fixed interval.
type FrameClock struct {
	frames atomic.Uint32
}

var _ Clock = &FrameClock{}

func (c *FrameClock) Now() uint32 {
	return c.frames.Load()
}

// Tick advances the clock by one frame and returns the new frame number
func (c *FrameClock) Tick() uint32 {
	return c.frames.Add(1)
}

// Run ticks the clock every interval until ctx is done
func (c *FrameClock) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick()
		}
	}
}
