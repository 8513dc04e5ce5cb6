package renderer

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

const (
	defaultTargetFPS     = 60
	minLowPowerFPS       = 15
	defaultAnimationCap  = 16
	lowPowerAnimationCap = 4
)

// Pacer spaces frame application at the target rate. Low-power mode lowers
// the rate and the concurrent-animation cap; it never touches permissions.
type Pacer struct {
	mu        sync.Mutex
	targetFPS int
	lowPower  bool
	limiter   *rate.Limiter
}

// NewPacer creates a pacer at the given frames per second.
func NewPacer(targetFPS int) *Pacer {
	if targetFPS <= 0 {
		targetFPS = defaultTargetFPS
	}
	return &Pacer{
		targetFPS: targetFPS,
		limiter:   rate.NewLimiter(rate.Limit(targetFPS), 1),
	}
}

// Wait blocks until the next frame slot.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	limiter := p.limiter
	p.mu.Unlock()
	return limiter.Wait(ctx)
}

// SetLowPower switches between full-rate and reduced scheduling.
func (p *Pacer) SetLowPower(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lowPower == on {
		return
	}
	p.lowPower = on
	fps := p.targetFPS
	if on {
		fps = p.targetFPS / 2
		if fps < minLowPowerFPS {
			fps = minLowPowerFPS
		}
	}
	p.limiter = rate.NewLimiter(rate.Limit(fps), 1)
}

// EffectiveFPS returns the rate currently in force.
func (p *Pacer) EffectiveFPS() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.limiter.Limit())
}

// AnimationCap returns how many animations may run concurrently.
func (p *Pacer) AnimationCap() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lowPower {
		return lowPowerAnimationCap
	}
	return defaultAnimationCap
}
