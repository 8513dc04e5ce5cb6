package renderer

import (
	"context"
	"testing"
	"time"
)

func TestPacerSpacesFrames(t *testing.T) {
	p := NewPacer(100) // 10ms per frame

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	// First slot is immediate; the remaining four are paced.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("5 frames took %s, want at least ~40ms of pacing", elapsed)
	}
}

func TestPacerLowPower(t *testing.T) {
	p := NewPacer(60)
	if got := p.EffectiveFPS(); got != 60 {
		t.Fatalf("EffectiveFPS() = %d, want 60", got)
	}
	if got := p.AnimationCap(); got != defaultAnimationCap {
		t.Fatalf("AnimationCap() = %d, want %d", got, defaultAnimationCap)
	}

	p.SetLowPower(true)
	if got := p.EffectiveFPS(); got != 30 {
		t.Errorf("low-power EffectiveFPS() = %d, want 30", got)
	}
	if got := p.AnimationCap(); got != lowPowerAnimationCap {
		t.Errorf("low-power AnimationCap() = %d, want %d", got, lowPowerAnimationCap)
	}

	p.SetLowPower(false)
	if got := p.EffectiveFPS(); got != 60 {
		t.Errorf("restored EffectiveFPS() = %d, want 60", got)
	}
}

func TestPacerFloorsLowRate(t *testing.T) {
	p := NewPacer(20)
	p.SetLowPower(true)
	if got := p.EffectiveFPS(); got != minLowPowerFPS {
		t.Errorf("EffectiveFPS() = %d, want floor %d", got, minLowPowerFPS)
	}
}
