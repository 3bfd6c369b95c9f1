package modulate

import (
	"math/rand/v2"
	"time"

	"lautenbacher.net/golights/scene"
)

// Gate is the orchestrator's verdict for one target fixture.
type Gate struct {
	Active bool
	// Scale multiplies the brightness of an active fixture.
	Scale float64
	// Progress is the elapsed share of the transition, may exceed 1. It is
	// informational and does not dim the fixture.
	Progress float64
}

// orchestration is the mutable state of the current scene's orchestrator.
// The zero value starts at index 0 with nothing active, so the first switch
// activates the second target.
type orchestration struct {
	index           int
	active          string
	direction       int
	lastSwitch      time.Time
	transitionStart time.Time
}

func (o *orchestration) run(cfg *scene.Orchestrator, bins func(scene.BinRange) float64, now time.Time, rnd *rand.Rand) map[string]Gate {
	n := len(cfg.Targets)
	gates := make(map[string]Gate, n)
	for _, t := range cfg.Targets {
		gates[t] = Gate{}
	}
	if n == 0 {
		return gates
	}

	var transition time.Duration
	switch cfg.Kind {
	case scene.Hopper:
		h := cfg.Hopper
		transition = h.Transition
		if bins(h.Trigger) >= h.Threshold && now.Sub(o.lastSwitch) > transition {
			o.index = (o.index + 1) % n
			o.switchTo(cfg.Targets[o.index], now)
		}
	case scene.Racer:
		r := cfg.Racer
		transition = r.Transition
		interval := time.Duration(float64(time.Second) / r.Frequency)
		if now.Sub(o.lastSwitch) >= interval {
			o.index = o.next(r.Order, n, rnd)
			o.switchTo(cfg.Targets[o.index], now)
		}
	}

	if o.active != "" {
		progress := 1.0
		if transition > 0 {
			progress = float64(now.Sub(o.transitionStart)) / float64(transition)
		}
		gates[o.active] = Gate{Active: true, Scale: 1, Progress: progress}
	}
	return gates
}

func (o *orchestration) switchTo(target string, now time.Time) {
	o.active = target
	o.lastSwitch = now
	o.transitionStart = now
}

func (o *orchestration) next(order scene.Order, n int, rnd *rand.Rand) int {
	if n == 1 {
		return 0
	}
	switch order {
	case scene.Reverse:
		return (o.index - 1 + n) % n
	case scene.Alternating:
		if o.direction == 0 {
			o.direction = 1
		}
		next := o.index + o.direction
		if next >= n || next < 0 {
			o.direction = -o.direction
			next = o.index + o.direction
		}
		return next
	case scene.RandomOrder:
		// any index but the current one
		next := rnd.IntN(n - 1)
		if next >= o.index {
			next++
		}
		return next
	default:
		return (o.index + 1) % n
	}
}
