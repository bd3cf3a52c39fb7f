// Package engine provides the tick-based simulation loop.
package engine

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// Engine drives the simulation forward.
type Engine struct {
	Interval    time.Duration // Base tick interval; 0 runs as fast as possible
	MaxTicks    uint64        // Stop after this tick; 0 = run until stopped
	ReportEvery uint64        // OnReport cadence in ticks; 0 = never

	// Callbacks, populated during setup.
	OnTick   func(tick uint64) error // Every tick; an error stops the loop
	OnReport func(tick uint64)       // Every ReportEvery ticks

	tick    atomic.Uint64
	speed   atomic.Uint64 // float64 bits
	running atomic.Bool
	stop    chan struct{}
}

// NewEngine creates a simulation engine with default settings.
func NewEngine() *Engine {
	e := &Engine{
		Interval: time.Second,
		stop:     make(chan struct{}, 1),
	}
	e.SetSpeed(1)
	return e
}

// Tick returns the last completed tick.
func (e *Engine) Tick() uint64 { return e.tick.Load() }

// SetTick sets the tick counter, used when resuming a saved run.
func (e *Engine) SetTick(t uint64) { e.tick.Store(t) }

// Speed returns the speed multiplier: 1.0 = one tick per Interval, 0 = paused.
func (e *Engine) Speed() float64 { return math.Float64frombits(e.speed.Load()) }

// SetSpeed changes the speed multiplier. Negative values pause.
func (e *Engine) SetSpeed(s float64) {
	if s < 0 || math.IsNaN(s) {
		s = 0
	}
	e.speed.Store(math.Float64bits(s))
}

// Running reports whether Run is in progress.
func (e *Engine) Running() bool { return e.running.Load() }

// Run steps the simulation until ctx is done, Stop is called, MaxTicks is
// reached, or OnTick fails. It returns the OnTick error, if any.
func (e *Engine) Run(ctx context.Context) error {
	e.running.Store(true)
	defer e.running.Store(false)
	slog.Info("simulation engine started", "tick", e.Tick(), "speed", e.Speed())

	for {
		if e.done(ctx) {
			break
		}
		speed := e.Speed()
		if speed <= 0 {
			// Paused; check again shortly.
			if !e.sleep(ctx, 100*time.Millisecond) {
				break
			}
			continue
		}

		start := time.Now()
		if err := e.step(); err != nil {
			slog.Error("tick failed", "tick", e.Tick()+1, "error", err)
			return err
		}
		if e.MaxTicks > 0 && e.Tick() >= e.MaxTicks {
			break
		}

		// Sleep for the remainder of the tick interval, adjusted for speed.
		if e.Interval > 0 {
			target := time.Duration(float64(e.Interval) / speed)
			if elapsed := time.Since(start); elapsed < target {
				if !e.sleep(ctx, target-elapsed) {
					break
				}
			}
		}
	}

	slog.Info("simulation engine stopped", "tick", e.Tick())
	return nil
}

// Stop asks a running loop to return after the current tick.
func (e *Engine) Stop() {
	if !e.running.Load() {
		return
	}
	select {
	case e.stop <- struct{}{}:
	default:
	}
}

// step advances the simulation by one tick.
func (e *Engine) step() error {
	next := e.Tick() + 1
	if e.OnTick != nil {
		if err := e.OnTick(next); err != nil {
			return err
		}
	}
	e.tick.Store(next)

	if e.ReportEvery > 0 && next%e.ReportEvery == 0 && e.OnReport != nil {
		e.OnReport(next)
	}
	return nil
}

func (e *Engine) done(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-e.stop:
		return true
	default:
		return false
	}
}

// sleep waits for d and returns false if the loop should exit instead.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-e.stop:
		return false
	case <-t.C:
		return true
	}
}
