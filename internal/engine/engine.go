// Package engine provides the generational simulation loop shared by every model.
// A model advances one generation per Step; the engine records each snapshot
// and stops at the configured generation count or when the model halts.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/talgya/evolab/internal/logging"
)

// Model is a simulation that can be advanced one generation at a time.
type Model[S any] interface {
	// Name identifies the model in logs and reports.
	Name() string

	// Initial returns the state before the first generation and whether it
	// belongs in the history.
	Initial() (S, bool)

	// Step advances the model to generation gen (1-based) and returns its
	// snapshot. A false second return ends the run after this snapshot.
	Step(gen int) (S, bool)
}

// History is the ordered, append-only record of one run.
type History[S any] struct {
	Model       string `json:"model"`
	Generations int    `json:"generations"` // Generations actually stepped
	Halted      bool   `json:"halted"`      // True if the model stopped before the configured count
	Entries     []S    `json:"entries"`
}

// Len returns the number of recorded snapshots.
func (h History[S]) Len() int {
	return len(h.Entries)
}

// Last returns the most recent snapshot. ok is false for an empty history.
func (h History[S]) Last() (snap S, ok bool) {
	if len(h.Entries) == 0 {
		return snap, false
	}
	return h.Entries[len(h.Entries)-1], true
}

// Engine drives a model through a fixed number of generations.
type Engine[S any] struct {
	Generations int // Upper bound on Step calls

	// OnGeneration is called after every recorded snapshot, including the
	// initial one (gen 0).
	OnGeneration func(gen int, snap S)
}

// New creates an engine bounded to the given generation count.
func New[S any](generations int) *Engine[S] {
	return &Engine[S]{Generations: generations}
}

// Run executes the model to completion and returns its history.
// The caller validates configuration before building the model.
func (e *Engine[S]) Run(m Model[S]) History[S] {
	start := time.Now()
	capacity := e.Generations + 1
	if capacity < 1 {
		capacity = 1
	}
	h := History[S]{
		Model:   m.Name(),
		Entries: make([]S, 0, capacity),
	}

	slog.Info("simulation started", "model", m.Name(), "generations", e.Generations)

	if snap, record := m.Initial(); record {
		e.record(&h, 0, snap)
	}

	for gen := 1; gen <= e.Generations; gen++ {
		snap, more := m.Step(gen)
		h.Generations = gen
		e.record(&h, gen, snap)

		if !more {
			h.Halted = gen < e.Generations
			break
		}
	}

	slog.Info("simulation finished",
		"model", m.Name(),
		"generations", h.Generations,
		"entries", len(h.Entries),
		"halted", h.Halted,
		"elapsed", time.Since(start),
	)
	return h
}

func (e *Engine[S]) record(h *History[S], gen int, snap S) {
	h.Entries = append(h.Entries, snap)
	slog.Debug("generation recorded", "model", h.Model, "generation", gen)
	slog.Log(context.Background(), logging.LevelTrace, "snapshot", "model", h.Model, "generation", gen, "state", snap)
	if e.OnGeneration != nil {
		e.OnGeneration(gen, snap)
	}
}
