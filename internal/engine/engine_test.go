package engine

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/talgya/evolab/internal/logging"
)

// counter records its generation number and optionally halts early.
type counter struct {
	haltAt  int
	initial bool
}

func (c *counter) Name() string { return "counter" }

func (c *counter) Initial() (int, bool) { return 0, c.initial }

func (c *counter) Step(gen int) (int, bool) {
	return gen, c.haltAt == 0 || gen < c.haltAt
}

func TestRunRecordsEveryGeneration(t *testing.T) {
	h := New[int](10).Run(&counter{})

	if h.Len() != 10 {
		t.Fatalf("expected 10 entries, got %d", h.Len())
	}
	if h.Halted {
		t.Error("expected run not to be halted")
	}
	if h.Generations != 10 {
		t.Errorf("expected 10 generations, got %d", h.Generations)
	}
	for i, v := range h.Entries {
		if v != i+1 {
			t.Errorf("entry %d: expected %d, got %d", i, i+1, v)
		}
	}
}

func TestRunIncludesInitialState(t *testing.T) {
	h := New[int](5).Run(&counter{initial: true})

	if h.Len() != 6 {
		t.Fatalf("expected 6 entries, got %d", h.Len())
	}
	if h.Entries[0] != 0 {
		t.Errorf("expected initial entry 0, got %d", h.Entries[0])
	}
}

func TestRunHaltsEarly(t *testing.T) {
	h := New[int](10).Run(&counter{haltAt: 4})

	if h.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", h.Len())
	}
	if !h.Halted {
		t.Error("expected run to be marked halted")
	}
	last, ok := h.Last()
	if !ok || last != 4 {
		t.Errorf("expected last entry 4, got %d (ok=%v)", last, ok)
	}
}

func TestHaltOnFinalGenerationIsNotEarly(t *testing.T) {
	h := New[int](3).Run(&counter{haltAt: 3})
	if h.Halted {
		t.Error("halting on the last generation should not count as early")
	}
}

func TestZeroGenerations(t *testing.T) {
	h := New[int](0).Run(&counter{})
	if h.Len() != 0 {
		t.Errorf("expected empty history, got %d entries", h.Len())
	}
	if _, ok := h.Last(); ok {
		t.Error("expected Last to report empty history")
	}
}

func TestOnGenerationCallback(t *testing.T) {
	var seen []int
	e := New[int](3)
	e.OnGeneration = func(gen int, snap int) {
		seen = append(seen, gen)
	}
	e.Run(&counter{initial: true})

	want := []int{0, 1, 2, 3}
	if len(seen) != len(want) {
		t.Fatalf("expected %d callbacks, got %d", len(want), len(seen))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("callback %d: expected gen %d, got %d", i, want[i], seen[i])
		}
	}
}

func TestInvalidf(t *testing.T) {
	err := Invalidf("population_size must be positive, got %d", 0)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	want := "invalid configuration: population_size must be positive, got 0"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestTraceLogsSnapshots(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	tests := []struct {
		level string
		want  int
	}{
		{"trace", 3},
		{"debug", 0},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			slog.SetDefault(logging.NewLogger(tt.level, &buf))
			New[int](3).Run(&counter{})

			if got := strings.Count(buf.String(), "msg=snapshot"); got != tt.want {
				t.Errorf("expected %d snapshot lines, got %d:\n%s", tt.want, got, buf.String())
			}
			if tt.want > 0 && !strings.Contains(buf.String(), "level=TRACE") {
				t.Errorf("expected TRACE level label:\n%s", buf.String())
			}
		})
	}
}
