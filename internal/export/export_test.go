package export

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/talgya/evolab/internal/config"
	"github.com/talgya/evolab/internal/lab"
)

func TestWriteReportRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.PredPrey.Steps = 20
	rep, err := lab.Run(lab.PredPrey, cfg, 31, nil)
	if err != nil {
		t.Fatalf("lab.Run failed: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "exports")
	path, err := WriteReport(dir, rep)
	if err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}
	if !strings.HasSuffix(path, Ext) || !strings.HasPrefix(filepath.Base(path), "predprey-31-") {
		t.Errorf("unexpected export path %s", path)
	}

	lines, err := ReadLines(path)
	if err != nil {
		t.Fatalf("ReadLines failed: %v", err)
	}
	if len(lines) != len(rep.Entries)+1 {
		t.Fatalf("expected %d lines, got %d", len(rep.Entries)+1, len(lines))
	}

	hdr, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if hdr.Model != lab.PredPrey || hdr.Seed != 31 || hdr.Entries != len(rep.Entries) {
		t.Errorf("unexpected header %+v", hdr)
	}

	var last struct {
		Step int     `json:"step"`
		Prey float64 `json:"prey"`
	}
	if err := json.Unmarshal(lines[len(lines)-1], &last); err != nil {
		t.Fatalf("last line: %v", err)
	}
	if last.Step != cfg.PredPrey.Steps {
		t.Errorf("expected last step %d, got %d", cfg.PredPrey.Steps, last.Step)
	}
}

func TestWriterClosedRejectsWrites(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "x"+Ext))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := w.Write(map[string]int{"a": 1}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if err := w.Write(1); err == nil {
		t.Error("expected error writing to a closed writer")
	}
}

func TestReadHeaderEmptyExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty"+Ext)
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w.Close()
	if _, err := ReadHeader(path); err == nil {
		t.Error("expected error for empty export")
	}
}

func TestFileName(t *testing.T) {
	rep := &lab.Report{Model: "jackdaw", Seed: 7}
	at := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	if got := FileName(rep, at); got != "jackdaw-7-20240309T140506.jsonl.zst" {
		t.Errorf("unexpected file name %s", got)
	}

	rep.Model = "hawkdove/pairwise"
	if got := FileName(rep, at); got != "hawkdove-pairwise-7-20240309T140506.jsonl.zst" {
		t.Errorf("unexpected file name %s", got)
	}
}

func TestWriteReportHawkDoveLandsInDir(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.HawkDove.Generations = 5
	rep, err := lab.Run(lab.HawkDove, cfg, 7, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	path, err := WriteReport(dir, rep)
	if err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("expected export in %s, got %s", dir, path)
	}
	if !strings.HasPrefix(filepath.Base(path), "hawkdove-7-") {
		t.Errorf("unexpected export name %s", filepath.Base(path))
	}
}
