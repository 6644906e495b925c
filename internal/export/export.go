// Package export writes run histories as zstd-compressed JSON lines.
// The first line is a Header; each following line is one snapshot.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/evolab/internal/lab"
)

// Ext is the file extension of exported histories.
const Ext = ".jsonl.zst"

// Header is the first line of an export.
type Header struct {
	Model       string         `json:"model"`
	Seed        int64          `json:"seed"`
	Rule        string         `json:"rule,omitempty"`
	Generations int            `json:"generations"`
	Halted      bool           `json:"halted"`
	Entries     int            `json:"entries"`
	ExportedAt  time.Time      `json:"exported_at"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Writer appends JSON lines to a zstd stream. Safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

// Create opens a new export file, creating parent directories.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{
		f:   f,
		enc: enc,
		w:   bufio.NewWriterSize(enc, 128*1024),
	}, nil
}

// Write appends v as one JSON line.
func (w *Writer) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		return os.ErrClosed
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Close flushes the stream and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		return nil
	}
	err := w.w.Flush()
	if cerr := w.enc.Close(); err == nil {
		err = cerr
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.w, w.enc, w.f = nil, nil, nil
	return err
}

// FileName returns the export name for a report. Path separators in the
// model name are replaced so the file always lands directly in the export dir.
func FileName(rep *lab.Report, at time.Time) string {
	model := strings.NewReplacer("/", "-", `\`, "-").Replace(rep.Model)
	return fmt.Sprintf("%s-%d-%s%s", model, rep.Seed, at.UTC().Format("20060102T150405"), Ext)
}

// WriteReport exports a report into dir and returns the file path.
func WriteReport(dir string, rep *lab.Report) (string, error) {
	now := time.Now()
	path := filepath.Join(dir, FileName(rep, now))

	w, err := Create(path)
	if err != nil {
		return "", fmt.Errorf("create export: %w", err)
	}

	hdr := Header{
		Model:       rep.Model,
		Seed:        rep.Seed,
		Rule:        rep.Rule,
		Generations: rep.Generations,
		Halted:      rep.Halted,
		Entries:     len(rep.Entries),
		ExportedAt:  now.UTC(),
		Extra:       rep.Extra,
	}
	if err := w.Write(hdr); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write header: %w", err)
	}
	for i, e := range rep.Entries {
		if err := w.Write(e); err != nil {
			_ = w.Close()
			return "", fmt.Errorf("write entry %d: %w", i, err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close export: %w", err)
	}
	return path, nil
}

// ReadLines decompresses an export and returns every line, header first.
func ReadLines(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var lines []json.RawMessage
	for sc.Scan() {
		line := make([]byte, len(sc.Bytes()))
		copy(line, sc.Bytes())
		if !json.Valid(line) {
			return nil, fmt.Errorf("%s: line %d is not JSON", filepath.Base(path), len(lines)+1)
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return lines, nil
}

// ReadHeader returns the header of an export.
func ReadHeader(path string) (*Header, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%s: empty export", filepath.Base(path))
	}
	var hdr Header
	if err := json.Unmarshal(lines[0], &hdr); err != nil {
		return nil, fmt.Errorf("%s: header: %w", filepath.Base(path), err)
	}
	return &hdr, nil
}
