package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/text/encoding/charmap"

	"github.com/vojhanzlik/showads-connector/internal/config"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	return path
}

func inputCfg(path string) config.InputConfig {
	return config.InputConfig{Path: path, Delimiter: ",", Encoding: "utf-8"}
}

func drainRaw(t *testing.T, ch <-chan RawRecord) []RawRecord {
	t.Helper()
	var out []RawRecord
	for raw := range ch {
		out = append(out, raw)
	}
	return out
}

func TestReaderHeaderAndRecords(t *testing.T) {
	path := writeCSV(t, "Name,Age,City\nJohn,30,NYC\nJane,25,LA\n")

	r, err := NewReader(inputCfg(path))
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}

	fields := r.Fields()
	want := []string{"Name", "Age", "City"}
	if len(fields) != len(want) {
		t.Fatalf("Fields() = %v, want %v", fields, want)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("Fields()[%d] = %q, want %q", i, fields[i], want[i])
		}
	}

	records := drainRaw(t, r.Records(context.Background()))
	if err := r.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Row != 1 || records[0].Cells[0] != "John" {
		t.Errorf("records[0] = %+v, want row 1 John", records[0])
	}
	if records[1].Row != 2 || records[1].Cells[1] != "25" {
		t.Errorf("records[1] = %+v, want row 2 age 25", records[1])
	}
}

func TestReaderSkipsEmptyRowsButCountsThem(t *testing.T) {
	path := writeCSV(t, "Name,Age\nJohn,30\n , \nJane,25\n")

	r, err := NewReader(inputCfg(path))
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}

	records := drainRaw(t, r.Records(context.Background()))
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (empty row skipped)", len(records))
	}
	// the blank row still consumed row number 2
	if records[1].Row != 3 {
		t.Errorf("records[1].Row = %d, want 3", records[1].Row)
	}
}

func TestReaderEmitsMalformedRowAndContinues(t *testing.T) {
	path := writeCSV(t, "Name,Age\nJohn,30\nonly-one-cell\nJane,25\n")

	r, err := NewReader(inputCfg(path))
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}

	records := drainRaw(t, r.Records(context.Background()))
	if err := r.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil (parse errors are per-row)", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[1].Err == nil {
		t.Errorf("records[1].Err = nil, want field count error")
	}
	if records[2].Err != nil || records[2].Cells[0] != "Jane" {
		t.Errorf("records[2] = %+v, want clean Jane row", records[2])
	}
}

func TestReaderSemicolonDelimiter(t *testing.T) {
	path := writeCSV(t, "Name;Age\nJohn;30\n")

	cfg := config.InputConfig{Path: path, Delimiter: ";", Encoding: "utf-8"}
	r, err := NewReader(cfg)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}

	records := drainRaw(t, r.Records(context.Background()))
	if len(records) != 1 || records[0].Cells[1] != "30" {
		t.Errorf("records = %+v, want one row split on semicolon", records)
	}
}

func TestReaderWindows1251(t *testing.T) {
	// "Имя" (Name) encoded in windows-1251
	enc := charmap.Windows1251.NewEncoder()
	name, err := enc.String("Имя")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := writeCSV(t, name+",Age\nJohn,30\n")

	cfg := config.InputConfig{Path: path, Delimiter: ",", Encoding: "windows-1251"}
	r, err := NewReader(cfg)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	if r.Fields()[0] != "Имя" {
		t.Errorf("Fields()[0] = %q, want decoded Имя", r.Fields()[0])
	}
}

func TestReaderMissingFile(t *testing.T) {
	cfg := inputCfg(filepath.Join(t.TempDir(), "missing.csv"))
	if _, err := NewReader(cfg); err == nil {
		t.Error("NewReader() expected error for missing file")
	}
}

func TestReaderRejectsDirectory(t *testing.T) {
	cfg := inputCfg(t.TempDir())
	if _, err := NewReader(cfg); err == nil {
		t.Error("NewReader() expected error for directory input")
	}
}

func TestReaderAllowedDirContainment(t *testing.T) {
	tmpDir := t.TempDir()
	allowed := filepath.Join(tmpDir, "incoming")
	if err := os.MkdirAll(allowed, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	outside := filepath.Join(tmpDir, "outside.csv")
	if err := os.WriteFile(outside, []byte("Name\nJohn\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg := config.InputConfig{Path: outside, Delimiter: ",", Encoding: "utf-8", AllowedDir: allowed}
	if _, err := NewReader(cfg); err == nil {
		t.Error("NewReader() expected containment error")
	}
}

func TestReaderEmptyFile(t *testing.T) {
	path := writeCSV(t, "")
	if _, err := NewReader(inputCfg(path)); err == nil {
		t.Error("NewReader() expected error for file without header")
	}
}

func TestReaderHeaderOnly(t *testing.T) {
	path := writeCSV(t, "Name,Age\n")

	r, err := NewReader(inputCfg(path))
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	records := drainRaw(t, r.Records(context.Background()))
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
	if err := r.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestReaderContextCancel(t *testing.T) {
	path := writeCSV(t, "Name\nJohn\nJane\n")

	r, err := NewReader(inputCfg(path))
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := r.Records(ctx)
	for range ch {
	}
	// either nothing or a prefix was emitted; the stream must be closed
	if _, open := <-ch; open {
		t.Error("Records channel still open after cancel")
	}
}
