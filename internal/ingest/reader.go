package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/text/encoding/charmap"

	"github.com/vojhanzlik/showads-connector/internal/config"
	"github.com/vojhanzlik/showads-connector/internal/logging"
)

// rawBuffer bounds the reader's output channel so a slow consumer
// backpressures the file read.
const rawBuffer = 100

// Reader streams raw records from a CSV file. The header row is consumed at
// construction and names the columns; every later row becomes one RawRecord.
type Reader struct {
	file   *os.File
	csv    *csv.Reader
	header []string
	log    logging.Logger

	mu  sync.Mutex
	err error
}

// NewReader opens the configured CSV file and reads its header. The path is
// resolved and, when input.allowedDir is set, checked for containment first.
func NewReader(cfg config.InputConfig) (*Reader, error) {
	path, err := ValidatePath(cfg.Path, cfg.AllowedDir)
	if err != nil {
		return nil, err
	}
	if err := ValidateFile(path); err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	var src io.Reader = file
	if cfg.Encoding == "windows-1251" {
		src = charmap.Windows1251.NewDecoder().Reader(file)
	}

	cr := csv.NewReader(src)
	cr.Comma = []rune(cfg.Delimiter)[0]
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	return &Reader{
		file:   file,
		csv:    cr,
		header: header,
		log:    *logging.Named("reader"),
	}, nil
}

// Fields returns the trimmed header names in column order.
func (r *Reader) Fields() []string {
	return r.header
}

// Records streams the data rows. Unparsable rows are emitted with Err set
// and reading continues; an I/O failure stops the stream and is available
// from Err after the channel closes. Wholly empty rows are skipped but still
// consume a row number.
func (r *Reader) Records(ctx context.Context) <-chan RawRecord {
	out := make(chan RawRecord, rawBuffer)

	go func() {
		defer close(out)
		defer r.file.Close()

		var row int64
		for {
			select {
			case <-ctx.Done():
				r.setErr(ctx.Err())
				return
			default:
			}

			cells, err := r.csv.Read()
			if err == io.EOF {
				return
			}

			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				row++
				r.log.Warn().Int64("row", row).Err(err).Msg("unparsable row")
				select {
				case out <- RawRecord{Row: row, Cells: cells, Err: err}:
				case <-ctx.Done():
					r.setErr(ctx.Err())
					return
				}
				continue
			}
			if err != nil {
				r.log.Error().Err(err).Msg("csv read failed, stopping stream")
				r.setErr(fmt.Errorf("csv read error: %w", err))
				return
			}

			row++
			if isEmptyRow(cells) {
				continue
			}

			select {
			case out <- RawRecord{Row: row, Cells: cells}:
			case <-ctx.Done():
				r.setErr(ctx.Err())
				return
			}
		}
	}()

	return out
}

// Err reports the error that truncated the stream, if any. Valid only after
// the Records channel has closed.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Reader) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

func isEmptyRow(cells []string) bool {
	for _, cell := range cells {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
