package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures StreamCSV.
type CSVOptions struct {
	Delimiter rune   // default ','
	Charset   string // default utf-8
	Comment   rune
	TrimSpace bool
}

// Header maps column names to their index in a row.
type Header map[string]int

// NewHeader indexes the given header row. Names are trimmed.
func NewHeader(row []string) Header {
	h := make(Header, len(row))
	for i, name := range row {
		name = strings.TrimSpace(name)
		if _, dup := h[name]; !dup {
			h[name] = i
		}
	}
	return h
}

// Require returns the indexes of the named columns or an error naming the
// first one that is missing.
func (h Header) Require(names ...string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		j, ok := h[n]
		if !ok {
			return nil, eris.Errorf("csv: missing column %q", n)
		}
		idx[i] = j
	}
	return idx, nil
}

// Field returns row[i] or "" when the row is short.
func Field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// StreamCSV decodes r and sends every row after the header on the returned
// channel. The header is parsed synchronously so column errors surface before
// any row is read. Both channels are closed when the stream ends.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (Header, <-chan []string, <-chan error, error) {
	decoded, err := DecodeReader(r, opts.Charset)
	if err != nil {
		return nil, nil, nil, err
	}

	reader := csv.NewReader(decoded)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.Comment = opts.Comment
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	first, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil, eris.New("csv: empty input")
	}
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "csv: read header")
	}
	header := NewHeader(first)

	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			if opts.TrimSpace {
				for i := range record {
					record[i] = strings.TrimSpace(record[i])
				}
			}
			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return header, rowCh, errCh, nil
}
