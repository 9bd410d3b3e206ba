package ingest

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/choropleth/internal/fetcher"
	"github.com/sells-group/choropleth/internal/model"
)

// maxParallelFiles bounds concurrent table reads.
const maxParallelFiles = 4

// tableFile is one resolved input file.
type tableFile struct {
	FileSpec
	path string
}

func (m *Manifest) tableFiles(t TableSpec) ([]tableFile, error) {
	var out []tableFile
	seen := make(map[string]bool)
	if t.Glob != "" {
		matches, err := filepath.Glob(m.Resolve(t.Glob))
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: glob %q", t.Glob)
		}
		sort.Strings(matches)
		for _, p := range matches {
			seen[p] = true
			out = append(out, tableFile{FileSpec: FileSpec{Path: p}, path: p})
		}
	}
	for _, f := range t.Files {
		p := m.Resolve(f.Path)
		if seen[p] {
			continue
		}
		out = append(out, tableFile{FileSpec: f, path: p})
	}
	return out, nil
}

// eachRow feeds every data row of a CSV or XLSX file to fn.
func eachRow(ctx context.Context, f tableFile, charset string, fn func(h fetcher.Header, row []string)) error {
	if strings.EqualFold(filepath.Ext(f.path), ".xlsx") {
		h, rows, err := fetcher.ReadXLSX(f.path, fetcher.XLSXOptions{SheetName: f.Sheet})
		if err != nil {
			return err
		}
		for _, r := range rows {
			fn(h, r)
		}
		return nil
	}

	file, err := openFile(f.path)
	if err != nil {
		return err
	}
	defer file.Close() //nolint:errcheck

	h, rows, errs, err := fetcher.StreamCSV(ctx, file, fetcher.CSVOptions{Charset: charset, TrimSpace: true})
	if err != nil {
		return eris.Wrapf(err, "ingest: %s", f.path)
	}
	for r := range rows {
		fn(h, r)
	}
	if err := <-errs; err != nil {
		return eris.Wrapf(err, "ingest: %s", f.path)
	}
	return nil
}

// readAll reads files concurrently and concatenates the per-file results in
// file order.
func readAll[T any](ctx context.Context, files []tableFile, read func(ctx context.Context, f tableFile) ([]T, error)) ([]T, error) {
	results := make([][]T, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFiles)
	for i, f := range files {
		g.Go(func() error {
			recs, err := read(gctx, f)
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []T
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// ReadIncome reads every income file named by the manifest.
func ReadIncome(ctx context.Context, m *Manifest) ([]model.IncomeRecord, error) {
	files, err := m.tableFiles(m.Income)
	if err != nil {
		return nil, err
	}
	cols := m.Income.Columns
	return readAll(ctx, files, func(ctx context.Context, f tableFile) ([]model.IncomeRecord, error) {
		year := f.Year
		if year == 0 {
			y, err := IncomeYear(f.path)
			if err != nil {
				return nil, err
			}
			year = y
		}

		var out []model.IncomeRecord
		var colErr error
		skipped := 0
		err := eachRow(ctx, f, m.Income.Charset, func(h fetcher.Header, row []string) {
			idx, err := h.Require(cols.County, cols.District, cols.Region, cols.Median)
			if err != nil {
				colErr = err
				return
			}
			median, ok := parseNumber(fetcher.Field(row, idx[3]))
			if !ok {
				skipped++
				return
			}
			rec := model.IncomeRecord{
				Key: model.Key{
					County:   fetcher.Field(row, idx[0]),
					District: fetcher.Field(row, idx[1]),
					Region:   fetcher.Field(row, idx[2]),
				},
				Year:   year,
				Median: median,
			}
			rec.Mean, _ = parseNumber(optionalField(h, row, cols.Mean))
			rec.Total, _ = parseNumber(optionalField(h, row, cols.Total))
			out = append(out, rec)
		})
		if err != nil {
			return nil, err
		}
		if colErr != nil {
			return nil, eris.Wrapf(colErr, "ingest: %s", f.path)
		}
		logSkipped(f.path, skipped)
		return out, nil
	})
}

// ReadPopulation reads every population file named by the manifest.
func ReadPopulation(ctx context.Context, m *Manifest) ([]model.PopulationRecord, error) {
	files, err := m.tableFiles(m.Population)
	if err != nil {
		return nil, err
	}
	cols := m.Population.Columns
	return readAll(ctx, files, func(ctx context.Context, f tableFile) ([]model.PopulationRecord, error) {
		year, month := f.Year, f.Month
		if year == 0 || month == 0 {
			y, mo, err := PopulationPeriod(f.path)
			if err != nil {
				return nil, err
			}
			if year == 0 {
				year = y
			}
			if month == 0 {
				month = mo
			}
		}

		var out []model.PopulationRecord
		var colErr error
		skipped := 0
		err := eachRow(ctx, f, m.Population.Charset, func(h fetcher.Header, row []string) {
			idx, err := h.Require(cols.County, cols.District, cols.Region, cols.Population)
			if err != nil {
				colErr = err
				return
			}
			pop, ok := parseNumber(fetcher.Field(row, idx[3]))
			if !ok {
				skipped++
				return
			}
			households, _ := parseNumber(optionalField(h, row, cols.Households))
			out = append(out, model.PopulationRecord{
				Key: model.Key{
					County:   fetcher.Field(row, idx[0]),
					District: fetcher.Field(row, idx[1]),
					Region:   fetcher.Field(row, idx[2]),
				},
				Year:       year,
				Month:      month,
				Households: int(households),
				Population: int(pop),
			})
		})
		if err != nil {
			return nil, err
		}
		if colErr != nil {
			return nil, eris.Wrapf(colErr, "ingest: %s", f.path)
		}
		logSkipped(f.path, skipped)
		return out, nil
	})
}

func optionalField(h fetcher.Header, row []string, name string) string {
	if name == "" {
		return ""
	}
	i, ok := h[name]
	if !ok {
		return ""
	}
	return fetcher.Field(row, i)
}

// parseNumber accepts thousands separators; blanks and dashes are absent.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" || s == "-" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func logSkipped(path string, n int) {
	if n > 0 {
		zap.L().Debug("ingest: skipped rows without a value", zap.String("file", path), zap.Int("skipped", n))
	}
}
