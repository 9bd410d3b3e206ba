// Package store persists reference data in Postgres (PostGIS) or SQLite so
// the service can load a generation without re-parsing the source files.
package store

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"github.com/sells-group/choropleth/internal/model"
	"github.com/sells-group/choropleth/internal/refdata"
)

// Table names shared by both backends.
const (
	tableRegions    = "region_geometry"
	tableCounties   = "county_outline"
	tableIncome     = "income"
	tablePopulation = "population"
	tableClinics    = "clinic"
)

// Store is a refdata.Source that can also be rewritten by the import command.
type Store interface {
	refdata.Source

	ReplaceGeometries(ctx context.Context, geoms []model.GeometryFeature) (int64, error)
	ReplaceCounties(ctx context.Context, counties []model.CountyOutline) (int64, error)
	ReplaceIncome(ctx context.Context, recs []model.IncomeRecord) (int64, error)
	ReplacePopulation(ctx context.Context, recs []model.PopulationRecord) (int64, error)
	ReplaceClinics(ctx context.Context, clinics []model.Clinic) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// ImportStats counts the rows written by Import.
type ImportStats struct {
	Regions    int64 `json:"regions"`
	Counties   int64 `json:"counties"`
	Income     int64 `json:"income"`
	Population int64 `json:"population"`
	Clinics    int64 `json:"clinics"`
}

// Import reads every dataset from src and replaces the contents of dst.
// Each table is replaced atomically; a failure leaves later tables untouched.
func Import(ctx context.Context, dst Store, src refdata.Source) (ImportStats, error) {
	log := zap.L().With(zap.String("component", "store.import"))

	var (
		geoms    []model.GeometryFeature
		counties []model.CountyOutline
		income   []model.IncomeRecord
		pop      []model.PopulationRecord
		clinics  []model.Clinic
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		geoms, err = src.Geometries(gctx)
		return eris.Wrap(err, "store: read geometries")
	})
	g.Go(func() (err error) {
		counties, err = src.Counties(gctx)
		return eris.Wrap(err, "store: read counties")
	})
	g.Go(func() (err error) {
		income, err = src.Income(gctx)
		return eris.Wrap(err, "store: read income")
	})
	g.Go(func() (err error) {
		pop, err = src.Population(gctx)
		return eris.Wrap(err, "store: read population")
	})
	g.Go(func() (err error) {
		clinics, err = src.Clinics(gctx)
		return eris.Wrap(err, "store: read clinics")
	})
	if err := g.Wait(); err != nil {
		return ImportStats{}, err
	}

	var st ImportStats
	var err error
	if st.Regions, err = dst.ReplaceGeometries(ctx, geoms); err != nil {
		return st, err
	}
	if st.Counties, err = dst.ReplaceCounties(ctx, counties); err != nil {
		return st, err
	}
	if st.Income, err = dst.ReplaceIncome(ctx, income); err != nil {
		return st, err
	}
	if st.Population, err = dst.ReplacePopulation(ctx, pop); err != nil {
		return st, err
	}
	if st.Clinics, err = dst.ReplaceClinics(ctx, clinics); err != nil {
		return st, err
	}

	log.Info("store: import complete",
		zap.Int64("regions", st.Regions),
		zap.Int64("counties", st.Counties),
		zap.Int64("income", st.Income),
		zap.Int64("population", st.Population),
		zap.Int64("clinics", st.Clinics),
	)
	return st, nil
}

func repPoint(lon, lat *float64) *model.Point {
	if lon == nil || lat == nil {
		return nil
	}
	return &model.Point{Lon: *lon, Lat: *lat}
}

func repCoords(p *model.Point) (lon, lat any) {
	if p == nil {
		return nil, nil
	}
	return p.Lon, p.Lat
}

// locatedClinics drops clinics without a usable coordinate.
func locatedClinics(clinics []model.Clinic) []model.Clinic {
	out := make([]model.Clinic, 0, len(clinics))
	for _, c := range clinics {
		if c.Located() {
			out = append(out, c)
		}
	}
	return out
}

// dedupIncome keeps the last record per (key, year).
func dedupIncome(recs []model.IncomeRecord) []model.IncomeRecord {
	type id struct {
		key  model.Key
		year int
	}
	pos := make(map[id]int, len(recs))
	out := make([]model.IncomeRecord, 0, len(recs))
	for _, r := range recs {
		k := id{r.Key, r.Year}
		if i, ok := pos[k]; ok {
			out[i] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}

// dedupPopulation keeps the last record per (key, year, month).
func dedupPopulation(recs []model.PopulationRecord) []model.PopulationRecord {
	type id struct {
		key         model.Key
		year, month int
	}
	pos := make(map[id]int, len(recs))
	out := make([]model.PopulationRecord, 0, len(recs))
	for _, r := range recs {
		k := id{r.Key, r.Year, r.Month}
		if i, ok := pos[k]; ok {
			out[i] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}
