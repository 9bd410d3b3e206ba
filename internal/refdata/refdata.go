// Package refdata loads the reference datasets into an immutable, indexed
// snapshot that queries read without locking.
package refdata

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/choropleth/internal/adminkey"
	"github.com/sells-group/choropleth/internal/area"
	"github.com/sells-group/choropleth/internal/clinic"
	"github.com/sells-group/choropleth/internal/join"
	"github.com/sells-group/choropleth/internal/model"
)

// Source provides the raw reference data. Both the manifest file reader and
// the database stores implement it.
type Source interface {
	Geometries(ctx context.Context) ([]model.GeometryFeature, error)
	Counties(ctx context.Context) ([]model.CountyOutline, error)
	Income(ctx context.Context) ([]model.IncomeRecord, error)
	Population(ctx context.Context) ([]model.PopulationRecord, error)
	Clinics(ctx context.Context) ([]model.Clinic, error)
}

// Options controls how a Dataset is derived from its sources.
type Options struct {
	Projection string
	Fallback   *area.AlbersParams
	Aliases    map[string]string
	ExactOnly  bool
	Clock      clockwork.Clock
}

// Dataset is one immutable generation of reference data.
type Dataset struct {
	Generation string
	LoadedAt   time.Time

	regions    []model.RegionGeometry
	byKey      map[model.Key]int
	byCounty   map[string][]int
	counties   []model.CountyOutline
	income     map[model.Key][]model.IncomeRecord
	population map[model.Key][]model.PopulationRecord
	latest     *join.Latest
	canon      *adminkey.Canonicalizer
	incomeIx   *adminkey.Index
	popIx      *adminkey.Index
	clinics    *clinic.Set
	stats      Stats
}

// Stats summarizes a Dataset.
type Stats struct {
	Regions           int `json:"regions"`
	Counties          int `json:"counties"`
	IncomeRecords     int `json:"income_records"`
	PopulationRecords int `json:"population_records"`
	DuplicateRegions  int `json:"duplicate_regions"`
	DegenerateRegions int `json:"degenerate_regions"`
	UnmatchedIncome   int `json:"unmatched_income"`
	UnmatchedPop      int `json:"unmatched_population"`
	Clinics           int `json:"clinics"`
}

// Inputs are the raw records a Dataset is derived from.
type Inputs struct {
	Geometries []model.GeometryFeature
	Counties   []model.CountyOutline
	Income     []model.IncomeRecord
	Population []model.PopulationRecord
	Clinics    []model.Clinic
}

// Load reads every dataset from src concurrently and builds a Dataset. Any
// read error aborts the load.
func Load(ctx context.Context, src Source, opts Options) (*Dataset, error) {
	var in Inputs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		in.Geometries, err = src.Geometries(gctx)
		return eris.Wrap(err, "refdata: load geometries")
	})
	g.Go(func() (err error) {
		in.Counties, err = src.Counties(gctx)
		return eris.Wrap(err, "refdata: load counties")
	})
	g.Go(func() (err error) {
		in.Income, err = src.Income(gctx)
		return eris.Wrap(err, "refdata: load income")
	})
	g.Go(func() (err error) {
		in.Population, err = src.Population(gctx)
		return eris.Wrap(err, "refdata: load population")
	})
	g.Go(func() (err error) {
		in.Clinics, err = src.Clinics(gctx)
		return eris.Wrap(err, "refdata: load clinics")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Build(in, opts)
}

// Build derives a Dataset from already-read records. It takes ownership of
// the slices and canonicalizes their keys in place.
func Build(in Inputs, opts Options) (*Dataset, error) {
	geoms, income, pop := in.Geometries, in.Income, in.Population
	if len(geoms) == 0 {
		return nil, eris.New("refdata: no region geometry")
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	aliases := opts.Aliases
	if aliases == nil {
		aliases = adminkey.DefaultAliases
	}
	canon := adminkey.NewCanonicalizer(aliases)
	log := zap.L().With(zap.String("component", "refdata"))

	ds := &Dataset{
		Generation: uuid.NewString(),
		LoadedAt:   clock.Now(),
		byKey:      make(map[model.Key]int, len(geoms)),
		byCounty:   make(map[string][]int),
		income:     make(map[model.Key][]model.IncomeRecord),
		population: make(map[model.Key][]model.PopulationRecord),
		canon:      canon,
	}

	calc, err := area.NewCalculator(opts.Projection, extent(geoms), opts.Fallback)
	if err != nil {
		return nil, err
	}
	for _, f := range geoms {
		key := canon.Key(f.Key.County, f.Key.District, f.Key.Region)
		if _, dup := ds.byKey[key]; dup {
			ds.stats.DuplicateRegions++
			continue
		}
		rg := model.RegionGeometry{Key: key, Polygon: f.Polygon, AreaKM2: calc.AreaKM2(f.Polygon)}
		pt, ok := area.RepresentativePoint(f.Polygon, f.RepPoint)
		rg.RepPoint = pt
		if !ok || rg.AreaKM2 == 0 {
			ds.stats.DegenerateRegions++
		}
		ds.byKey[key] = len(ds.regions)
		ds.byCounty[key.County] = append(ds.byCounty[key.County], len(ds.regions))
		ds.regions = append(ds.regions, rg)
	}
	if ds.stats.DuplicateRegions > 0 {
		log.Warn("refdata: duplicate region keys ignored", zap.Int("count", ds.stats.DuplicateRegions))
	}

	incomeKeys := make([]model.Key, 0, len(income))
	for i := range income {
		income[i].Key = canon.Key(income[i].Key.County, income[i].Key.District, income[i].Key.Region)
		k := income[i].Key
		if _, ok := ds.income[k]; !ok {
			incomeKeys = append(incomeKeys, k)
			if _, hasGeom := ds.byKey[k]; !hasGeom {
				ds.stats.UnmatchedIncome++
			}
		}
		ds.income[k] = append(ds.income[k], income[i])
	}
	popKeys := make([]model.Key, 0, len(pop))
	for i := range pop {
		pop[i].Key = canon.Key(pop[i].Key.County, pop[i].Key.District, pop[i].Key.Region)
		k := pop[i].Key
		if _, ok := ds.population[k]; !ok {
			popKeys = append(popKeys, k)
			if _, hasGeom := ds.byKey[k]; !hasGeom {
				ds.stats.UnmatchedPop++
			}
		}
		ds.population[k] = append(ds.population[k], pop[i])
	}
	for _, recs := range ds.income {
		sort.SliceStable(recs, func(a, b int) bool { return recs[a].Year < recs[b].Year })
	}
	for _, recs := range ds.population {
		sort.SliceStable(recs, func(a, b int) bool { return recs[b].After(recs[a]) })
	}

	ds.latest = join.NewLatest(income, pop)
	ds.incomeIx = adminkey.NewIndex(canon, incomeKeys, adminkey.WithExactOnly(opts.ExactOnly))
	ds.popIx = adminkey.NewIndex(canon, popKeys, adminkey.WithExactOnly(true))
	ds.counties = ds.buildCounties(in.Counties)
	for i := range in.Clinics {
		in.Clinics[i].County = canon.Name(in.Clinics[i].County)
	}
	ds.clinics = clinic.NewSet(in.Clinics)

	ds.stats.Regions = len(ds.regions)
	ds.stats.Counties = len(ds.counties)
	ds.stats.IncomeRecords = len(income)
	ds.stats.PopulationRecords = len(pop)
	ds.stats.Clinics = ds.clinics.Len()

	log.Info("refdata: dataset built",
		zap.String("generation", ds.Generation),
		zap.Int("regions", ds.stats.Regions),
		zap.Int("counties", ds.stats.Counties),
		zap.Int("income_records", ds.stats.IncomeRecords),
		zap.Int("population_records", ds.stats.PopulationRecords),
		zap.Int("unmatched_income", ds.stats.UnmatchedIncome),
		zap.Int("unmatched_population", ds.stats.UnmatchedPop),
		zap.Int("degenerate_regions", ds.stats.DegenerateRegions),
		zap.Int("clinics", ds.stats.Clinics),
	)
	return ds, nil
}

// buildCounties canonicalizes outline names and places their representative
// points. Without outlines, counties come from the region geometry in load
// order and use the point of their largest region.
func (ds *Dataset) buildCounties(outlines []model.CountyOutline) []model.CountyOutline {
	if len(outlines) > 0 {
		out := make([]model.CountyOutline, 0, len(outlines))
		seen := make(map[string]bool, len(outlines))
		for _, c := range outlines {
			name := ds.canon.Name(c.Name)
			if seen[name] {
				continue
			}
			seen[name] = true
			var hint *model.Point
			if c.RepPoint != (model.Point{}) {
				hint = &c.RepPoint
			}
			pt, ok := area.RepresentativePoint(c.Polygon, hint)
			if !ok && hint != nil {
				pt = *hint
			}
			out = append(out, model.CountyOutline{Name: name, Polygon: c.Polygon, RepPoint: pt})
		}
		return out
	}

	var out []model.CountyOutline
	seen := make(map[string]bool)
	for _, rg := range ds.regions {
		name := rg.Key.County
		if seen[name] {
			continue
		}
		seen[name] = true
		best := rg
		for _, i := range ds.byCounty[name] {
			if ds.regions[i].AreaKM2 > best.AreaKM2 {
				best = ds.regions[i]
			}
		}
		out = append(out, model.CountyOutline{Name: name, RepPoint: best.RepPoint})
	}
	return out
}

func extent(geoms []model.GeometryFeature) *geom.Bounds {
	b := geom.NewBounds(geom.XY)
	for _, f := range geoms {
		if f.Polygon != nil && !f.Polygon.Empty() {
			b.Extend(f.Polygon)
		}
	}
	if b.IsEmpty() {
		return nil
	}
	return b
}

// Stats returns the dataset summary.
func (ds *Dataset) Stats() Stats { return ds.stats }

// Canonicalizer returns the name normalizer used for this dataset.
func (ds *Dataset) Canonicalizer() *adminkey.Canonicalizer { return ds.canon }

// Regions returns every region in load order. The slice must not be modified.
func (ds *Dataset) Regions() []model.RegionGeometry { return ds.regions }

// Region returns the region for a canonical key.
func (ds *Dataset) Region(k model.Key) (model.RegionGeometry, bool) {
	i, ok := ds.byKey[k]
	if !ok {
		return model.RegionGeometry{}, false
	}
	return ds.regions[i], true
}

// CountyRegions returns the regions of county in load order. The name is
// canonicalized first.
func (ds *Dataset) CountyRegions(county string) []model.RegionGeometry {
	idx := ds.byCounty[ds.canon.Name(county)]
	out := make([]model.RegionGeometry, len(idx))
	for i, j := range idx {
		out[i] = ds.regions[j]
	}
	return out
}

// Counties returns the county list.
func (ds *Dataset) Counties() []model.CountyOutline { return ds.counties }

// Latest returns the per-key latest income and population records.
func (ds *Dataset) Latest() *join.Latest { return ds.latest }

// IncomeIndex resolves keys against the income table.
func (ds *Dataset) IncomeIndex() *adminkey.Index { return ds.incomeIx }

// PopulationIndex resolves keys against the population table, exactly.
func (ds *Dataset) PopulationIndex() *adminkey.Index { return ds.popIx }

// IncomeHistory returns the income records for k sorted by year.
func (ds *Dataset) IncomeHistory(k model.Key) []model.IncomeRecord { return ds.income[k] }

// PopulationHistory returns the population records for k sorted by period.
func (ds *Dataset) PopulationHistory(k model.Key) []model.PopulationRecord {
	return ds.population[k]
}

// Clinics returns the clinic markers of this generation. It is empty when no
// clinic registry was loaded.
func (ds *Dataset) Clinics() *clinic.Set { return ds.clinics }
