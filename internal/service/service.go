// Package service answers classification, colour and history queries against
// the active reference data generation.
package service

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/choropleth/internal/classify"
	"github.com/sells-group/choropleth/internal/clinic"
	"github.com/sells-group/choropleth/internal/model"
	"github.com/sells-group/choropleth/internal/monitoring"
	"github.com/sells-group/choropleth/internal/palette"
	"github.com/sells-group/choropleth/internal/refdata"
)

// Sentinel errors. Compare with eris.Is.
var (
	ErrNotReady       = eris.New("service: reference data not loaded")
	ErrNotFound       = eris.New("service: not found")
	ErrInvalidWeights = palette.ErrInvalidWeights
)

// RegionResult is one classified region.
type RegionResult struct {
	Key               model.Key
	Polygon           *geom.MultiPolygon
	RepPoint          model.Point
	AreaKM2           float64
	MedianIncome      *float64
	IncomeYear        int
	Population        *int
	PopulationYear    int
	PopulationMonth   int
	PopulationDensity *float64
	IncomeLevel       int
	DensityLevel      int
	Color             string
}

// RegionClassification is the answer for one county and weight pair.
type RegionClassification struct {
	County        string
	Generation    string
	IncomeWeight  float64
	DensityWeight float64
	Regions       []RegionResult
	IncomeRanges  []classify.Range
	DensityRanges []classify.Range
	IncomeMethod  classify.Method
	DensityMethod classify.Method
}

// ColorMatrix is the full 9x9 legend for a weight pair. Colors[i][d] is the
// colour for income level i and density level d.
type ColorMatrix struct {
	IncomeWeight  float64                                `json:"income_weight"`
	DensityWeight float64                                `json:"density_weight"`
	Colors        [palette.Levels][palette.Levels]string `json:"colors"`
	IncomeRamp    []string                               `json:"income_ramp"`
	DensityRamp   []string                               `json:"density_ramp"`
	Neutral       string                                 `json:"neutral"`
}

// Health describes the active generation.
type Health struct {
	Ready      bool          `json:"ready"`
	Generation string        `json:"generation,omitempty"`
	LoadedAt   time.Time     `json:"loaded_at,omitempty"`
	Stats      refdata.Stats `json:"stats"`
	Cache      CacheStats    `json:"cache"`
	// Clinic markers are optional; a generation may have none.
	ClinicsLoaded bool `json:"clinic_data_loaded"`
	ClinicCount   int  `json:"clinic_count"`
}

// Service is safe for concurrent use. Queries never block on Swap.
type Service struct {
	ds      atomic.Pointer[refdata.Dataset]
	cache   *ResultCache
	metrics *monitoring.Metrics
	clock   clockwork.Clock
	log     *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the result cache.
func WithCache(c *ResultCache) Option { return func(s *Service) { s.cache = c } }

// WithMetrics records classification metrics.
func WithMetrics(m *monitoring.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock overrides the clock used for timing.
func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

// New returns a Service with no dataset; queries fail with ErrNotReady until
// Swap installs one.
func New(opts ...Option) *Service {
	s := &Service{
		clock: clockwork.NewRealClock(),
		log:   zap.L().With(zap.String("component", "service")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Swap installs ds as the active generation, purges cached results and
// returns the previous generation (nil if none).
func (s *Service) Swap(ds *refdata.Dataset) *refdata.Dataset {
	prev := s.ds.Swap(ds)
	s.cache.Purge()
	if ds != nil {
		s.recordDataset(ds)
		s.log.Info("service: dataset installed", zap.String("generation", ds.Generation))
	}
	return prev
}

func (s *Service) recordDataset(ds *refdata.Dataset) {
	if s.metrics == nil {
		return
	}
	st := ds.Stats()
	s.metrics.DatasetRecords.WithLabelValues("regions").Set(float64(st.Regions))
	s.metrics.DatasetRecords.WithLabelValues("counties").Set(float64(st.Counties))
	s.metrics.DatasetRecords.WithLabelValues("income").Set(float64(st.IncomeRecords))
	s.metrics.DatasetRecords.WithLabelValues("population").Set(float64(st.PopulationRecords))
	s.metrics.DatasetRecords.WithLabelValues("clinics").Set(float64(st.Clinics))
	s.metrics.DatasetLoadedAt.Set(float64(ds.LoadedAt.Unix()))
}

// Dataset returns the active generation or ErrNotReady.
func (s *Service) Dataset() (*refdata.Dataset, error) {
	ds := s.ds.Load()
	if ds == nil {
		return nil, ErrNotReady
	}
	return ds, nil
}

// ComputeRegionClassification joins, classifies and colours every region of
// county. Regions are reported in dataset load order.
func (s *Service) ComputeRegionClassification(ctx context.Context, county string, incomeWeight, densityWeight float64) (*RegionClassification, error) {
	if err := palette.ValidateWeights(incomeWeight, densityWeight); err != nil {
		return nil, err
	}
	ds, err := s.Dataset()
	if err != nil {
		return nil, err
	}
	name := ds.Canonicalizer().Name(county)

	key := cacheKey(ds.Generation, name, incomeWeight, densityWeight)
	if hit := s.cache.Get(key); hit != nil {
		s.cacheResult("hit")
		return hit, nil
	}
	if s.cache != nil {
		s.cacheResult("miss")
	}

	regions := ds.CountyRegions(name)
	if len(regions) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "county %q", county)
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "service: classify")
	}

	start := s.clock.Now()
	res, err := classifyRegions(ds, name, regions, incomeWeight, densityWeight)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ClassifyDuration.Observe(s.clock.Since(start).Seconds())
		s.metrics.ClassifyMethod.WithLabelValues("income", string(res.IncomeMethod)).Inc()
		s.metrics.ClassifyMethod.WithLabelValues("density", string(res.DensityMethod)).Inc()
	}

	s.cache.Put(key, res)
	return res, nil
}

func (s *Service) cacheResult(result string) {
	if s.metrics != nil {
		s.metrics.ResultCache.WithLabelValues(result).Inc()
	}
}

func classifyRegions(ds *refdata.Dataset, county string, regions []model.RegionGeometry, incomeWeight, densityWeight float64) (*RegionClassification, error) {
	records := ds.Latest().JoinOrdered(regions)

	var incomeVals, densityVals []float64
	for _, r := range records {
		if r.MedianIncome != nil {
			incomeVals = append(incomeVals, *r.MedianIncome)
		}
		if r.PopulationDensity != nil {
			densityVals = append(densityVals, *r.PopulationDensity)
		}
	}
	incomeCls := classify.Classify(incomeVals, classify.Classes)
	densityCls := classify.Classify(densityVals, classify.Classes)

	out := &RegionClassification{
		County:        county,
		Generation:    ds.Generation,
		IncomeWeight:  incomeWeight,
		DensityWeight: densityWeight,
		Regions:       make([]RegionResult, len(records)),
		IncomeRanges:  incomeCls.Ranges,
		DensityRanges: densityCls.Ranges,
		IncomeMethod:  incomeCls.Table.Method,
		DensityMethod: densityCls.Table.Method,
	}

	ii, di := 0, 0
	for i, r := range records {
		rr := RegionResult{
			Key:               r.Key,
			Polygon:           regions[i].Polygon,
			RepPoint:          regions[i].RepPoint,
			AreaKM2:           r.AreaKM2,
			MedianIncome:      r.MedianIncome,
			IncomeYear:        r.IncomeYear,
			Population:        r.Population,
			PopulationYear:    r.PopulationYear,
			PopulationMonth:   r.PopulationMonth,
			PopulationDensity: r.PopulationDensity,
		}
		// Absent values stay at level 0.
		if r.MedianIncome != nil {
			rr.IncomeLevel = incomeCls.Levels[ii]
			ii++
		}
		if r.PopulationDensity != nil {
			rr.DensityLevel = densityCls.Levels[di]
			di++
		}
		color, err := palette.Blend(rr.IncomeLevel, rr.DensityLevel, incomeWeight, densityWeight)
		if err != nil {
			return nil, err
		}
		rr.Color = color
		out.Regions[i] = rr
	}
	return out, nil
}

// ComputeBivariateColor returns the colour for one level pair.
func (s *Service) ComputeBivariateColor(incomeLevel, densityLevel int, incomeWeight, densityWeight float64) (string, error) {
	return palette.Blend(incomeLevel, densityLevel, incomeWeight, densityWeight)
}

// ComputeColorMatrix returns the full legend for a weight pair.
func (s *Service) ComputeColorMatrix(incomeWeight, densityWeight float64) (*ColorMatrix, error) {
	colors, err := palette.Matrix(incomeWeight, densityWeight)
	if err != nil {
		return nil, err
	}
	m := &ColorMatrix{
		IncomeWeight:  incomeWeight,
		DensityWeight: densityWeight,
		Colors:        colors,
		Neutral:       palette.Neutral,
	}
	for i := 0; i < palette.Levels; i++ {
		m.IncomeRamp = append(m.IncomeRamp, palette.IncomeRamp[i].Hex())
		m.DensityRamp = append(m.DensityRamp, palette.DensityRamp[i].Hex())
	}
	return m, nil
}

// Counties lists the counties of the active generation.
func (s *Service) Counties() ([]model.CountyOutline, error) {
	ds, err := s.Dataset()
	if err != nil {
		return nil, err
	}
	return ds.Counties(), nil
}

// Clinics returns the clinics of county offering any of specialties (every
// clinic when specialties is empty), one entry per name and address. An
// unknown county yields no clinics.
func (s *Service) Clinics(county string, specialties []string) ([]clinic.Entry, error) {
	ds, err := s.Dataset()
	if err != nil {
		return nil, err
	}
	return ds.Clinics().InCounty(ds.Canonicalizer().Name(county), specialties), nil
}

// ClinicSpecialties lists the standardized specialties present in the
// active generation in legend order.
func (s *Service) ClinicSpecialties() ([]clinic.Specialty, error) {
	ds, err := s.Dataset()
	if err != nil {
		return nil, err
	}
	return ds.Clinics().Specialties(), nil
}

// IncomeHistory returns every year of income for a region. With county and
// district the key is resolved with the district-drift fallback; with county
// only every district is matched; with neither the region name alone is used.
func (s *Service) IncomeHistory(region, county, district string) ([]model.IncomeRecord, error) {
	ds, err := s.Dataset()
	if err != nil {
		return nil, err
	}
	ix := ds.IncomeIndex()
	var out []model.IncomeRecord
	for _, k := range lookupKeys(ix.Resolve, ix.Match, ix.MatchRegion, ds, region, county, district) {
		out = append(out, ds.IncomeHistory(k)...)
	}
	if len(out) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "income for %q", region)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Year < out[b].Year })
	return out, nil
}

// PopulationHistory returns every snapshot for a region, matched exactly.
func (s *Service) PopulationHistory(region, county, district string) ([]model.PopulationRecord, error) {
	ds, err := s.Dataset()
	if err != nil {
		return nil, err
	}
	ix := ds.PopulationIndex()
	var out []model.PopulationRecord
	for _, k := range lookupKeys(ix.Resolve, ix.Match, ix.MatchRegion, ds, region, county, district) {
		out = append(out, ds.PopulationHistory(k)...)
	}
	if len(out) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "population for %q", region)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[b].After(out[a]) })
	return out, nil
}

func lookupKeys(
	resolve func(county, district, region string) (model.Key, bool),
	match func(county, region string) []model.Key,
	matchRegion func(region string) []model.Key,
	ds *refdata.Dataset,
	region, county, district string,
) []model.Key {
	switch {
	case county != "" && district != "":
		if k, ok := resolve(county, district, region); ok {
			return []model.Key{k}
		}
		return nil
	case county != "":
		return match(county, region)
	default:
		keys := matchRegion(region)
		if district == "" {
			return keys
		}
		d := ds.Canonicalizer().Name(district)
		filtered := keys[:0]
		for _, k := range keys {
			if k.District == d {
				filtered = append(filtered, k)
			}
		}
		return filtered
	}
}

// Health reports readiness and dataset statistics.
func (s *Service) Health() Health {
	h := Health{Cache: s.cache.Stats()}
	ds := s.ds.Load()
	if ds == nil {
		return h
	}
	h.Ready = true
	h.Generation = ds.Generation
	h.LoadedAt = ds.LoadedAt
	h.Stats = ds.Stats()
	h.ClinicCount = h.Stats.Clinics
	h.ClinicsLoaded = h.ClinicCount > 0
	return h
}
