package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/choropleth/internal/classify"
	"github.com/sells-group/choropleth/internal/clinic"
	"github.com/sells-group/choropleth/internal/model"
	"github.com/sells-group/choropleth/internal/palette"
	"github.com/sells-group/choropleth/internal/service"
)

const defaultWeight = 0.5

type healthResponse struct {
	Status string `json:"status"`
	service.Health
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.svc.Health()
	if !h.Ready {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "loading", Health: h})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Health: h})
}

func (s *Server) handleCounties(w http.ResponseWriter, _ *http.Request) {
	counties, err := s.svc.Counties()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(counties))}
	for _, c := range counties {
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry: countyGeometry(c),
			Properties: map[string]any{
				"name":       c.Name,
				"center_lat": c.RepPoint.Lat,
				"center_lon": c.RepPoint.Lon,
			},
		})
	}
	writeJSON(w, http.StatusOK, fc)
}

// countyGeometry falls back to the representative point for counties derived
// from village geometry only.
func countyGeometry(c model.CountyOutline) geom.T {
	if c.Polygon != nil {
		return c.Polygon
	}
	return geom.NewPointFlat(geom.XY, []float64{c.RepPoint.Lon, c.RepPoint.Lat})
}

type villagesResponse struct {
	Type          string             `json:"type"`
	Features      []*geojson.Feature `json:"features"`
	County        string             `json:"county"`
	Generation    string             `json:"generation"`
	IncomeWeight  float64            `json:"income_weight"`
	DensityWeight float64            `json:"density_weight"`
	IncomeRanges  []classify.Range   `json:"income_ranges"`
	DensityRanges []classify.Range   `json:"density_ranges"`
	IncomeMethod  classify.Method    `json:"income_method"`
	DensityMethod classify.Method    `json:"density_method"`
}

func (s *Server) handleVillages(w http.ResponseWriter, r *http.Request) {
	wi, wd, err := parseWeights(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	county := chi.URLParam(r, "county")

	res, err := s.svc.ComputeRegionClassification(r.Context(), county, wi, wd)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	out := villagesResponse{
		Type:          "FeatureCollection",
		Features:      make([]*geojson.Feature, 0, len(res.Regions)),
		County:        res.County,
		Generation:    res.Generation,
		IncomeWeight:  res.IncomeWeight,
		DensityWeight: res.DensityWeight,
		IncomeRanges:  res.IncomeRanges,
		DensityRanges: res.DensityRanges,
		IncomeMethod:  res.IncomeMethod,
		DensityMethod: res.DensityMethod,
	}
	for _, rr := range res.Regions {
		out.Features = append(out.Features, villageFeature(rr))
	}
	writeJSON(w, http.StatusOK, out)
}

func villageFeature(rr service.RegionResult) *geojson.Feature {
	props := map[string]any{
		"name":               rr.Key.Region,
		"county":             rr.Key.County,
		"district":           rr.Key.District,
		"center_lat":         rr.RepPoint.Lat,
		"center_lon":         rr.RepPoint.Lon,
		"income_level":       rr.IncomeLevel,
		"density_level":      rr.DensityLevel,
		"median_income":      rr.MedianIncome,
		"population":         rr.Population,
		"population_density": rr.PopulationDensity,
		"area_km2":           rr.AreaKM2,
		"bivariate_color":    rr.Color,
	}
	if rr.MedianIncome != nil {
		props["income_year"] = rr.IncomeYear
	}
	if rr.Population != nil {
		props["population_period"] = period(rr.PopulationYear, rr.PopulationMonth)
	}
	return &geojson.Feature{ID: rr.Key.String(), Geometry: rr.Polygon, Properties: props}
}

// History rows keep the column names of the source tables; the map
// popups key on them.
type incomeEntry struct {
	Year     int     `json:"年份"`
	County   string  `json:"縣市"`
	District string  `json:"區"`
	Village  string  `json:"村里"`
	Total    float64 `json:"綜合所得總額"`
	Mean     float64 `json:"平均數"`
	Median   float64 `json:"中位數"`
}

func (s *Server) handleVillageSalary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hist, err := s.svc.IncomeHistory(chi.URLParam(r, "village"), q.Get("county_name"), q.Get("district_name"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]incomeEntry, 0, len(hist))
	for _, rec := range hist {
		out = append(out, incomeEntry{
			Year:     rec.Year,
			County:   rec.Key.County,
			District: rec.Key.District,
			Village:  rec.Key.Region,
			Total:    rec.Total,
			Mean:     rec.Mean,
			Median:   rec.Median,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type populationEntry struct {
	Year       int    `json:"年份"`
	Month      int    `json:"月份"`
	Period     string `json:"統計年月"`
	County     string `json:"縣市"`
	District   string `json:"區"`
	Village    string `json:"村里"`
	Households int    `json:"戶數"`
	Population int    `json:"人口數"`
}

func (s *Server) handleVillagePopulation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hist, err := s.svc.PopulationHistory(chi.URLParam(r, "village"), q.Get("county_name"), q.Get("district_name"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]populationEntry, 0, len(hist))
	for _, rec := range hist {
		out = append(out, populationEntry{
			Year:       rec.Year,
			Month:      rec.Month,
			Period:     period(rec.Year, rec.Month),
			County:     rec.Key.County,
			District:   rec.Key.District,
			Village:    rec.Key.Region,
			Households: rec.Households,
			Population: rec.Population,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClinics(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.Clinics(chi.URLParam(r, "county"), clinic.ParseFilter(r.URL.Query().Get("specialties")))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(entries))}
	for _, e := range entries {
		specialties := e.Specialties
		if specialties == nil {
			specialties = []string{}
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry: geom.NewPointFlat(geom.XY, []float64{e.Lon, e.Lat}),
			Properties: map[string]any{
				"name":               e.Name,
				"address":            e.Address,
				"specialties":        specialties,
				"original_specialty": e.Specialty,
			},
		})
	}
	writeJSON(w, http.StatusOK, fc)
}

type specialtiesResponse struct {
	Specialties []clinic.Specialty `json:"specialties"`
	TotalCount  int                `json:"total_count"`
}

func (s *Server) handleClinicSpecialties(w http.ResponseWriter, _ *http.Request) {
	specs, err := s.svc.ClinicSpecialties()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if specs == nil {
		specs = []clinic.Specialty{}
	}
	writeJSON(w, http.StatusOK, specialtiesResponse{Specialties: specs, TotalCount: len(specs)})
}

type colorsResponse struct {
	ColorMatrix   [palette.Levels][palette.Levels]string `json:"color_matrix"`
	IncomeWeight  float64                                `json:"income_weight"`
	DensityWeight float64                                `json:"density_weight"`
	Dimensions    struct {
		IncomeLevels  int `json:"income_levels"`
		DensityLevels int `json:"density_levels"`
	} `json:"dimensions"`
	IncomeRamp  []string `json:"income_ramp"`
	DensityRamp []string `json:"density_ramp"`
	Neutral     string   `json:"neutral"`
}

func (s *Server) handleBivariateColors(w http.ResponseWriter, r *http.Request) {
	wi, wd, err := parseWeights(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := s.svc.ComputeColorMatrix(wi, wd)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := colorsResponse{
		ColorMatrix:   m.Colors,
		IncomeWeight:  m.IncomeWeight,
		DensityWeight: m.DensityWeight,
		IncomeRamp:    m.IncomeRamp,
		DensityRamp:   m.DensityRamp,
		Neutral:       m.Neutral,
	}
	out.Dimensions.IncomeLevels = palette.Levels
	out.Dimensions.DensityLevels = palette.Levels
	writeJSON(w, http.StatusOK, out)
}

func parseWeights(r *http.Request) (float64, float64, error) {
	q := r.URL.Query()
	wi, err := parseWeight(q.Get("income_weight"))
	if err != nil {
		return 0, 0, eris.Wrap(err, "income_weight")
	}
	wd, err := parseWeight(q.Get("density_weight"))
	if err != nil {
		return 0, 0, eris.Wrap(err, "density_weight")
	}
	return wi, wd, nil
}

func parseWeight(raw string) (float64, error) {
	if raw == "" {
		return defaultWeight, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, eris.Errorf("not a number: %q", raw)
	}
	return v, nil
}

func period(year, month int) string {
	return fmt.Sprintf("%d/%02d", year, month)
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("api: request failed", zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case eris.Is(err, service.ErrNotReady):
		return http.StatusServiceUnavailable
	case eris.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case eris.Is(err, service.ErrInvalidWeights):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
