package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/choropleth/internal/model"
	"github.com/sells-group/choropleth/internal/monitoring"
	"github.com/sells-group/choropleth/internal/refdata"
	"github.com/sells-group/choropleth/internal/service"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func square(lon, lat, size float64) *geom.MultiPolygon {
	flat := []float64{lon, lat, lon + size, lat, lon + size, lat + size, lon, lat + size, lon, lat}
	mp := geom.NewMultiPolygon(geom.XY)
	_ = mp.Push(geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}))
	return mp
}

func testService(t *testing.T) *service.Service {
	t.Helper()
	var geoms []model.GeometryFeature
	var income []model.IncomeRecord
	var pop []model.PopulationRecord
	for i := 1; i <= 9; i++ {
		k := model.Key{County: "臺北市", District: "松山區", Region: fmt.Sprintf("第%d里", i)}
		geoms = append(geoms, model.GeometryFeature{Key: k, Polygon: square(121.5+0.01*float64(i), 25.0, 0.01)})
		income = append(income, model.IncomeRecord{Key: k, Year: 2022, Median: float64(100 * i), Mean: 120, Total: 5000})
		pop = append(pop, model.PopulationRecord{Key: k, Year: 2025, Month: 7, Households: 10 * i, Population: 30 * i})
	}
	clinics := []model.Clinic{
		{Name: "安心診所", Address: "松山路1號", County: "臺北市", Specialty: "內科", Lon: 121.55, Lat: 25.05},
		{Name: "安心診所", Address: "松山路1號", County: "臺北市", Specialty: "兒科", Lon: 121.55, Lat: 25.05},
		{Name: "明亮眼科", Address: "南京東路5號", County: "臺北市", Specialty: "眼科", Lon: 121.56, Lat: 25.05},
	}
	ds, err := refdata.Build(refdata.Inputs{Geometries: geoms, Income: income, Population: pop, Clinics: clinics}, refdata.Options{Projection: "EPSG:3826"})
	require.NoError(t, err)

	svc := service.New()
	svc.Swap(ds)
	return svc
}

func do(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	u, err := url.Parse(target)
	require.NoError(t, err)
	u.RawQuery = u.Query().Encode()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	srv := NewServer(service.New(), nil, Options{})
	rec := do(t, srv, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	srv = NewServer(testService(t), nil, Options{})
	rec = do(t, srv, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["ready"])
	assert.NotEmpty(t, body["generation"])
	assert.Equal(t, true, body["clinic_data_loaded"])
	assert.Equal(t, 3.0, body["clinic_count"])
}

func TestCounties(t *testing.T) {
	srv := NewServer(testService(t), nil, Options{})
	rec := do(t, srv, "/api/counties")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry   map[string]any `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "FeatureCollection", body.Type)
	require.Len(t, body.Features, 1)
	assert.Equal(t, "臺北市", body.Features[0].Properties["name"])
	assert.InDelta(t, 25.005, body.Features[0].Properties["center_lat"], 0.01)
	assert.Equal(t, "Point", body.Features[0].Geometry["type"])
}

func TestVillages(t *testing.T) {
	srv := NewServer(testService(t), nil, Options{})
	rec := do(t, srv, "/api/villages/台北市?income_weight=0.7&density_weight=0.3")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Type     string `json:"type"`
		County   string `json:"county"`
		Features []struct {
			ID         string         `json:"id"`
			Geometry   map[string]any `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
		IncomeWeight  float64              `json:"income_weight"`
		IncomeRanges  []map[string]float64 `json:"income_ranges"`
		DensityRanges []map[string]float64 `json:"density_ranges"`
		IncomeMethod  string               `json:"income_method"`
	}
	decode(t, rec, &body)

	assert.Equal(t, "FeatureCollection", body.Type)
	assert.Equal(t, "臺北市", body.County)
	assert.Equal(t, 0.7, body.IncomeWeight)
	assert.Equal(t, "quantile", body.IncomeMethod)
	require.Len(t, body.Features, 9)
	assert.Len(t, body.IncomeRanges, 9)
	assert.Len(t, body.DensityRanges, 9)

	first := body.Features[0]
	assert.Equal(t, "MultiPolygon", first.Geometry["type"])
	assert.Equal(t, "第1里", first.Properties["name"])
	assert.Equal(t, "松山區", first.Properties["district"])
	assert.Equal(t, 100.0, first.Properties["median_income"])
	assert.Equal(t, 0.0, first.Properties["income_level"])
	assert.Equal(t, "2025/07", first.Properties["population_period"])
	assert.Regexp(t, `^#[0-9a-f]{6}$`, first.Properties["bivariate_color"])
	assert.Equal(t, 8.0, body.Features[8].Properties["income_level"])
}

func TestVillages_Errors(t *testing.T) {
	tests := []struct {
		name   string
		svc    *service.Service
		target string
		status int
	}{
		{"unknown county", testService(t), "/api/villages/高雄市", http.StatusNotFound},
		{"negative weight", testService(t), "/api/villages/臺北市?income_weight=-1", http.StatusBadRequest},
		{"malformed weight", testService(t), "/api/villages/臺北市?density_weight=abc", http.StatusBadRequest},
		{"not ready", service.New(), "/api/villages/臺北市", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(tt.svc, nil, Options{})
			rec := do(t, srv, tt.target)
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]string
			decode(t, rec, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestVillageSalary(t *testing.T) {
	srv := NewServer(testService(t), nil, Options{})
	rec := do(t, srv, "/api/village_salary/第3里?county_name=臺北市&district_name=松山區")
	require.Equal(t, http.StatusOK, rec.Code)

	var body []incomeEntry
	decode(t, rec, &body)
	require.Len(t, body, 1)
	assert.Equal(t, 2022, body[0].Year)
	assert.Equal(t, 300.0, body[0].Median)
	assert.Equal(t, "第3里", body[0].Village)

	var raw []map[string]any
	decode(t, rec, &raw)
	require.Len(t, raw, 1)
	for _, k := range []string{"年份", "縣市", "區", "村里", "綜合所得總額", "平均數", "中位數"} {
		assert.Contains(t, raw[0], k)
	}
	assert.Equal(t, 2022.0, raw[0]["年份"])
	assert.Equal(t, 300.0, raw[0]["中位數"])
	assert.Equal(t, "松山區", raw[0]["區"])

	rec = do(t, srv, "/api/village_salary/無此里")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVillagePopulation(t *testing.T) {
	srv := NewServer(testService(t), nil, Options{})
	rec := do(t, srv, "/api/village_population/第2里?county_name=臺北市")
	require.Equal(t, http.StatusOK, rec.Code)

	var body []populationEntry
	decode(t, rec, &body)
	require.Len(t, body, 1)
	assert.Equal(t, "2025/07", body[0].Period)
	assert.Equal(t, 60, body[0].Population)
	assert.Equal(t, 20, body[0].Households)

	var raw []map[string]any
	decode(t, rec, &raw)
	require.Len(t, raw, 1)
	assert.Equal(t, "2025/07", raw[0]["統計年月"])
	assert.Equal(t, 60.0, raw[0]["人口數"])
	assert.Equal(t, 20.0, raw[0]["戶數"])
	assert.Equal(t, 2025.0, raw[0]["年份"])
	assert.Equal(t, 7.0, raw[0]["月份"])
}

func TestClinics(t *testing.T) {
	srv := NewServer(testService(t), nil, Options{})

	type clinicsBody struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties struct {
				Name              string   `json:"name"`
				Address           string   `json:"address"`
				Specialties       []string `json:"specialties"`
				OriginalSpecialty string   `json:"original_specialty"`
			} `json:"properties"`
		} `json:"features"`
	}

	tests := []struct {
		name   string
		target string
		want   []string
	}{
		{"all, deduplicated", "/api/clinics/臺北市", []string{"安心診所", "明亮眼科"}},
		{"filtered", "/api/clinics/臺北市?specialties=兒科", []string{"安心診所"}},
		{"any of several", "/api/clinics/臺北市?specialties=骨科, 眼科", []string{"明亮眼科"}},
		{"no match", "/api/clinics/臺北市?specialties=骨科", nil},
		{"unknown county", "/api/clinics/花蓮縣", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.target)
			require.Equal(t, http.StatusOK, rec.Code)
			var body clinicsBody
			decode(t, rec, &body)
			assert.Equal(t, "FeatureCollection", body.Type)
			var names []string
			for _, f := range body.Features {
				names = append(names, f.Properties.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}

	rec := do(t, srv, "/api/clinics/臺北市?specialties=兒科")
	var body clinicsBody
	decode(t, rec, &body)
	require.Len(t, body.Features, 1)
	f := body.Features[0]
	assert.Equal(t, "Point", f.Geometry.Type)
	assert.Equal(t, []float64{121.55, 25.05}, f.Geometry.Coordinates)
	assert.Equal(t, "松山路1號", f.Properties.Address)
	assert.Equal(t, []string{"兒科"}, f.Properties.Specialties)
	assert.Equal(t, "兒科", f.Properties.OriginalSpecialty)

	rec = do(t, NewServer(service.New(), nil, Options{}), "/api/clinics/臺北市")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClinicSpecialties(t *testing.T) {
	srv := NewServer(testService(t), nil, Options{})
	rec := do(t, srv, "/api/clinic_specialties")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Specialties []struct {
			Name  string `json:"name"`
			Order int    `json:"order"`
			Icon  string `json:"icon"`
		} `json:"specialties"`
		TotalCount int `json:"total_count"`
	}
	decode(t, rec, &body)
	assert.Equal(t, 3, body.TotalCount)
	require.Len(t, body.Specialties, 3)
	assert.Equal(t, "兒科", body.Specialties[0].Name)
	assert.Equal(t, 3, body.Specialties[0].Order)
	assert.Equal(t, "🍼", body.Specialties[0].Icon)
	assert.Equal(t, "眼科", body.Specialties[2].Name)
}

func TestBivariateColors(t *testing.T) {
	srv := NewServer(service.New(), nil, Options{})
	rec := do(t, srv, "/api/bivariate_colors?income_weight=1&density_weight=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body colorsResponse
	decode(t, rec, &body)
	assert.Equal(t, "#fbf0ec", body.ColorMatrix[0][0])
	assert.Equal(t, 9, body.Dimensions.IncomeLevels)
	assert.Len(t, body.DensityRamp, 9)

	rec = do(t, srv, "/api/bivariate_colors?income_weight=NaN")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	srv := NewServer(service.New(), nil, Options{RateRPS: 0.001, RateBurst: 1})

	assert.Equal(t, http.StatusOK, do(t, srv, "/api/bivariate_colors").Code)
	rec := do(t, srv, "/api/bivariate_colors")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Health is never limited.
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, "/api/health").Code)
}

func TestCORS(t *testing.T) {
	srv := NewServer(service.New(), nil, Options{CORSOrigins: []string{"https://map.example.org"}})
	req := httptest.NewRequest(http.MethodGet, "/api/bivariate_colors", nil)
	req.Header.Set("Origin", "https://map.example.org")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, "https://map.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetrics(t *testing.T) {
	metrics, reg := monitoring.NewMetricsForTesting()
	srv := NewServer(testService(t), metrics, Options{Gatherer: reg})

	do(t, srv, "/api/villages/臺北市")
	do(t, srv, "/api/villages/高雄市")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("/api/villages/{county}", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("/api/villages/{county}", "GET", "404")))

	rec := do(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "choropleth_http_requests_total")
}
