package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/choropleth/internal/model"
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

var (
	keyA = model.Key{County: "臺北市", District: "松山區", Region: "莊敬里"}
	keyB = model.Key{County: "臺北市", District: "信義區", Region: "西村里"}
)

type fakeSource struct {
	geoms    []model.GeometryFeature
	counties []model.CountyOutline
	income   []model.IncomeRecord
	pop      []model.PopulationRecord
	clinics  []model.Clinic
	err      error
}

func (f *fakeSource) Geometries(context.Context) ([]model.GeometryFeature, error) {
	return f.geoms, f.err
}
func (f *fakeSource) Counties(context.Context) ([]model.CountyOutline, error) { return f.counties, nil }
func (f *fakeSource) Income(context.Context) ([]model.IncomeRecord, error)    { return f.income, nil }
func (f *fakeSource) Population(context.Context) ([]model.PopulationRecord, error) {
	return f.pop, nil
}

func (f *fakeSource) Clinics(context.Context) ([]model.Clinic, error) { return f.clinics, nil }

func testSource() *fakeSource {
	return &fakeSource{
		geoms: []model.GeometryFeature{
			{Key: keyB, Polygon: square(121.56, 25.03, 0.01), RepPoint: &model.Point{Lon: 121.565, Lat: 25.035}},
			{Key: keyA, Polygon: square(121.55, 25.05, 0.01)},
		},
		counties: []model.CountyOutline{
			{Name: "臺北市", Polygon: square(121.4, 24.9, 0.3), RepPoint: model.Point{Lon: 121.55, Lat: 25.05}},
		},
		income: []model.IncomeRecord{
			{Key: keyA, Year: 2021, Median: 700, Mean: 900, Total: 1e6},
			{Key: keyA, Year: 2022, Median: 750, Mean: 950, Total: 1.1e6},
			{Key: keyA, Year: 2022, Median: 760, Mean: 960, Total: 1.2e6},
		},
		pop: []model.PopulationRecord{
			{Key: keyA, Year: 2025, Month: 6, Households: 1200, Population: 3100},
			{Key: keyB, Year: 2025, Month: 6, Households: 800, Population: 2000},
		},
		clinics: []model.Clinic{
			{Name: "安心診所", Address: "松山路1號", County: "臺北市", Specialty: "內科,兒科", Lon: 121.55, Lat: 25.05},
			{Name: "無座標診所", Address: "某路", County: "臺北市", Specialty: "內科"},
		},
	}
}

func TestDedupIncome(t *testing.T) {
	out := dedupIncome(testSource().income)
	require.Len(t, out, 2)
	assert.Equal(t, 2021, out[0].Year)
	assert.Equal(t, 760.0, out[1].Median)
}

func TestDedupPopulation(t *testing.T) {
	recs := []model.PopulationRecord{
		{Key: keyA, Year: 2025, Month: 6, Population: 1},
		{Key: keyA, Year: 2025, Month: 7, Population: 2},
		{Key: keyA, Year: 2025, Month: 6, Population: 3},
	}
	out := dedupPopulation(recs)
	require.Len(t, out, 2)
	assert.Equal(t, 3, out[0].Population)
}

func TestGeometryCodecs(t *testing.T) {
	mp := square(121, 25, 0.5)

	raw, err := encodeEWKB(mp)
	require.NoError(t, err)
	got, err := decodeEWKB(raw)
	require.NoError(t, err)
	assert.Equal(t, mp.FlatCoords(), got.FlatCoords())
	assert.Equal(t, SRID, got.SRID())

	raw, err = encodeWKB(mp)
	require.NoError(t, err)
	got, err = decodeWKB(raw)
	require.NoError(t, err)
	assert.Equal(t, mp.Endss(), got.Endss())

	raw, err = encodeEWKB(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)
	got, err = decodeWKB(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = decodeWKB([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestAsMultiPolygon(t *testing.T) {
	poly := geom.NewPolygonFlat(geom.XY, []float64{0, 0, 1, 0, 1, 1, 0, 0}, []int{8})
	mp, err := asMultiPolygon(poly)
	require.NoError(t, err)
	assert.Equal(t, 1, mp.NumPolygons())

	_, err = asMultiPolygon(geom.NewPointFlat(geom.XY, []float64{1, 2}))
	assert.Error(t, err)
}

func TestImport_SourceError(t *testing.T) {
	src := testSource()
	src.err = errors.New("missing file")
	st, err := openTestSQLite(t)
	require.NoError(t, err)

	_, err = Import(context.Background(), st, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read geometries")
}
