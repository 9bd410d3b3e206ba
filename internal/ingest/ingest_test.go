package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/choropleth/internal/area"
	"github.com/sells-group/choropleth/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

const manifestYAML = `
geometry:
  path: border/villages.geojson
counties:
  path: border/counties.geojson
income:
  glob: salary/*_standardized.csv
population:
  glob: population/opendata*_standardized.csv
`

func TestParseManifest_Defaults(t *testing.T) {
	m, err := ParseManifest([]byte(manifestYAML))
	require.NoError(t, err)

	assert.Equal(t, "geojson", m.Geometry.Format)
	assert.Equal(t, DefaultGeometryFields, m.Geometry.Fields)
	require.NotNil(t, m.Counties)
	assert.Equal(t, "COUNTYNAME", m.Counties.NameField)
	assert.Equal(t, "中位數", m.Income.Columns.Median)
	assert.Equal(t, "人口數", m.Population.Columns.Population)
	assert.Nil(t, m.Clinics)

	m, err = ParseManifest([]byte(manifestYAML + "clinics:\n  path: clinics/site.csv\n  columns: {lon: LON}\n"))
	require.NoError(t, err)
	require.NotNil(t, m.Clinics)
	assert.Equal(t, "LON", m.Clinics.Columns.Lon)
	assert.Equal(t, "緯度", m.Clinics.Columns.Lat)
	assert.Equal(t, "縣市區名", m.Clinics.Columns.Area)
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no geometry path", "geometry: {}\nincome: {glob: a}\npopulation: {glob: b}\n"},
		{"bad format", "geometry: {path: a, format: kml}\nincome: {glob: a}\npopulation: {glob: b}\n"},
		{"no income", "geometry: {path: a}\npopulation: {glob: b}\n"},
		{"bad month", "geometry: {path: a}\nincome: {glob: a}\npopulation: {files: [{path: p.csv, month: 13}]}\n"},
		{"not yaml", "geometry: ["},
		{"clinics without path", "geometry: {path: a}\nincome: {glob: a}\npopulation: {glob: b}\nclinics: {charset: big5}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadManifest_ResolvesRelativeToFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "conf/datasets.yaml", manifestYAML)

	m, err := LoadManifest(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "conf", "border", "villages.geojson"), m.Resolve(m.Geometry.Path))
	assert.Equal(t, "/abs/x.csv", m.Resolve("/abs/x.csv"))
}

func TestPeriods(t *testing.T) {
	y, err := IncomeYear("/data/salary/2022_standardized.csv")
	require.NoError(t, err)
	assert.Equal(t, 2022, y)
	_, err = IncomeYear("salary.csv")
	assert.Error(t, err)

	y, mo, err := PopulationPeriod("population/opendata11206_standardized.csv")
	require.NoError(t, err)
	assert.Equal(t, 2023, y)
	assert.Equal(t, 6, mo)

	_, _, err = PopulationPeriod("opendata11213.csv")
	assert.Error(t, err)
	_, _, err = PopulationPeriod("population.csv")
	assert.Error(t, err)
}

const villagesGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature",
     "properties": {"COUNTYNAME": "臺北市", "TOWNNAME": "松山區", "VILLNAME": "莊敬里", "LON": 121.55, "LAT": 25.05},
     "geometry": {"type": "Polygon", "coordinates": [[[121.5,25.0],[121.6,25.0],[121.6,25.1],[121.5,25.1],[121.5,25.0]]]}},
    {"type": "Feature",
     "properties": {"COUNTYNAME": "臺北市", "TOWNNAME": "松山區", "VILLNAME": "東榮里"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[121.6,25.0,5],[121.7,25.0,5],[121.7,25.1,5],[121.6,25.0,5]]]]}},
    {"type": "Feature", "properties": {"VILLNAME": "無界里"}, "geometry": null},
    {"type": "Feature", "properties": {"COUNTYNAME": "臺北市"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}}
  ]
}`

func TestReadGeoJSONRegions(t *testing.T) {
	p := writeFile(t, t.TempDir(), "v.geojson", villagesGeoJSON)
	fields := DefaultGeometryFields
	fields.Lon, fields.Lat = "LON", "LAT"

	feats, err := ReadGeoJSONRegions(context.Background(), p, fields)
	require.NoError(t, err)
	require.Len(t, feats, 2)

	assert.Equal(t, model.Key{County: "臺北市", District: "松山區", Region: "莊敬里"}, feats[0].Key)
	require.NotNil(t, feats[0].RepPoint)
	assert.Equal(t, model.Point{Lon: 121.55, Lat: 25.05}, *feats[0].RepPoint)
	assert.Equal(t, 1, feats[0].Polygon.NumPolygons())

	assert.Nil(t, feats[1].RepPoint)
	assert.Equal(t, geom.XY, feats[1].Polygon.Layout())
}

func TestReadGeoJSONCounties(t *testing.T) {
	p := writeFile(t, t.TempDir(), "c.geojson", villagesGeoJSON)
	counties, err := ReadGeoJSONCounties(context.Background(), p, "COUNTYNAME")
	require.NoError(t, err)
	assert.Len(t, counties, 3)
	assert.Equal(t, "臺北市", counties[0].Name)
}

func TestRingsToMultiPolygon(t *testing.T) {
	cwShell := []float64{0, 0, 0, 10, 10, 10, 10, 0, 0, 0}
	ccwHole := []float64{2, 2, 4, 2, 4, 4, 2, 4, 2, 2}
	cwShell2 := []float64{20, 0, 20, 5, 25, 5, 25, 0, 20, 0}

	mp := ringsToMultiPolygon([][]float64{cwShell, cwShell2, ccwHole})
	require.Equal(t, 2, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings())
	assert.Equal(t, 1, mp.Polygon(1).NumLinearRings())

	// Only counter-clockwise rings: each becomes a shell.
	mp = ringsToMultiPolygon([][]float64{ccwHole})
	assert.Equal(t, 1, mp.NumPolygons())

	mp = ringsToMultiPolygon([][]float64{{0, 0, 1, 1}})
	assert.Equal(t, 0, mp.NumPolygons())
}

// fixDBFName renames the attribute file go-shp v0.1.1 writes as "<name>dbf".
func fixDBFName(t *testing.T, shpPath string) {
	t.Helper()
	base := strings.TrimSuffix(shpPath, ".shp")
	if _, err := os.Stat(base + "dbf"); err == nil {
		require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	}
	require.FileExists(t, base+".dbf")
}

func rectangle(minX, minY, maxX, maxY float64) *geom.MultiPolygon {
	return geom.NewMultiPolygonFlat(geom.XY,
		[]float64{minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY},
		[][]int{{10}})
}

func TestRingsToMultiPolygon_ClockwiseShellHasArea(t *testing.T) {
	cw := []float64{121, 24, 121, 24.1, 121.1, 24.1, 121.1, 24, 121, 24}
	mp := ringsToMultiPolygon([][]float64{cw})
	require.Equal(t, 1, mp.NumPolygons())

	calc, err := area.NewCalculator("EPSG:3826", nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, calc.AreaKM2(rectangle(121, 24, 121.1, 24.1)), calc.AreaKM2(mp), 1e-9)
}

func TestReadShapefileRegions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "villages.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("COUNTYNAME", 40),
		shp.StringField("TOWNNAME", 40),
		shp.StringField("VILLNAME", 40),
	}))

	shell := []shp.Point{{X: 121, Y: 24}, {X: 121, Y: 24.1}, {X: 121.1, Y: 24.1}, {X: 121.1, Y: 24}, {X: 121, Y: 24}}
	hole := []shp.Point{{X: 121.02, Y: 24.02}, {X: 121.04, Y: 24.02}, {X: 121.04, Y: 24.04}, {X: 121.02, Y: 24.04}, {X: 121.02, Y: 24.02}}
	poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{shell, hole}))
	row := w.Write(&poly)
	require.NoError(t, w.WriteAttribute(int(row), 0, "南投縣"))
	require.NoError(t, w.WriteAttribute(int(row), 1, "埔里鎮"))
	require.NoError(t, w.WriteAttribute(int(row), 2, "大城里"))
	w.Close()
	fixDBFName(t, path)

	feats, err := ReadShapefileRegions(context.Background(), path, "", DefaultGeometryFields)
	require.NoError(t, err)
	require.Len(t, feats, 1)
	assert.Equal(t, model.Key{County: "南投縣", District: "埔里鎮", Region: "大城里"}, feats[0].Key)
	require.Equal(t, 1, feats[0].Polygon.NumPolygons())
	assert.Equal(t, 2, feats[0].Polygon.Polygon(0).NumLinearRings())

	// ESRI shells are clockwise; the area must not depend on it.
	calc, err := area.NewCalculator("EPSG:3826", nil, nil)
	require.NoError(t, err)
	full := calc.AreaKM2(rectangle(121, 24, 121.1, 24.1))
	holeArea := calc.AreaKM2(rectangle(121.02, 24.02, 121.04, 24.04))
	assert.InDelta(t, full-holeArea, calc.AreaKM2(feats[0].Polygon), 1e-6)
	assert.Greater(t, full-holeArea, 100.0)

	counties, err := ReadShapefileCounties(context.Background(), path, "", "COUNTYNAME")
	require.NoError(t, err)
	require.Len(t, counties, 1)
	assert.Equal(t, "南投縣", counties[0].Name)
}

func TestReadIncomeAndPopulation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "salary/2021_standardized.csv",
		"縣市,鄉鎮市區,村里,中位數,平均數,綜合所得總額\n"+
			"臺北市,松山區,莊敬里,\"1,200\",1500,99000\n"+
			"臺北市,松山區,東榮里,-,1,1\n")
	writeFile(t, dir, "salary/2022_standardized.csv",
		"縣市,鄉鎮市區,村里,中位數\n臺北市,松山區,莊敬里,1300\n")
	writeFile(t, dir, "population/opendata11206_standardized.csv",
		"縣市,鄉鎮市區,村里,戶數,人口數\n臺北市,松山區,莊敬里,400,1000\n")

	xf := xlsx.NewFile()
	sheet, err := xf.AddSheet("村里")
	require.NoError(t, err)
	for _, cells := range [][]string{{"縣市", "鄉鎮市區", "村里", "中位數"}, {"臺北市", "松山區", "莊敬里", "1400"}} {
		r := sheet.AddRow()
		for _, c := range cells {
			r.AddCell().SetString(c)
		}
	}
	require.NoError(t, xf.Save(filepath.Join(dir, "salary", "latest.xlsx")))

	m, err := ParseManifest([]byte(`
geometry: {path: v.geojson}
income:
  glob: salary/*_standardized.csv
  files: [{path: salary/latest.xlsx, year: 2023, sheet: 村里}]
population:
  glob: population/opendata*_standardized.csv
`))
	require.NoError(t, err)
	m.Dir = dir

	src := NewFileSource(m)
	income, err := src.Income(context.Background())
	require.NoError(t, err)
	require.Len(t, income, 3)
	assert.Equal(t, 2021, income[0].Year)
	assert.Equal(t, 1200.0, income[0].Median)
	assert.Equal(t, 1500.0, income[0].Mean)
	assert.Equal(t, 99000.0, income[0].Total)
	assert.Equal(t, 2022, income[1].Year)
	assert.Equal(t, 2023, income[2].Year)
	assert.Equal(t, 1400.0, income[2].Median)

	pop, err := src.Population(context.Background())
	require.NoError(t, err)
	require.Len(t, pop, 1)
	assert.Equal(t, model.PopulationRecord{
		Key:        model.Key{County: "臺北市", District: "松山區", Region: "莊敬里"},
		Year:       2023,
		Month:      6,
		Households: 400,
		Population: 1000,
	}, pop[0])

	counties, err := src.Counties(context.Background())
	require.NoError(t, err)
	assert.Nil(t, counties)
}

func TestReadIncome_MissingColumn(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "2021_x.csv", "縣市,村里\n臺北市,莊敬里\n")
	m, err := ParseManifest([]byte("geometry: {path: v}\nincome: {glob: '*_x.csv'}\npopulation: {glob: p}\n"))
	require.NoError(t, err)
	m.Dir = dir

	_, err = ReadIncome(context.Background(), m)
	assert.ErrorContains(t, err, "missing column")
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1,234.5", 1234.5, true},
		{" 7 ", 7, true},
		{"", 0, false},
		{"-", 0, false},
		{"n/a", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseNumber(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestReadClinics(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "clinics/site.csv",
		"機構名稱,地址,縣市區名,科別,經度,緯度\n"+
			"安心診所,松山路1號,臺北市松山區,\"內科,兒科\",121.55,25.05\n"+
			"無座標診所,某路,臺北市大安區,內科,0,0\n"+
			"空白座標診所,某路,臺北市大安區,內科,,\n"+
			"港都牙醫,中山路9號,高雄市前金區,牙科,120.3,22.6\n")

	clinics, err := ReadClinics(context.Background(), p, "", DefaultClinicColumns)
	require.NoError(t, err)
	require.Len(t, clinics, 2)
	assert.Equal(t, model.Clinic{
		Name: "安心診所", Address: "松山路1號", County: "臺北市",
		Specialty: "內科,兒科", Lon: 121.55, Lat: 25.05,
	}, clinics[0])
	assert.Equal(t, "高雄市", clinics[1].County)

	m := &Manifest{Dir: dir, Clinics: &ClinicSpec{Path: "clinics/site.csv", Columns: DefaultClinicColumns}}
	viaSource, err := NewFileSource(m).Clinics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, clinics, viaSource)

	none, err := NewFileSource(&Manifest{}).Clinics(context.Background())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestReadClinics_MissingColumn(t *testing.T) {
	p := writeFile(t, t.TempDir(), "site.csv", "機構名稱,地址\n安心診所,松山路1號\n")
	_, err := ReadClinics(context.Background(), p, "", DefaultClinicColumns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "縣市區名")

	_, err = ReadClinics(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), "", DefaultClinicColumns)
	assert.Error(t, err)
}

func TestAreaCounty(t *testing.T) {
	assert.Equal(t, "臺北市", areaCounty("臺北市松山區"))
	assert.Equal(t, "金門縣", areaCounty("金門縣"))
	assert.Equal(t, "", areaCounty(""))
}
