package area

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/choropleth/internal/model"
)

func box(minX, minY, maxX, maxY float64) []float64 {
	return []float64{minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY}
}

func multi(t *testing.T, polys ...[][]float64) *geom.MultiPolygon {
	t.Helper()
	mp := geom.NewMultiPolygon(geom.XY)
	for _, rings := range polys {
		var flat []float64
		var ends []int
		for _, r := range rings {
			flat = append(flat, r...)
			ends = append(ends, len(flat))
		}
		require.NoError(t, mp.Push(geom.NewPolygonFlat(geom.XY, flat, ends)))
	}
	return mp
}

func reverse(ring []float64) []float64 {
	out := make([]float64, 0, len(ring))
	for i := len(ring) - 2; i >= 0; i -= 2 {
		out = append(out, ring[i], ring[i+1])
	}
	return out
}

func tm2(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator("EPSG:3826", nil, nil)
	require.NoError(t, err)
	return c
}

func TestLookup(t *testing.T) {
	p, ok := Lookup("EPSG:3826")
	require.True(t, ok)
	assert.Equal(t, "EPSG:3826", p.Name())
	assert.Contains(t, p.Def(), "+proj=tmerc")

	// Central meridian maps to the false easting.
	x, _, err := p.Forward(121, 23.5)
	require.NoError(t, err)
	assert.InDelta(t, 250000, x, 1e-3)

	_, ok = Lookup("epsg:3825")
	assert.True(t, ok)

	raw, ok := Lookup(TaiwanAlbers.Proj4())
	require.True(t, ok)
	assert.Equal(t, TaiwanAlbers.Proj4(), raw.Def())

	_, ok = Lookup("EPSG:99999")
	assert.False(t, ok)
}

func TestAlbersForBounds(t *testing.T) {
	p := AlbersForBounds(120, 22, 122, 25)
	assert.InDelta(t, 22.5, p.Lat1, 1e-9)
	assert.InDelta(t, 24.5, p.Lat2, 1e-9)
	assert.InDelta(t, 23.5, p.Lat0, 1e-9)
	assert.InDelta(t, 121, p.Lon0, 1e-9)
	assert.Equal(t, "+proj=aea +lat_1=22.5 +lat_2=24.5 +lat_0=23.5 +lon_0=121 +x_0=0 +y_0=0 +ellps=GRS80 +units=m +no_defs", p.Proj4())
}

func TestCalculator_TaiwanBox(t *testing.T) {
	mp := multi(t, [][]float64{box(120, 23, 121, 24)})

	got := tm2(t).AreaKM2(mp)
	assert.InEpsilon(t, 11340, got, 0.02)

	aea, err := NewAlbers(TaiwanAlbers)
	require.NoError(t, err)
	assert.InEpsilon(t, got, NewCalculatorWithProjection(aea).AreaKM2(mp), 0.005)
}

func TestCalculator_FallbackFromBounds(t *testing.T) {
	mp := multi(t, [][]float64{box(0, 0, 1, 1)})

	c, err := NewCalculator("EPSG:0", mp.Bounds(), nil)
	require.NoError(t, err)
	params, ok := c.Fallback()
	require.True(t, ok)
	assert.Equal(t, AlbersForBounds(0, 0, 1, 1), params)
	assert.Equal(t, "aea", c.Projection().Name())
	assert.InEpsilon(t, 12308, c.AreaKM2(mp), 0.02)
}

func TestCalculator_FallbackOverride(t *testing.T) {
	params := AlbersParams{Lat1: 20, Lat2: 28, Lat0: 24, Lon0: 120}
	c, err := NewCalculator("", nil, &params)
	require.NoError(t, err)
	got, ok := c.Fallback()
	require.True(t, ok)
	assert.Equal(t, params, got)

	_, ok = tm2(t).Fallback()
	assert.False(t, ok)
}

func TestCalculator_HolesAndParts(t *testing.T) {
	c := tm2(t)

	outer := box(120.9, 23.9, 121.1, 24.1)
	hole := box(120.95, 23.95, 121.05, 24.05)
	full := c.AreaKM2(multi(t, [][]float64{outer}))
	holeOnly := c.AreaKM2(multi(t, [][]float64{hole}))
	// Same winding as the shell.
	withHole := c.AreaKM2(multi(t, [][]float64{outer, hole}))
	// Opposite winding, as GeoJSON prescribes.
	withCWHole := c.AreaKM2(multi(t, [][]float64{outer, reverse(hole)}))

	assert.InDelta(t, full-holeOnly, withHole, 1e-6)
	assert.InDelta(t, withHole, withCWHole, 1e-9)
	assert.InEpsilon(t, 0.75*full, withHole, 0.01)

	second := box(121.2, 23.9, 121.3, 24.0)
	twoParts := c.AreaKM2(multi(t, [][]float64{outer}, [][]float64{second}))
	assert.InDelta(t, full+c.AreaKM2(multi(t, [][]float64{second})), twoParts, 1e-6)
}

func TestCalculator_WindingIndependent(t *testing.T) {
	c := tm2(t)
	ccw := box(121.4, 24.9, 121.6, 25.1)

	want := c.AreaKM2(multi(t, [][]float64{ccw}))
	got := c.AreaKM2(multi(t, [][]float64{reverse(ccw)}))

	assert.InEpsilon(t, 450.7, want, 0.01)
	assert.InDelta(t, want, got, 1e-9)
}

func TestCalculator_Degenerate(t *testing.T) {
	c := tm2(t)

	tests := []struct {
		name string
		mp   *geom.MultiPolygon
	}{
		{"nil", nil},
		{"empty", geom.NewMultiPolygon(geom.XY)},
		{"collinear", multi(t, [][]float64{{121, 24, 121.1, 24, 121.2, 24, 121, 24}})},
		{"collinear off meridian", multi(t, [][]float64{{120.2, 23, 120.5, 23, 120.8, 23, 120.2, 23}})},
		{"two points", multi(t, [][]float64{{121, 24, 121.1, 24.1}})},
		{"non-finite", multi(t, [][]float64{box(121, 24, math.Inf(1), 24.1)})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 0.0, c.AreaKM2(tt.mp))
		})
	}
}

func TestRepresentativePoint_Hint(t *testing.T) {
	mp := multi(t, [][]float64{box(0, 0, 10, 10)})

	hint := &model.Point{Lon: 1, Lat: 1}
	pt, ok := RepresentativePoint(mp, hint)
	require.True(t, ok)
	assert.Equal(t, *hint, pt)

	outside := &model.Point{Lon: 20, Lat: 20}
	pt, ok = RepresentativePoint(mp, outside)
	require.True(t, ok)
	assert.InDelta(t, 5, pt.Lon, 1e-9)
	assert.InDelta(t, 5, pt.Lat, 1e-9)
}

func TestRepresentativePoint_CentroidOutside(t *testing.T) {
	// A U shape: the centroid falls in the notch.
	u := []float64{0, 0, 10, 0, 10, 10, 8, 10, 8, 2, 2, 2, 2, 10, 0, 10, 0, 0}
	mp := multi(t, [][]float64{u})

	c, ok := areaCentroid(mp)
	require.True(t, ok)
	require.False(t, Contains(mp, c))

	pt, ok := RepresentativePoint(mp, nil)
	require.True(t, ok)
	assert.True(t, Contains(mp, pt.Coord()))
}

func TestRepresentativePoint_RingWithHole(t *testing.T) {
	mp := multi(t, [][]float64{box(0, 0, 10, 10), box(1, 1, 9, 9)})

	pt, ok := RepresentativePoint(mp, nil)
	require.True(t, ok)
	assert.True(t, Contains(mp, pt.Coord()))
}

func TestRepresentativePoint_Degenerate(t *testing.T) {
	_, ok := RepresentativePoint(nil, nil)
	assert.False(t, ok)
	_, ok = RepresentativePoint(geom.NewMultiPolygon(geom.XY), nil)
	assert.False(t, ok)
}
