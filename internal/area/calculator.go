package area

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// minRingDeg2 is the smallest shoelace area, in square degrees, of a ring
// that is not treated as degenerate (about 1 m2 at Taiwan's latitude).
const minRingDeg2 = 1e-10

// Calculator computes planar areas in square kilometres.
type Calculator struct {
	proj     *Projection
	fallback *AlbersParams
}

// NewCalculator returns a Calculator using the projection for code. When code
// is unknown it falls back to an Albers equal-area conic built from fallback,
// or, if fallback is nil, centred on bounds.
func NewCalculator(code string, bounds *geom.Bounds, fallback *AlbersParams) (*Calculator, error) {
	if p, ok := Lookup(code); ok {
		return &Calculator{proj: p}, nil
	}

	params := TaiwanAlbers
	switch {
	case fallback != nil:
		params = *fallback
	case bounds != nil && !bounds.IsEmpty():
		params = AlbersForBounds(bounds.Min(0), bounds.Min(1), bounds.Max(0), bounds.Max(1))
	}

	p, err := NewAlbers(params)
	if err != nil && fallback == nil {
		// Bounds straddling the equator symmetrically have no cone.
		params = TaiwanAlbers
		p, err = NewAlbers(params)
	}
	if err != nil {
		return nil, eris.Wrap(err, "area: fallback projection")
	}

	zap.L().Warn("area: projection unavailable, using Albers equal-area fallback",
		zap.String("code", code),
		zap.String("proj4", p.Def()),
	)
	return &Calculator{proj: p, fallback: &params}, nil
}

// NewCalculatorWithProjection wraps an explicit projection.
func NewCalculatorWithProjection(p *Projection) *Calculator {
	return &Calculator{proj: p}
}

// Projection returns the projection in use.
func (c *Calculator) Projection() *Projection { return c.proj }

// Fallback returns the Albers parameters when the fallback is in use.
func (c *Calculator) Fallback() (AlbersParams, bool) {
	if c.fallback == nil {
		return AlbersParams{}, false
	}
	return *c.fallback, true
}

// AreaKM2 returns the area of mp. Each part contributes its shell minus its
// holes, whatever their winding; parts are summed. Degenerate input yields 0.
func (c *Calculator) AreaKM2(mp *geom.MultiPolygon) float64 {
	if mp == nil || mp.Empty() {
		return 0
	}
	var total float64
	for i := 0; i < mp.NumPolygons(); i++ {
		total += c.polygonAreaM2(mp.Polygon(i))
	}
	km2 := total / 1e6
	if math.IsNaN(km2) || math.IsInf(km2, 0) || km2 < 0 {
		return 0
	}
	return km2
}

func (c *Calculator) polygonAreaM2(p *geom.Polygon) float64 {
	if p == nil || p.NumLinearRings() == 0 {
		return 0
	}
	a, ok := c.ringAreaM2(p.LinearRing(0))
	if !ok {
		return 0
	}
	for r := 1; r < p.NumLinearRings(); r++ {
		if h, ok := c.ringAreaM2(p.LinearRing(r)); ok {
			a -= h
		}
	}
	if a < 0 {
		return 0
	}
	return a
}

// ringAreaM2 is the unsigned projected area of one ring. ok is false for
// rings that are degenerate in lon/lat or cannot be projected.
func (c *Calculator) ringAreaM2(ring *geom.LinearRing) (float64, bool) {
	if ring.NumCoords() < 3 {
		return 0, false
	}
	src := signedRingArea(ring.FlatCoords(), ring.Stride())
	if math.IsNaN(src) || math.IsInf(src, 0) || math.Abs(src) < minRingDeg2 {
		return 0, false
	}

	flat := make([]float64, 0, 2*ring.NumCoords())
	for j := 0; j < ring.NumCoords(); j++ {
		pt := ring.Coord(j)
		x, y, err := c.proj.Forward(pt.X(), pt.Y())
		if err != nil {
			return 0, false
		}
		flat = append(flat, x, y)
	}
	a := math.Abs(signedRingArea(flat, 2))
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0, false
	}
	return a, true
}
