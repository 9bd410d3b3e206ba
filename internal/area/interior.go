package area

import (
	"math"
	"sort"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/choropleth/internal/model"
)

// Contains reports whether c lies inside mp: inside some part's shell and
// outside that part's holes.
func Contains(mp *geom.MultiPolygon, c geom.Coord) bool {
	if mp == nil {
		return false
	}
	for i := 0; i < mp.NumPolygons(); i++ {
		if polygonContains(mp.Polygon(i), c) {
			return true
		}
	}
	return false
}

func polygonContains(p *geom.Polygon, c geom.Coord) bool {
	if p.NumLinearRings() == 0 {
		return false
	}
	if !xy.IsPointInRing(geom.XY, c, p.LinearRing(0).FlatCoords()) {
		return false
	}
	for r := 1; r < p.NumLinearRings(); r++ {
		if xy.IsPointInRing(geom.XY, c, p.LinearRing(r).FlatCoords()) {
			return false
		}
	}
	return true
}

// RepresentativePoint returns a point inside mp. The source hint is used when
// it is inside; otherwise the area centroid, and failing that a scan-line
// interior point of the largest part. ok is false only for degenerate input.
func RepresentativePoint(mp *geom.MultiPolygon, hint *model.Point) (model.Point, bool) {
	if mp == nil || mp.Empty() {
		return model.Point{}, false
	}
	if hint != nil && Contains(mp, hint.Coord()) {
		return *hint, true
	}
	if c, ok := areaCentroid(mp); ok && Contains(mp, c) {
		return model.Point{Lon: c[0], Lat: c[1]}, true
	}

	largest := largestPart(mp)
	if largest == nil {
		return model.Point{}, false
	}
	if pt, ok := scanlinePoint(largest); ok {
		return pt, true
	}
	return model.Point{}, false
}

// signedRingArea is the shoelace area in coordinate units; positive when
// counter-clockwise.
func signedRingArea(flat []float64, stride int) float64 {
	n := len(flat) / stride
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += flat[i*stride]*flat[j*stride+1] - flat[j*stride]*flat[i*stride+1]
	}
	return sum / 2
}

// areaCentroid computes the area-weighted centroid of all rings, with holes
// subtracting.
func areaCentroid(mp *geom.MultiPolygon) (geom.Coord, bool) {
	var a, cx, cy float64
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		for r := 0; r < p.NumLinearRings(); r++ {
			flat := p.LinearRing(r).FlatCoords()
			stride := p.Stride()
			ra, rx, ry := ringMoments(flat, stride)
			sign := 1.0
			if r > 0 {
				sign = -1.0
			}
			// Orientation-independent: shells add, holes subtract.
			if ra < 0 {
				ra, rx, ry = -ra, -rx, -ry
			}
			a += sign * ra
			cx += sign * rx
			cy += sign * ry
		}
	}
	if a == 0 || math.IsNaN(a) {
		return nil, false
	}
	return geom.Coord{cx / (3 * a), cy / (3 * a)}, true
}

func ringMoments(flat []float64, stride int) (area, mx, my float64) {
	n := len(flat) / stride
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		x0, y0 := flat[i*stride], flat[i*stride+1]
		x1, y1 := flat[j*stride], flat[j*stride+1]
		cross := x0*y1 - x1*y0
		area += cross
		mx += (x0 + x1) * cross
		my += (y0 + y1) * cross
	}
	return area / 2, mx / 2, my / 2
}

func largestPart(mp *geom.MultiPolygon) *geom.Polygon {
	var best *geom.Polygon
	bestArea := -1.0
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		if p.NumLinearRings() == 0 {
			continue
		}
		a := math.Abs(signedRingArea(p.LinearRing(0).FlatCoords(), p.Stride()))
		if a > bestArea {
			best, bestArea = p, a
		}
	}
	return best
}

// scanlinePoint intersects a horizontal line through the middle of the
// polygon's extent with every ring and returns the midpoint of the widest
// inside interval.
func scanlinePoint(p *geom.Polygon) (model.Point, bool) {
	b := p.Bounds()
	if b.IsEmpty() {
		return model.Point{}, false
	}
	y := (b.Min(1) + b.Max(1)) / 2

	var xs []float64
	stride := p.Stride()
	for r := 0; r < p.NumLinearRings(); r++ {
		flat := p.LinearRing(r).FlatCoords()
		n := len(flat) / stride
		for i := 0; i < n; i++ {
			j := (i + 1) % n
			x0, y0 := flat[i*stride], flat[i*stride+1]
			x1, y1 := flat[j*stride], flat[j*stride+1]
			if (y0 > y) == (y1 > y) {
				continue
			}
			xs = append(xs, x0+(y-y0)*(x1-x0)/(y1-y0))
		}
	}
	if len(xs) < 2 {
		return model.Point{}, false
	}
	sort.Float64s(xs)

	bestWidth := 0.0
	var best model.Point
	found := false
	for i := 0; i+1 < len(xs); i += 2 {
		w := xs[i+1] - xs[i]
		if w > bestWidth {
			bestWidth = w
			best = model.Point{Lon: (xs[i] + xs[i+1]) / 2, Lat: y}
			found = true
		}
	}
	return best, found
}
