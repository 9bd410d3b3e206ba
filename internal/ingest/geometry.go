package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// ToMultiPolygon converts a polygonal geometry to a 2D MultiPolygon. Extra
// ordinates (Z, M) are dropped.
func ToMultiPolygon(g geom.T) (*geom.MultiPolygon, error) {
	switch t := g.(type) {
	case *geom.MultiPolygon:
		if t.Layout() == geom.XY {
			return t, nil
		}
		return multiPolygonXY(t), nil
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(geom.XY)
		if err := mp.Push(polygonXY(t)); err != nil {
			return nil, eris.Wrap(err, "ingest: polygon to multipolygon")
		}
		return mp, nil
	case nil:
		return nil, eris.New("ingest: missing geometry")
	default:
		return nil, eris.Errorf("ingest: unsupported geometry %T", g)
	}
}

func polygonXY(p *geom.Polygon) *geom.Polygon {
	if p.Layout() == geom.XY {
		return p
	}
	stride := p.Stride()
	src := p.FlatCoords()
	flat := make([]float64, 0, len(src)/stride*2)
	for i := 0; i+1 < len(src); i += stride {
		flat = append(flat, src[i], src[i+1])
	}
	ends := make([]int, len(p.Ends()))
	for i, e := range p.Ends() {
		ends[i] = e / stride * 2
	}
	return geom.NewPolygonFlat(geom.XY, flat, ends)
}

func multiPolygonXY(mp *geom.MultiPolygon) *geom.MultiPolygon {
	out := geom.NewMultiPolygon(geom.XY)
	for i := 0; i < mp.NumPolygons(); i++ {
		_ = out.Push(polygonXY(mp.Polygon(i)))
	}
	return out
}

// ringsToMultiPolygon groups shapefile rings into polygons. Clockwise rings
// are shells; counter-clockwise rings are holes assigned to the shell that
// contains them, or the nearest preceding shell.
func ringsToMultiPolygon(rings [][]float64) *geom.MultiPolygon {
	type part struct {
		shell []float64
		holes [][]float64
	}
	var parts []*part
	var orphans [][]float64

	for _, r := range rings {
		if len(r) < 6 {
			continue
		}
		if signedArea(r) <= 0 {
			parts = append(parts, &part{shell: r})
			continue
		}
		orphans = append(orphans, r)
	}
	for _, h := range orphans {
		var owner *part
		probe := geom.Coord{h[0], h[1]}
		for _, p := range parts {
			if xy.IsPointInRing(geom.XY, probe, p.shell) {
				owner = p
				break
			}
		}
		if owner == nil && len(parts) > 0 {
			owner = parts[len(parts)-1]
		}
		if owner == nil {
			// No clockwise ring at all: treat counter-clockwise rings as shells.
			parts = append(parts, &part{shell: h})
			continue
		}
		owner.holes = append(owner.holes, h)
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for _, p := range parts {
		flat := append([]float64(nil), p.shell...)
		ends := []int{len(flat)}
		for _, h := range p.holes {
			flat = append(flat, h...)
			ends = append(ends, len(flat))
		}
		_ = mp.Push(geom.NewPolygonFlat(geom.XY, flat, ends))
	}
	return mp
}

func signedArea(flat []float64) float64 {
	n := len(flat) / 2
	var s float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		s += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return s / 2
}

// propString renders a GeoJSON property as a string.
func propString(props map[string]interface{}, name string) string {
	if name == "" || props == nil {
		return ""
	}
	switch v := props[name].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func parseCoord(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
