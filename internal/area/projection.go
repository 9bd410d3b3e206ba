// Package area derives planar areas and interior points for WGS84 region polygons.
package area

import (
	"fmt"
	"strings"

	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
)

// lonLatDef is the source system of every region polygon.
const lonLatDef = "+proj=longlat +ellps=GRS80 +no_defs"

// Projection maps decimal-degree longitude/latitude to planar metres.
type Projection struct {
	name string
	def  string
	fwd  proj.Transformer
}

// NewProjection parses a Proj4 definition and builds the transform from
// longitude/latitude into it.
func NewProjection(name, def string) (*Projection, error) {
	src, err := proj.Parse(lonLatDef)
	if err != nil {
		return nil, eris.Wrap(err, "area: parse lon/lat definition")
	}
	dst, err := proj.Parse(def)
	if err != nil {
		return nil, eris.Wrapf(err, "area: parse projection %q", def)
	}
	fwd, err := src.NewTransform(dst)
	if err != nil {
		return nil, eris.Wrapf(err, "area: build transform to %q", def)
	}
	return &Projection{name: name, def: def, fwd: fwd}, nil
}

// Name is the EPSG code or "aea" for the fallback.
func (p *Projection) Name() string { return p.name }

// Def is the Proj4 definition.
func (p *Projection) Def() string { return p.def }

// Forward projects one point.
func (p *Projection) Forward(lon, lat float64) (float64, float64, error) {
	return p.fwd(lon, lat)
}

// Proj4 definitions of the known planar systems.
var registry = map[string]string{
	// TWD97 / TM2 zone 121 (Taiwan main island).
	"EPSG:3826": "+proj=tmerc +lat_0=0 +lon_0=121 +k=0.9999 +x_0=250000 +y_0=0 +ellps=GRS80 +units=m +no_defs",
	// TWD97 / TM2 zone 119 (Penghu, Kinmen, Matsu).
	"EPSG:3825": "+proj=tmerc +lat_0=0 +lon_0=119 +k=0.9999 +x_0=250000 +y_0=0 +ellps=GRS80 +units=m +no_defs",
}

// Lookup returns the projection for an EPSG-style code or a literal Proj4
// definition starting with "+proj=".
func Lookup(code string) (*Projection, bool) {
	code = strings.TrimSpace(code)
	def, name := code, code
	if !strings.HasPrefix(code, "+proj=") {
		name = strings.ToUpper(code)
		var ok bool
		if def, ok = registry[name]; !ok {
			return nil, false
		}
	}
	p, err := NewProjection(name, def)
	if err != nil {
		return nil, false
	}
	return p, true
}

// AlbersParams parameterizes an Albers equal-area conic projection, in degrees.
type AlbersParams struct {
	Lat1 float64 `yaml:"lat_1" mapstructure:"lat_1"`
	Lat2 float64 `yaml:"lat_2" mapstructure:"lat_2"`
	Lat0 float64 `yaml:"lat_0" mapstructure:"lat_0"`
	Lon0 float64 `yaml:"lon_0" mapstructure:"lon_0"`
}

// TaiwanAlbers is used when no dataset bounds are available.
var TaiwanAlbers = AlbersParams{Lat1: 22, Lat2: 26, Lat0: 24, Lon0: 121}

// Proj4 renders the parameters as an aea definition.
func (p AlbersParams) Proj4() string {
	return fmt.Sprintf("+proj=aea +lat_1=%g +lat_2=%g +lat_0=%g +lon_0=%g +x_0=0 +y_0=0 +ellps=GRS80 +units=m +no_defs",
		p.Lat1, p.Lat2, p.Lat0, p.Lon0)
}

// AlbersForBounds centres an Albers projection on a lon/lat extent, placing the
// standard parallels one sixth of the latitude span inside each edge.
func AlbersForBounds(minLon, minLat, maxLon, maxLat float64) AlbersParams {
	span := maxLat - minLat
	return AlbersParams{
		Lat1: minLat + span/6,
		Lat2: maxLat - span/6,
		Lat0: (minLat + maxLat) / 2,
		Lon0: (minLon + maxLon) / 2,
	}
}

// NewAlbers builds an Albers equal-area projection.
func NewAlbers(params AlbersParams) (*Projection, error) {
	return NewProjection("aea", params.Proj4())
}
