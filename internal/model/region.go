// Package model defines the reference-data and derived records shared across the
// choropleth engine.
package model

import (
	"strings"

	"github.com/twpayne/go-geom"
)

// KeySeparator joins the components of a Key's canonical string form.
const KeySeparator = "_"

// Key identifies an administrative sub-region by county, district and region name.
// Components are expected to be canonicalized (see package adminkey) before use
// as a map key.
type Key struct {
	County   string `json:"county"`
	District string `json:"district"`
	Region   string `json:"region"`
}

// String returns the canonical joined form, e.g. "臺北市_松山區_莊敬里".
func (k Key) String() string {
	return strings.Join([]string{k.County, k.District, k.Region}, KeySeparator)
}

// IsZero reports whether every component is empty.
func (k Key) IsZero() bool {
	return k.County == "" && k.District == "" && k.Region == ""
}

// Point is a WGS84 longitude/latitude pair.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Coord returns the point as a go-geom coordinate.
func (p Point) Coord() geom.Coord {
	return geom.Coord{p.Lon, p.Lat}
}

// GeometryFeature is a raw region boundary as yielded by a geometry source,
// before area and representative point are derived.
type GeometryFeature struct {
	Key      Key
	Polygon  *geom.MultiPolygon
	RepPoint *Point // optional hint supplied by the source
}

// RegionGeometry is a loaded region boundary with its derived attributes.
// It is immutable once the dataset is built.
type RegionGeometry struct {
	Key      Key
	Polygon  *geom.MultiPolygon
	RepPoint Point
	AreaKM2  float64
}

// CountyOutline is a county-level boundary used for the overview layer.
type CountyOutline struct {
	Name     string
	Polygon  *geom.MultiPolygon // nil when derived from village geometry only
	RepPoint Point
}
