package ingest

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/choropleth/internal/model"
)

func readFeatureCollection(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}
	var fc geojson.FeatureCollection
	if err := fc.UnmarshalJSON(data); err != nil {
		return nil, eris.Wrapf(err, "ingest: decode geojson %s", path)
	}
	return &fc, nil
}

// ReadGeoJSONRegions reads region boundaries from a GeoJSON FeatureCollection.
// Features without a polygonal geometry or without a region name are skipped.
func ReadGeoJSONRegions(ctx context.Context, path string, fields FieldMap) ([]model.GeometryFeature, error) {
	fc, err := readFeatureCollection(path)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "ingest"), zap.String("file", path))
	out := make([]model.GeometryFeature, 0, len(fc.Features))
	skipped := 0
	for _, f := range fc.Features {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "ingest: geojson cancelled")
		}
		mp, err := ToMultiPolygon(f.Geometry)
		if err != nil {
			skipped++
			continue
		}
		key := model.Key{
			County:   propString(f.Properties, fields.County),
			District: propString(f.Properties, fields.District),
			Region:   propString(f.Properties, fields.Region),
		}
		if key.Region == "" {
			skipped++
			continue
		}
		feat := model.GeometryFeature{Key: key, Polygon: mp}
		lon, okLon := parseCoord(propString(f.Properties, fields.Lon))
		lat, okLat := parseCoord(propString(f.Properties, fields.Lat))
		if okLon && okLat {
			feat.RepPoint = &model.Point{Lon: lon, Lat: lat}
		}
		out = append(out, feat)
	}
	if skipped > 0 {
		log.Warn("ingest: skipped features", zap.Int("skipped", skipped))
	}
	return out, nil
}

// ReadGeoJSONCounties reads county outlines; nameField carries the county name.
func ReadGeoJSONCounties(ctx context.Context, path, nameField string) ([]model.CountyOutline, error) {
	fc, err := readFeatureCollection(path)
	if err != nil {
		return nil, err
	}
	out := make([]model.CountyOutline, 0, len(fc.Features))
	for _, f := range fc.Features {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "ingest: geojson cancelled")
		}
		name := propString(f.Properties, nameField)
		mp, err := ToMultiPolygon(f.Geometry)
		if name == "" || err != nil {
			continue
		}
		out = append(out, model.CountyOutline{Name: name, Polygon: mp})
	}
	return out, nil
}
