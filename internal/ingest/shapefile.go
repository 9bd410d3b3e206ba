package ingest

import (
	"context"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/choropleth/internal/fetcher"
	"github.com/sells-group/choropleth/internal/model"
)

// readShapefile yields every polygon record with its decoded attributes.
func readShapefile(ctx context.Context, path, charset string, fn func(attrs map[string]string, rings [][]float64)) error {
	reader, err := shp.Open(path)
	if err != nil {
		return eris.Wrapf(err, "ingest: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	skipped := 0
	for reader.Next() {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "ingest: shapefile cancelled")
		}
		idx, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil || poly.NumParts == 0 {
			skipped++
			continue
		}

		attrs := make(map[string]string, len(names))
		for i, name := range names {
			raw := strings.TrimSpace(strings.TrimRight(reader.ReadAttribute(idx, i), "\x00"))
			if charset != "" {
				if decoded, err := fetcher.DecodeString(raw, charset); err == nil {
					raw = decoded
				}
			}
			attrs[name] = raw
		}
		fn(attrs, polygonRings(poly))
	}
	if skipped > 0 {
		zap.L().Debug("ingest: skipped non-polygon shapes", zap.String("file", path), zap.Int("skipped", skipped))
	}
	return nil
}

func polygonRings(p *shp.Polygon) [][]float64 {
	rings := make([][]float64, 0, p.NumParts)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		rings = append(rings, flat)
	}
	return rings
}

// ReadShapefileRegions reads region boundaries from a polygon shapefile.
func ReadShapefileRegions(ctx context.Context, path, charset string, fields FieldMap) ([]model.GeometryFeature, error) {
	var out []model.GeometryFeature
	err := readShapefile(ctx, path, charset, func(attrs map[string]string, rings [][]float64) {
		key := model.Key{
			County:   attrs[fields.County],
			District: attrs[fields.District],
			Region:   attrs[fields.Region],
		}
		mp := ringsToMultiPolygon(rings)
		if key.Region == "" || mp.NumPolygons() == 0 {
			return
		}
		feat := model.GeometryFeature{Key: key, Polygon: mp}
		lon, okLon := parseCoord(attrs[fields.Lon])
		lat, okLat := parseCoord(attrs[fields.Lat])
		if okLon && okLat {
			feat.RepPoint = &model.Point{Lon: lon, Lat: lat}
		}
		out = append(out, feat)
	})
	return out, err
}

// ReadShapefileCounties reads county outlines from a polygon shapefile.
func ReadShapefileCounties(ctx context.Context, path, charset, nameField string) ([]model.CountyOutline, error) {
	var out []model.CountyOutline
	err := readShapefile(ctx, path, charset, func(attrs map[string]string, rings [][]float64) {
		name := attrs[nameField]
		mp := ringsToMultiPolygon(rings)
		if name == "" || mp.NumPolygons() == 0 {
			return
		}
		out = append(out, model.CountyOutline{Name: name, Polygon: mp})
	})
	return out, err
}
