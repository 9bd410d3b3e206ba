package ingest

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/choropleth/internal/fetcher"
	"github.com/sells-group/choropleth/internal/model"
)

// countyRunes is the length of a county name at the start of the registry's
// combined area column, e.g. 臺北市松山區.
const countyRunes = 3

// ReadClinics streams the clinic registry CSV at path. Rows without a usable
// coordinate are dropped.
func ReadClinics(ctx context.Context, path, charset string, cols ClinicColumns) ([]model.Clinic, error) {
	file, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer file.Close() //nolint:errcheck

	h, rows, errs, err := fetcher.StreamCSV(ctx, file, fetcher.CSVOptions{Charset: charset, TrimSpace: true})
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: %s", path)
	}
	idx, err := h.Require(cols.Name, cols.Address, cols.Area, cols.Lon, cols.Lat)
	if err != nil {
		for range rows {
			// drain so the reader goroutine exits
		}
		return nil, eris.Wrapf(err, "ingest: %s", path)
	}

	var out []model.Clinic
	dropped := 0
	for row := range rows {
		lon, okLon := parseClinicCoord(fetcher.Field(row, idx[3]))
		lat, okLat := parseClinicCoord(fetcher.Field(row, idx[4]))
		if !okLon || !okLat {
			dropped++
			continue
		}
		out = append(out, model.Clinic{
			Name:      fetcher.Field(row, idx[0]),
			Address:   fetcher.Field(row, idx[1]),
			County:    areaCounty(fetcher.Field(row, idx[2])),
			Specialty: optionalField(h, row, cols.Specialty),
			Lon:       lon,
			Lat:       lat,
		})
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrapf(err, "ingest: %s", path)
	}
	if dropped > 0 {
		zap.L().Debug("ingest: dropped clinics without coordinates", zap.String("file", path), zap.Int("dropped", dropped))
	}
	return out, nil
}

func parseClinicCoord(s string) (float64, bool) {
	v, ok := parseNumber(s)
	if !ok || v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func areaCounty(area string) string {
	r := []rune(area)
	if len(r) > countyRunes {
		r = r[:countyRunes]
	}
	return string(r)
}
