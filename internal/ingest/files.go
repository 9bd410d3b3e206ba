package ingest

import (
	"context"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/choropleth/internal/model"
)

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	return f, nil
}

// FileSource reads reference data from the files a manifest names.
type FileSource struct {
	m *Manifest
}

// NewFileSource returns a source backed by m.
func NewFileSource(m *Manifest) *FileSource {
	return &FileSource{m: m}
}

// Manifest returns the underlying manifest.
func (s *FileSource) Manifest() *Manifest { return s.m }

// Geometries reads the region boundary file.
func (s *FileSource) Geometries(ctx context.Context) ([]model.GeometryFeature, error) {
	g := s.m.Geometry
	path := s.m.Resolve(g.Path)
	if g.Format == "shapefile" {
		return ReadShapefileRegions(ctx, path, g.Charset, g.Fields)
	}
	return ReadGeoJSONRegions(ctx, path, g.Fields)
}

// Counties reads the county outline file, or returns nil when none is
// configured.
func (s *FileSource) Counties(ctx context.Context) ([]model.CountyOutline, error) {
	c := s.m.Counties
	if c == nil {
		return nil, nil
	}
	path := s.m.Resolve(c.Path)
	if c.Format == "shapefile" {
		return ReadShapefileCounties(ctx, path, c.Charset, c.NameField)
	}
	return ReadGeoJSONCounties(ctx, path, c.NameField)
}

// Income reads every income table.
func (s *FileSource) Income(ctx context.Context) ([]model.IncomeRecord, error) {
	return ReadIncome(ctx, s.m)
}

// Population reads every population table.
func (s *FileSource) Population(ctx context.Context) ([]model.PopulationRecord, error) {
	return ReadPopulation(ctx, s.m)
}

// Clinics reads the clinic registry, or returns nil when none is configured.
func (s *FileSource) Clinics(ctx context.Context) ([]model.Clinic, error) {
	c := s.m.Clinics
	if c == nil {
		return nil, nil
	}
	return ReadClinics(ctx, s.m.Resolve(c.Path), c.Charset, c.Columns)
}
