// Package ingest reads the reference datasets named by a manifest: region
// boundaries (GeoJSON or shapefile), county outlines, income tables and
// population tables.
package ingest

import (
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// FieldMap names the attribute fields that carry the administrative key.
type FieldMap struct {
	County   string `yaml:"county"`
	District string `yaml:"district"`
	Region   string `yaml:"region"`
	// Optional representative point hint.
	Lon string `yaml:"lon"`
	Lat string `yaml:"lat"`
}

// GeometrySpec locates the region boundary file.
type GeometrySpec struct {
	Path    string   `yaml:"path" validate:"required"`
	Format  string   `yaml:"format" validate:"omitempty,oneof=geojson shapefile"`
	Charset string   `yaml:"charset"`
	Fields  FieldMap `yaml:"fields"`
	URL     string   `yaml:"url" validate:"omitempty,url"`
}

// CountySpec locates the optional county outline file.
type CountySpec struct {
	Path      string `yaml:"path" validate:"required"`
	Format    string `yaml:"format" validate:"omitempty,oneof=geojson shapefile"`
	Charset   string `yaml:"charset"`
	NameField string `yaml:"name_field"`
	URL       string `yaml:"url" validate:"omitempty,url"`
}

// ColumnMap names the table columns. Unused columns may be left empty.
type ColumnMap struct {
	County     string `yaml:"county"`
	District   string `yaml:"district"`
	Region     string `yaml:"region"`
	Median     string `yaml:"median"`
	Mean       string `yaml:"mean"`
	Total      string `yaml:"total"`
	Households string `yaml:"households"`
	Population string `yaml:"population"`
}

// FileSpec is one table file. Year and Month override what the file name
// implies; Sheet selects an XLSX worksheet.
type FileSpec struct {
	Path  string `yaml:"path" validate:"required"`
	Year  int    `yaml:"year" validate:"omitempty,gte=1900"`
	Month int    `yaml:"month" validate:"omitempty,gte=1,lte=12"`
	Sheet string `yaml:"sheet"`
	URL   string `yaml:"url" validate:"omitempty,url"`
}

// TableSpec selects the income or population files.
type TableSpec struct {
	Glob    string     `yaml:"glob"`
	Files   []FileSpec `yaml:"files" validate:"dive"`
	Columns ColumnMap  `yaml:"columns"`
	Charset string     `yaml:"charset"`
}

// ClinicColumns names the clinic registry columns. Area holds the combined
// county and district name; its first three characters are the county.
type ClinicColumns struct {
	Name      string `yaml:"name"`
	Address   string `yaml:"address"`
	Area      string `yaml:"area"`
	Specialty string `yaml:"specialty"`
	Lon       string `yaml:"lon"`
	Lat       string `yaml:"lat"`
}

// ClinicSpec locates the optional clinic registry CSV.
type ClinicSpec struct {
	Path    string        `yaml:"path" validate:"required"`
	Charset string        `yaml:"charset"`
	Columns ClinicColumns `yaml:"columns"`
	URL     string        `yaml:"url" validate:"omitempty,url"`
}

// Manifest describes every reference dataset. Relative paths resolve against
// the manifest's directory, or Dir when set.
type Manifest struct {
	Dir        string       `yaml:"dir"`
	Geometry   GeometrySpec `yaml:"geometry" validate:"required"`
	Counties   *CountySpec  `yaml:"counties"`
	Income     TableSpec    `yaml:"income"`
	Population TableSpec    `yaml:"population"`
	Clinics    *ClinicSpec  `yaml:"clinics"`
}

// DefaultGeometryFields matches the standardized village boundary file.
var DefaultGeometryFields = FieldMap{County: "COUNTYNAME", District: "TOWNNAME", Region: "VILLNAME"}

// DefaultIncomeColumns matches the standardized income CSVs.
var DefaultIncomeColumns = ColumnMap{
	County: "縣市", District: "鄉鎮市區", Region: "村里",
	Median: "中位數", Mean: "平均數", Total: "綜合所得總額",
}

// DefaultPopulationColumns matches the standardized household registry CSVs.
var DefaultPopulationColumns = ColumnMap{
	County: "縣市", District: "鄉鎮市區", Region: "村里",
	Households: "戶數", Population: "人口數",
}

// DefaultClinicColumns matches the national clinic registry export.
var DefaultClinicColumns = ClinicColumns{
	Name: "機構名稱", Address: "地址", Area: "縣市區名",
	Specialty: "科別", Lon: "經度", Lat: "緯度",
}

// LoadManifest reads, defaults and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read manifest %s", path)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: manifest %s", path)
	}
	if m.Dir == "" {
		m.Dir = filepath.Dir(path)
	} else if !filepath.IsAbs(m.Dir) {
		m.Dir = filepath.Join(filepath.Dir(path), m.Dir)
	}
	return m, nil
}

// ParseManifest decodes YAML, fills defaults and validates.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "ingest: parse manifest")
	}
	m.applyDefaults()
	if err := validator.New().Struct(&m); err != nil {
		return nil, eris.Wrap(err, "ingest: invalid manifest")
	}
	if m.Income.Glob == "" && len(m.Income.Files) == 0 {
		return nil, eris.New("ingest: invalid manifest: income needs glob or files")
	}
	if m.Population.Glob == "" && len(m.Population.Files) == 0 {
		return nil, eris.New("ingest: invalid manifest: population needs glob or files")
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Geometry.Format == "" {
		m.Geometry.Format = formatFromPath(m.Geometry.Path)
	}
	m.Geometry.Fields = mergeFields(m.Geometry.Fields, DefaultGeometryFields)
	if m.Counties != nil {
		if m.Counties.Format == "" {
			m.Counties.Format = formatFromPath(m.Counties.Path)
		}
		if m.Counties.NameField == "" {
			m.Counties.NameField = DefaultGeometryFields.County
		}
	}
	m.Income.Columns = mergeColumns(m.Income.Columns, DefaultIncomeColumns)
	m.Population.Columns = mergeColumns(m.Population.Columns, DefaultPopulationColumns)
	if m.Clinics != nil {
		m.Clinics.Columns = mergeClinicColumns(m.Clinics.Columns, DefaultClinicColumns)
	}
}

// Resolve returns p relative to the manifest directory.
func (m *Manifest) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

func formatFromPath(p string) string {
	if filepath.Ext(p) == ".shp" {
		return "shapefile"
	}
	return "geojson"
}

func mergeFields(f, def FieldMap) FieldMap {
	if f.County == "" {
		f.County = def.County
	}
	if f.District == "" {
		f.District = def.District
	}
	if f.Region == "" {
		f.Region = def.Region
	}
	return f
}

func mergeColumns(c, def ColumnMap) ColumnMap {
	pick := func(v, d string) string {
		if v == "" {
			return d
		}
		return v
	}
	return ColumnMap{
		County:     pick(c.County, def.County),
		District:   pick(c.District, def.District),
		Region:     pick(c.Region, def.Region),
		Median:     pick(c.Median, def.Median),
		Mean:       pick(c.Mean, def.Mean),
		Total:      pick(c.Total, def.Total),
		Households: pick(c.Households, def.Households),
		Population: pick(c.Population, def.Population),
	}
}

func mergeClinicColumns(c, def ClinicColumns) ClinicColumns {
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.Address == "" {
		c.Address = def.Address
	}
	if c.Area == "" {
		c.Area = def.Area
	}
	if c.Specialty == "" {
		c.Specialty = def.Specialty
	}
	if c.Lon == "" {
		c.Lon = def.Lon
	}
	if c.Lat == "" {
		c.Lat = def.Lat
	}
	return c
}
