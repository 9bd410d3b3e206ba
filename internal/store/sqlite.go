package store

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/choropleth/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Geometry is kept
// as WKB blobs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dsn.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS region_geometry (
	seq      INTEGER PRIMARY KEY,
	county   TEXT NOT NULL,
	district TEXT NOT NULL,
	region   TEXT NOT NULL,
	geom     BLOB NOT NULL,
	rep_lon  REAL,
	rep_lat  REAL
);
CREATE INDEX IF NOT EXISTS idx_region_geometry_county ON region_geometry(county);

CREATE TABLE IF NOT EXISTS county_outline (
	seq     INTEGER PRIMARY KEY,
	name    TEXT NOT NULL,
	geom    BLOB,
	rep_lon REAL,
	rep_lat REAL
);

CREATE TABLE IF NOT EXISTS income (
	county   TEXT NOT NULL,
	district TEXT NOT NULL,
	region   TEXT NOT NULL,
	year     INTEGER NOT NULL,
	median   REAL NOT NULL,
	mean     REAL NOT NULL,
	total    REAL NOT NULL,
	PRIMARY KEY (county, district, region, year)
);

CREATE TABLE IF NOT EXISTS population (
	county     TEXT NOT NULL,
	district   TEXT NOT NULL,
	region     TEXT NOT NULL,
	year       INTEGER NOT NULL,
	month      INTEGER NOT NULL,
	households INTEGER NOT NULL,
	population INTEGER NOT NULL,
	PRIMARY KEY (county, district, region, year, month)
);

CREATE TABLE IF NOT EXISTS clinic (
	seq       INTEGER PRIMARY KEY,
	name      TEXT NOT NULL,
	address   TEXT NOT NULL,
	county    TEXT NOT NULL,
	specialty TEXT NOT NULL DEFAULT '',
	lon       REAL NOT NULL,
	lat       REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_clinic_county ON clinic(county);
`

var sqliteClinicColumns = []string{"seq", "name", "address", "county", "specialty", "lon", "lat"}

// Migrate creates the tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Geometries returns region boundaries in load order.
func (s *SQLiteStore) Geometries(ctx context.Context) ([]model.GeometryFeature, error) {
	rows, err := s.query(ctx, sq.Select("county", "district", "region", "geom", "rep_lon", "rep_lat").
		From(tableRegions).OrderBy("seq"))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query geometries")
	}
	defer rows.Close()

	var out []model.GeometryFeature
	for rows.Next() {
		var (
			f        model.GeometryFeature
			raw      []byte
			lon, lat sql.NullFloat64
		)
		if err := rows.Scan(&f.Key.County, &f.Key.District, &f.Key.Region, &raw, &lon, &lat); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan geometry")
		}
		if f.Polygon, err = decodeWKB(raw); err != nil {
			return nil, eris.Wrapf(err, "sqlite: region %s", f.Key)
		}
		f.RepPoint = repPoint(nullable(lon), nullable(lat))
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate geometries")
}

// Counties returns county outlines in load order.
func (s *SQLiteStore) Counties(ctx context.Context) ([]model.CountyOutline, error) {
	rows, err := s.query(ctx, sq.Select("name", "geom", "rep_lon", "rep_lat").From(tableCounties).OrderBy("seq"))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query counties")
	}
	defer rows.Close()

	var out []model.CountyOutline
	for rows.Next() {
		var (
			c        model.CountyOutline
			raw      []byte
			lon, lat sql.NullFloat64
		)
		if err := rows.Scan(&c.Name, &raw, &lon, &lat); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan county")
		}
		if c.Polygon, err = decodeWKB(raw); err != nil {
			return nil, eris.Wrapf(err, "sqlite: county %s", c.Name)
		}
		if p := repPoint(nullable(lon), nullable(lat)); p != nil {
			c.RepPoint = *p
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate counties")
}

// Income returns every income record.
func (s *SQLiteStore) Income(ctx context.Context) ([]model.IncomeRecord, error) {
	rows, err := s.query(ctx, sq.Select(incomeColumns...).From(tableIncome).
		OrderBy("year", "county", "district", "region"))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query income")
	}
	defer rows.Close()

	var out []model.IncomeRecord
	for rows.Next() {
		var r model.IncomeRecord
		if err := rows.Scan(&r.Key.County, &r.Key.District, &r.Key.Region, &r.Year, &r.Median, &r.Mean, &r.Total); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan income")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate income")
}

// Population returns every population snapshot.
func (s *SQLiteStore) Population(ctx context.Context) ([]model.PopulationRecord, error) {
	rows, err := s.query(ctx, sq.Select(populationColumns...).From(tablePopulation).
		OrderBy("year", "month", "county", "district", "region"))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query population")
	}
	defer rows.Close()

	var out []model.PopulationRecord
	for rows.Next() {
		var r model.PopulationRecord
		if err := rows.Scan(&r.Key.County, &r.Key.District, &r.Key.Region, &r.Year, &r.Month, &r.Households, &r.Population); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan population")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate population")
}

// Clinics returns the clinic registry in load order.
func (s *SQLiteStore) Clinics(ctx context.Context) ([]model.Clinic, error) {
	rows, err := s.query(ctx, sq.Select(sqliteClinicColumns[1:]...).From(tableClinics).OrderBy("seq"))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query clinics")
	}
	defer rows.Close()

	var out []model.Clinic
	for rows.Next() {
		var c model.Clinic
		if err := rows.Scan(&c.Name, &c.Address, &c.County, &c.Specialty, &c.Lon, &c.Lat); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan clinic")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate clinics")
}

// ReplaceGeometries rewrites the region table, keeping slice order as load order.
func (s *SQLiteStore) ReplaceGeometries(ctx context.Context, geoms []model.GeometryFeature) (int64, error) {
	rows := make([][]any, 0, len(geoms))
	for i, g := range geoms {
		raw, err := encodeWKB(g.Polygon)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: region %s", g.Key)
		}
		if raw == nil {
			continue
		}
		lon, lat := repCoords(g.RepPoint)
		rows = append(rows, []any{i, g.Key.County, g.Key.District, g.Key.Region, raw, lon, lat})
	}
	return s.replace(ctx, tableRegions, regionColumns, rows)
}

// ReplaceCounties rewrites the county outline table.
func (s *SQLiteStore) ReplaceCounties(ctx context.Context, counties []model.CountyOutline) (int64, error) {
	rows := make([][]any, 0, len(counties))
	for i, c := range counties {
		raw, err := encodeWKB(c.Polygon)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: county %s", c.Name)
		}
		rows = append(rows, []any{i, c.Name, raw, c.RepPoint.Lon, c.RepPoint.Lat})
	}
	return s.replace(ctx, tableCounties, countyColumns, rows)
}

// ReplaceIncome rewrites the income table.
func (s *SQLiteStore) ReplaceIncome(ctx context.Context, recs []model.IncomeRecord) (int64, error) {
	return s.replace(ctx, tableIncome, incomeColumns, incomeRows(dedupIncome(recs)))
}

// ReplacePopulation rewrites the population table.
func (s *SQLiteStore) ReplacePopulation(ctx context.Context, recs []model.PopulationRecord) (int64, error) {
	return s.replace(ctx, tablePopulation, populationColumns, populationRows(dedupPopulation(recs)))
}

// ReplaceClinics rewrites the clinic table. Clinics without a usable
// coordinate are not stored.
func (s *SQLiteStore) ReplaceClinics(ctx context.Context, clinics []model.Clinic) (int64, error) {
	located := locatedClinics(clinics)
	rows := make([][]any, len(located))
	for i, c := range located {
		rows[i] = []any{i, c.Name, c.Address, c.County, c.Specialty, c.Lon, c.Lat}
	}
	return s.replace(ctx, tableClinics, sqliteClinicColumns, rows)
}

func (s *SQLiteStore) query(ctx context.Context, b sq.SelectBuilder) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return s.db.QueryContext(ctx, query, args...)
}

// replace empties table and inserts rows in one transaction.
func (s *SQLiteStore) replace(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: replace %s: begin tx", table)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return 0, eris.Wrapf(err, "sqlite: replace %s: delete", table)
	}

	if len(rows) > 0 {
		insert, _, err := sq.Insert(table).Columns(columns...).Values(make([]any, len(columns))...).ToSql()
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: replace %s: build insert", table)
		}
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: replace %s: prepare", table)
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return 0, eris.Wrapf(err, "sqlite: replace %s: insert", table)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrapf(err, "sqlite: replace %s: commit", table)
	}
	return int64(len(rows)), nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}
