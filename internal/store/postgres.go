package store

import (
	"context"
	"embed"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"

	"github.com/sells-group/choropleth/internal/db"
	"github.com/sells-group/choropleth/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore implements Store on PostGIS.
type PostgresStore struct {
	pool   db.Pool
	schema string
}

// NewPostgres connects to databaseURL and returns a store rooted at schema.
func NewPostgres(ctx context.Context, databaseURL, schema string, cfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, databaseURL, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return NewPostgresWithPool(pool, schema), nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool, schema string) *PostgresStore {
	return &PostgresStore{pool: pool, schema: schema}
}

func builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func (s *PostgresStore) table(name string) string {
	return s.schema + "." + name
}

// Migrate applies the embedded migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return eris.Wrap(db.Migrate(ctx, s.pool, migrations, "migrations", s.schema), "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Geometries returns region boundaries in load order.
func (s *PostgresStore) Geometries(ctx context.Context) ([]model.GeometryFeature, error) {
	query, args, err := builder().
		Select("county", "district", "region", "ST_AsEWKB(geom)", "rep_lon", "rep_lat").
		From(s.table(tableRegions)).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build geometry query")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query geometries")
	}
	defer rows.Close()

	var out []model.GeometryFeature
	for rows.Next() {
		var (
			f        model.GeometryFeature
			raw      []byte
			lon, lat *float64
		)
		if err := rows.Scan(&f.Key.County, &f.Key.District, &f.Key.Region, &raw, &lon, &lat); err != nil {
			return nil, eris.Wrap(err, "postgres: scan geometry")
		}
		if f.Polygon, err = decodeEWKB(raw); err != nil {
			return nil, eris.Wrapf(err, "postgres: region %s", f.Key)
		}
		f.RepPoint = repPoint(lon, lat)
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate geometries")
}

// Counties returns county outlines in load order.
func (s *PostgresStore) Counties(ctx context.Context) ([]model.CountyOutline, error) {
	query, args, err := builder().
		Select("name", "ST_AsEWKB(geom)", "rep_lon", "rep_lat").
		From(s.table(tableCounties)).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build county query")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query counties")
	}
	defer rows.Close()

	var out []model.CountyOutline
	for rows.Next() {
		var (
			c        model.CountyOutline
			raw      []byte
			lon, lat *float64
		)
		if err := rows.Scan(&c.Name, &raw, &lon, &lat); err != nil {
			return nil, eris.Wrap(err, "postgres: scan county")
		}
		if c.Polygon, err = decodeEWKB(raw); err != nil {
			return nil, eris.Wrapf(err, "postgres: county %s", c.Name)
		}
		if p := repPoint(lon, lat); p != nil {
			c.RepPoint = *p
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate counties")
}

// Income returns every income record.
func (s *PostgresStore) Income(ctx context.Context) ([]model.IncomeRecord, error) {
	query, args, err := builder().
		Select("county", "district", "region", "year", "median", "mean", "total").
		From(s.table(tableIncome)).
		OrderBy("year", "county", "district", "region").
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build income query")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query income")
	}
	defer rows.Close()

	var out []model.IncomeRecord
	for rows.Next() {
		var r model.IncomeRecord
		if err := rows.Scan(&r.Key.County, &r.Key.District, &r.Key.Region, &r.Year, &r.Median, &r.Mean, &r.Total); err != nil {
			return nil, eris.Wrap(err, "postgres: scan income")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate income")
}

// Population returns every population snapshot.
func (s *PostgresStore) Population(ctx context.Context) ([]model.PopulationRecord, error) {
	query, args, err := builder().
		Select("county", "district", "region", "year", "month", "households", "population").
		From(s.table(tablePopulation)).
		OrderBy("year", "month", "county", "district", "region").
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build population query")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query population")
	}
	defer rows.Close()

	var out []model.PopulationRecord
	for rows.Next() {
		var r model.PopulationRecord
		if err := rows.Scan(&r.Key.County, &r.Key.District, &r.Key.Region, &r.Year, &r.Month, &r.Households, &r.Population); err != nil {
			return nil, eris.Wrap(err, "postgres: scan population")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate population")
}

// Clinics returns the clinic registry in load order.
func (s *PostgresStore) Clinics(ctx context.Context) ([]model.Clinic, error) {
	query, args, err := builder().
		Select("name", "address", "county", "specialty", "ST_X(geom)", "ST_Y(geom)").
		From(s.table(tableClinics)).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build clinic query")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query clinics")
	}
	defer rows.Close()

	var out []model.Clinic
	for rows.Next() {
		var c model.Clinic
		if err := rows.Scan(&c.Name, &c.Address, &c.County, &c.Specialty, &c.Lon, &c.Lat); err != nil {
			return nil, eris.Wrap(err, "postgres: scan clinic")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate clinics")
}

// LatestIncomeYear returns the newest income year, or 0 when the table is empty.
func (s *PostgresStore) LatestIncomeYear(ctx context.Context) (int, error) {
	query, args, err := builder().Select("COALESCE(MAX(year), 0)").From(s.table(tableIncome)).ToSql()
	if err != nil {
		return 0, eris.Wrap(err, "postgres: build latest year query")
	}
	var year int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&year); err != nil {
		return 0, eris.Wrap(err, "postgres: latest income year")
	}
	return year, nil
}

var (
	regionColumns     = []string{"seq", "county", "district", "region", "geom", "rep_lon", "rep_lat"}
	countyColumns     = []string{"seq", "name", "geom", "rep_lon", "rep_lat"}
	incomeColumns     = []string{"county", "district", "region", "year", "median", "mean", "total"}
	populationColumns = []string{"county", "district", "region", "year", "month", "households", "population"}
	clinicColumns     = []string{"seq", "name", "address", "county", "specialty", "geom"}
)

// ReplaceGeometries rewrites the region table, keeping slice order as load order.
func (s *PostgresStore) ReplaceGeometries(ctx context.Context, geoms []model.GeometryFeature) (int64, error) {
	rows := make([][]any, 0, len(geoms))
	for i, g := range geoms {
		raw, err := encodeEWKB(g.Polygon)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: region %s", g.Key)
		}
		if raw == nil {
			continue
		}
		lon, lat := repCoords(g.RepPoint)
		rows = append(rows, []any{i, g.Key.County, g.Key.District, g.Key.Region, raw, lon, lat})
	}
	n, err := db.ReplaceTable(ctx, s.pool, s.schema, tableRegions, regionColumns, rows)
	return n, eris.Wrap(err, "postgres: replace geometries")
}

// ReplaceCounties rewrites the county outline table.
func (s *PostgresStore) ReplaceCounties(ctx context.Context, counties []model.CountyOutline) (int64, error) {
	rows := make([][]any, 0, len(counties))
	for i, c := range counties {
		raw, err := encodeEWKB(c.Polygon)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: county %s", c.Name)
		}
		var geomVal any
		if raw != nil {
			geomVal = raw
		}
		rows = append(rows, []any{i, c.Name, geomVal, c.RepPoint.Lon, c.RepPoint.Lat})
	}
	n, err := db.ReplaceTable(ctx, s.pool, s.schema, tableCounties, countyColumns, rows)
	return n, eris.Wrap(err, "postgres: replace counties")
}

// ReplaceIncome rewrites the income table.
func (s *PostgresStore) ReplaceIncome(ctx context.Context, recs []model.IncomeRecord) (int64, error) {
	n, err := db.ReplaceTable(ctx, s.pool, s.schema, tableIncome, incomeColumns, incomeRows(dedupIncome(recs)))
	return n, eris.Wrap(err, "postgres: replace income")
}

// ReplacePopulation rewrites the population table.
func (s *PostgresStore) ReplacePopulation(ctx context.Context, recs []model.PopulationRecord) (int64, error) {
	n, err := db.ReplaceTable(ctx, s.pool, s.schema, tablePopulation, populationColumns, populationRows(dedupPopulation(recs)))
	return n, eris.Wrap(err, "postgres: replace population")
}

// ReplaceClinics rewrites the clinic table. Clinics without a usable
// coordinate are not stored.
func (s *PostgresStore) ReplaceClinics(ctx context.Context, clinics []model.Clinic) (int64, error) {
	located := locatedClinics(clinics)
	rows := make([][]any, 0, len(located))
	for i, c := range located {
		raw, err := encodePointEWKB(c.Lon, c.Lat)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: clinic %s", c.Name)
		}
		rows = append(rows, []any{i, c.Name, c.Address, c.County, c.Specialty, raw})
	}
	n, err := db.ReplaceTable(ctx, s.pool, s.schema, tableClinics, clinicColumns, rows)
	return n, eris.Wrap(err, "postgres: replace clinics")
}

// MergeIncome makes recs the new contents of every year they cover; other
// years are kept.
func (s *PostgresStore) MergeIncome(ctx context.Context, recs []model.IncomeRecord) (db.MergeStats, error) {
	st, err := db.MergePeriods(ctx, s.pool, s.periodTable(tableIncome, incomeColumns, 1), incomeRows(dedupIncome(recs)))
	return st, eris.Wrap(err, "postgres: merge income")
}

// MergePopulation makes recs the new contents of every year/month snapshot
// they cover; other snapshots are kept.
func (s *PostgresStore) MergePopulation(ctx context.Context, recs []model.PopulationRecord) (db.MergeStats, error) {
	st, err := db.MergePeriods(ctx, s.pool, s.periodTable(tablePopulation, populationColumns, 2), populationRows(dedupPopulation(recs)))
	return st, eris.Wrap(err, "postgres: merge population")
}

// periodTable splits cols (key, period, values) after the key columns.
func (s *PostgresStore) periodTable(name string, cols []string, periodCols int) db.PeriodTable {
	k := len(db.KeyColumns)
	return db.PeriodTable{
		Schema: s.schema,
		Name:   name,
		Period: cols[k : k+periodCols],
		Values: cols[k+periodCols:],
	}
}

// Ping checks connectivity within timeout.
func (s *PostgresStore) Ping(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func incomeRows(recs []model.IncomeRecord) [][]any {
	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = []any{r.Key.County, r.Key.District, r.Key.Region, r.Year, r.Median, r.Mean, r.Total}
	}
	return rows
}

func populationRows(recs []model.PopulationRecord) [][]any {
	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = []any{r.Key.County, r.Key.District, r.Key.Region, r.Year, r.Month, r.Households, r.Population}
	}
	return rows
}
