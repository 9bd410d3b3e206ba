package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/choropleth/internal/db"
	"github.com/sells-group/choropleth/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock, "choropleth"), mock
}

func ptr(v float64) *float64 { return &v }

func TestPostgres_Geometries(t *testing.T) {
	st, mock := newMockStore(t)

	raw, err := encodeEWKB(square(121.5, 25.0, 0.01))
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT county, district, region, ST_AsEWKB\(geom\), rep_lon, rep_lat FROM choropleth\.region_geometry ORDER BY seq`).
		WillReturnRows(pgxmock.NewRows([]string{"county", "district", "region", "geom", "rep_lon", "rep_lat"}).
			AddRow(keyA.County, keyA.District, keyA.Region, raw, ptr(121.505), ptr(25.005)).
			AddRow(keyB.County, keyB.District, keyB.Region, raw, nil, nil))

	geoms, err := st.Geometries(context.Background())
	require.NoError(t, err)
	require.Len(t, geoms, 2)
	assert.Equal(t, keyA, geoms[0].Key)
	require.NotNil(t, geoms[0].RepPoint)
	assert.Equal(t, 25.005, geoms[0].RepPoint.Lat)
	assert.Nil(t, geoms[1].RepPoint)
	assert.Equal(t, 1, geoms[1].Polygon.NumPolygons())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Geometries_BadBlob(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("FROM choropleth.region_geometry").
		WillReturnRows(pgxmock.NewRows([]string{"county", "district", "region", "geom", "rep_lon", "rep_lat"}).
			AddRow(keyA.County, keyA.District, keyA.Region, []byte{0xff}, nil, nil))

	_, err := st.Geometries(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "莊敬里")
}

func TestPostgres_Income(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT county, district, region, year, median, mean, total FROM choropleth\.income ORDER BY year`).
		WillReturnRows(pgxmock.NewRows(incomeColumns).
			AddRow(keyA.County, keyA.District, keyA.Region, 2022, 750.0, 950.0, 1.1e6))

	recs, err := st.Income(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.IncomeRecord{Key: keyA, Year: 2022, Median: 750, Mean: 950, Total: 1.1e6}, recs[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Population_QueryError(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("FROM choropleth.population").WillReturnError(errors.New("relation does not exist"))

	_, err := st.Population(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: query population")
}

func TestPostgres_ReplaceIncome(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "choropleth"."income"`).WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectCopyFrom(pgx.Identifier{"choropleth", "income"}, incomeColumns).WillReturnResult(2)
	mock.ExpectCommit()

	n, err := st.ReplaceIncome(context.Background(), testSource().income)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplaceGeometries(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "choropleth"."region_geometry"`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"choropleth", "region_geometry"}, regionColumns).WillReturnResult(2)
	mock.ExpectCommit()

	n, err := st.ReplaceGeometries(context.Background(), testSource().geoms)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MergePopulation(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_stage_population"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_population"}, populationColumns).WillReturnResult(2)
	mock.ExpectExec(`DELETE FROM "choropleth"."population" AS t WHERE \(t."year", t."month"\) IN`).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`ON CONFLICT \("county", "district", "region", "year", "month"\) DO UPDATE SET "households" = EXCLUDED."households", "population" = EXCLUDED."population"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	stats, err := st.MergePopulation(context.Background(), testSource().pop)
	require.NoError(t, err)
	assert.Equal(t, db.MergeStats{Written: 2, Removed: 1}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MergeIncome(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_stage_income"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_income"}, incomeColumns).WillReturnResult(2)
	mock.ExpectExec(`DELETE FROM "choropleth"."income" AS t WHERE \(t."year"\) IN`).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`ON CONFLICT \("county", "district", "region", "year"\) DO UPDATE SET "median" = EXCLUDED."median", "mean" = EXCLUDED."mean", "total" = EXCLUDED."total"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	stats, err := st.MergeIncome(context.Background(), testSource().income)
	require.NoError(t, err)
	assert.Equal(t, db.MergeStats{}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LatestIncomeYear(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(year\), 0\) FROM choropleth\.income`).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(2023))

	year, err := st.LatestIncomeYear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2023, year)
}

func TestPostgres_Clinics(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT name, address, county, specialty, ST_X\(geom\), ST_Y\(geom\) FROM choropleth\.clinic ORDER BY seq`).
		WillReturnRows(pgxmock.NewRows([]string{"name", "address", "county", "specialty", "st_x", "st_y"}).
			AddRow("安心診所", "松山路1號", "臺北市", "內科", 121.55, 25.05))

	clinics, err := st.Clinics(context.Background())
	require.NoError(t, err)
	require.Len(t, clinics, 1)
	assert.Equal(t, model.Clinic{Name: "安心診所", Address: "松山路1號", County: "臺北市", Specialty: "內科", Lon: 121.55, Lat: 25.05}, clinics[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplaceClinics(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "choropleth"."clinic"`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"choropleth", "clinic"}, clinicColumns).WillReturnResult(1)
	mock.ExpectCommit()

	n, err := st.ReplaceClinics(context.Background(), testSource().clinics)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Migrate(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("SELECT pg_advisory_lock").WithArgs(db.MigrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM").WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "choropleth"\.region_geometry`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO").WithArgs("001_reference.sql").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "choropleth"\.clinic`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO").WithArgs("002_clinics.sql").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(db.MigrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
