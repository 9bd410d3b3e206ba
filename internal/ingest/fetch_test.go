package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/choropleth/internal/fetcher"
)

func testRouter() fetcher.Router {
	return fetcher.Router{HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:   "test",
		Timeout:     5 * time.Second,
		MaxRetries:  1,
		RetryWait:   time.Millisecond,
		RatePerHost: 1000,
	})}
}

func TestManifest_FetchTargets(t *testing.T) {
	m, err := ParseManifest([]byte(`
dir: /data
geometry:
  path: border/villages.shp
  url: https://example.com/village.zip
  charset: big5
counties:
  path: border/counties.geojson
income:
  files:
    - {path: salary/110.csv, year: 2021, url: https://example.com/110.csv}
    - {path: salary/111.csv, year: 2022}
population:
  files:
    - {path: population/11206.csv, year: 2023, month: 6, url: ftp://example.com/11206.csv}
clinics:
  path: clinics/site.csv
  url: https://example.com/site.csv
`))
	require.NoError(t, err)

	targets := m.FetchTargets()
	require.Len(t, targets, 4)
	assert.Equal(t, FetchTarget{Name: "geometry", URL: "https://example.com/village.zip", Path: "/data/border/villages.shp", Charset: "big5"}, targets[0])
	assert.Equal(t, "income", targets[1].Name)
	assert.Equal(t, "/data/salary/110.csv", targets[1].Path)
	assert.Equal(t, "population", targets[2].Name)
	assert.Equal(t, FetchTarget{Name: "clinics", URL: "https://example.com/site.csv", Path: "/data/clinics/site.csv"}, targets[3])
}

func TestFetch_ETag(t *testing.T) {
	var full atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		full.Add(1)
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("年度,中位數\n"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "salary", "110.csv")
	target := FetchTarget{Name: "income", URL: srv.URL + "/110.csv", Path: dest}

	res, err := Fetch(context.Background(), testRouter(), target, false)
	require.NoError(t, err)
	assert.False(t, res.Unchanged)
	assert.Equal(t, int64(len("年度,中位數\n")), res.Bytes)

	etag, err := os.ReadFile(dest + ".etag")
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, string(etag))

	res, err = Fetch(context.Background(), testRouter(), target, false)
	require.NoError(t, err)
	assert.True(t, res.Unchanged)
	assert.Equal(t, int32(1), full.Load())

	_, err = Fetch(context.Background(), testRouter(), target, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), full.Load())
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestFetch_ExtractsArchive(t *testing.T) {
	archive := zipBytes(t, map[string]string{
		"VILLAGE.shp": "shp",
		"VILLAGE.dbf": "dbf",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	target := FetchTarget{Name: "geometry", URL: srv.URL + "/village.zip", Path: filepath.Join(dir, "VILLAGE.shp")}

	res, err := Fetch(context.Background(), testRouter(), target, false)
	require.NoError(t, err)
	assert.Len(t, res.Extracted, 2)
	assert.FileExists(t, filepath.Join(dir, "village.zip"))
	assert.FileExists(t, filepath.Join(dir, "VILLAGE.dbf"))

	missing := FetchTarget{Name: "geometry", URL: srv.URL + "/village.zip", Path: filepath.Join(dir, "OTHER.shp")}
	_, err = Fetch(context.Background(), testRouter(), missing, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTHER.shp not found")
}

func TestFetch_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "x.csv")
	_, err := Fetch(context.Background(), testRouter(), FetchTarget{Name: "income", URL: srv.URL + "/x.csv", Path: dest}, false)
	require.Error(t, err)
	assert.NoFileExists(t, dest)

	_, err = Fetch(context.Background(), testRouter(), FetchTarget{Name: "income", URL: "gopher://x/y", Path: dest}, false)
	require.Error(t, err)
}
