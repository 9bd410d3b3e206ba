package ingest

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/choropleth/internal/fetcher"
)

// FetchTarget is one manifest file with a download URL.
type FetchTarget struct {
	Name    string
	URL     string
	Path    string // resolved local path the manifest reads
	Charset string // zip entry name charset
}

// FetchResult describes what Fetch did for a target.
type FetchResult struct {
	Target    FetchTarget
	Bytes     int64
	Unchanged bool
	Extracted []string
}

// conditionalFetcher is implemented by fetchers that support ETags.
type conditionalFetcher interface {
	DownloadIfChanged(ctx context.Context, rawURL, etag string) (io.ReadCloser, string, bool, error)
}

// FetchTargets lists every manifest entry that carries a URL.
func (m *Manifest) FetchTargets() []FetchTarget {
	var out []FetchTarget
	add := func(name, u, p, charset string) {
		if u == "" {
			return
		}
		out = append(out, FetchTarget{Name: name, URL: u, Path: m.Resolve(p), Charset: charset})
	}
	add("geometry", m.Geometry.URL, m.Geometry.Path, m.Geometry.Charset)
	if m.Counties != nil {
		add("counties", m.Counties.URL, m.Counties.Path, m.Counties.Charset)
	}
	for _, f := range m.Income.Files {
		add("income", f.URL, f.Path, m.Income.Charset)
	}
	for _, f := range m.Population.Files {
		add("population", f.URL, f.Path, m.Population.Charset)
	}
	if m.Clinics != nil {
		add("clinics", m.Clinics.URL, m.Clinics.Path, m.Clinics.Charset)
	}
	return out
}

// Fetch downloads t. Archives (".zip" URLs) are saved next to t.Path and
// extracted into its directory. Unless force is set, HTTP downloads send the
// ETag saved by the previous fetch and skip unchanged files.
func Fetch(ctx context.Context, router fetcher.Router, t FetchTarget, force bool) (FetchResult, error) {
	log := zap.L().With(zap.String("component", "ingest.fetch"), zap.String("target", t.Name))
	res := FetchResult{Target: t}

	f, err := router.For(t.URL)
	if err != nil {
		return res, err
	}

	dest := t.Path
	archive := isZIP(t.URL)
	if archive {
		dest = filepath.Join(filepath.Dir(t.Path), archiveName(t.URL))
	}
	etagPath := dest + ".etag"

	if cf, ok := f.(conditionalFetcher); ok {
		etag := ""
		if !force && fileExists(dest) {
			etag = readETag(etagPath)
		}
		body, newETag, changed, err := cf.DownloadIfChanged(ctx, t.URL, etag)
		if err != nil {
			return res, eris.Wrapf(err, "ingest: fetch %s", t.Name)
		}
		if !changed {
			res.Unchanged = true
			log.Info("ingest: not modified", zap.String("url", t.URL))
			return res, nil
		}
		n, err := fetcher.WriteFile(dest, body)
		_ = body.Close()
		if err != nil {
			return res, eris.Wrapf(err, "ingest: save %s", t.Name)
		}
		res.Bytes = n
		if newETag != "" {
			if err := os.WriteFile(etagPath, []byte(newETag), 0o644); err != nil {
				log.Warn("ingest: save etag", zap.Error(err))
			}
		}
	} else {
		n, err := fetcher.DownloadToFile(ctx, f, t.URL, dest)
		if err != nil {
			return res, eris.Wrapf(err, "ingest: fetch %s", t.Name)
		}
		res.Bytes = n
	}

	if archive {
		files, err := fetcher.ExtractZIP(dest, filepath.Dir(t.Path), fetcher.ZIPOptions{NameCharset: t.Charset})
		if err != nil {
			return res, eris.Wrapf(err, "ingest: extract %s", t.Name)
		}
		res.Extracted = files
		if !fileExists(t.Path) {
			return res, eris.Errorf("ingest: %s not found in archive %s", filepath.Base(t.Path), filepath.Base(dest))
		}
	}

	log.Info("ingest: fetched",
		zap.String("url", t.URL),
		zap.String("path", dest),
		zap.Int64("bytes", res.Bytes),
		zap.Int("extracted", len(res.Extracted)),
	)
	return res, nil
}

func isZIP(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".zip")
}

func archiveName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || path.Base(u.Path) == "/" {
		return "download.zip"
	}
	return path.Base(u.Path)
}

func readETag(p string) string {
	data, err := os.ReadFile(p)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
