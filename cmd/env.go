package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/choropleth/internal/config"
	"github.com/sells-group/choropleth/internal/db"
	"github.com/sells-group/choropleth/internal/ingest"
	"github.com/sells-group/choropleth/internal/refdata"
	"github.com/sells-group/choropleth/internal/store"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// loadManifest reads the manifest and applies data.dir.
func loadManifest(c *config.Config) (*ingest.Manifest, error) {
	m, err := ingest.LoadManifest(c.Data.Manifest)
	if err != nil {
		return nil, err
	}
	if c.Data.Dir != "" {
		m.Dir = c.Data.Dir
	}
	return m, nil
}

// openStore opens the configured database store. The files driver has none.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, c.Store.Schema, db.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	case "sqlite":
		return store.NewSQLite(c.Store.SQLitePath)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// openSource returns where reference data is read from: the manifest files
// or a database populated by `import`.
func openSource(ctx context.Context, c *config.Config) (refdata.Source, io.Closer, error) {
	if c.Store.Driver == "files" {
		m, err := loadManifest(c)
		if err != nil {
			return nil, nil, err
		}
		return ingest.NewFileSource(m), nopCloser{}, nil
	}
	s, err := openStore(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	return s, s, nil
}

func refdataOptions(c *config.Config) refdata.Options {
	return refdata.Options{
		Projection: c.Projection.Code,
		Fallback:   c.Projection.Fallback,
		Aliases:    c.Keys.Aliases,
		ExactOnly:  c.Keys.ExactOnly,
	}
}

// loadDataset reads and builds one dataset generation.
func loadDataset(ctx context.Context, c *config.Config) (*refdata.Dataset, error) {
	src, closer, err := openSource(ctx, c)
	if err != nil {
		return nil, err
	}
	defer closer.Close() //nolint:errcheck

	return refdata.Load(ctx, src, refdataOptions(c))
}
