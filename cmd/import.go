package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/choropleth/internal/ingest"
	"github.com/sells-group/choropleth/internal/store"
)

var importMerge bool

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load manifest files into the configured database",
	Long: `Reads every dataset named in the manifest and replaces the store tables.
With --merge (postgres only) each income year and population snapshot in the
input replaces the stored one; periods not in the input and geometry are
left untouched. A configured clinic registry is replaced whole.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}
		if importMerge && cfg.Store.Driver != "postgres" {
			return eris.New("import: --merge requires store.driver=postgres")
		}

		m, err := loadManifest(cfg)
		if err != nil {
			return err
		}
		src := ingest.NewFileSource(m)

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "import: migrate")
		}

		if importMerge {
			pg, ok := st.(*store.PostgresStore)
			if !ok {
				return eris.New("import: --merge requires store.driver=postgres")
			}
			return mergeTables(ctx, pg, src)
		}

		stats, err := store.Import(ctx, st, src)
		if err != nil {
			return eris.Wrap(err, "import")
		}
		zap.L().Info("import complete",
			zap.String("driver", cfg.Store.Driver),
			zap.Int64("regions", stats.Regions),
			zap.Int64("counties", stats.Counties),
			zap.Int64("income", stats.Income),
			zap.Int64("population", stats.Population),
			zap.Int64("clinics", stats.Clinics),
		)
		return nil
	},
}

func mergeTables(ctx context.Context, pg *store.PostgresStore, src *ingest.FileSource) error {
	income, err := src.Income(ctx)
	if err != nil {
		return eris.Wrap(err, "import: read income")
	}
	pop, err := src.Population(ctx)
	if err != nil {
		return eris.Wrap(err, "import: read population")
	}

	ni, err := pg.MergeIncome(ctx, income)
	if err != nil {
		return err
	}
	np, err := pg.MergePopulation(ctx, pop)
	if err != nil {
		return err
	}
	// The clinic registry has no periods; a configured registry replaces
	// the stored one.
	var nc int64
	if src.Manifest().Clinics != nil {
		clinics, err := src.Clinics(ctx)
		if err != nil {
			return eris.Wrap(err, "import: read clinics")
		}
		if nc, err = pg.ReplaceClinics(ctx, clinics); err != nil {
			return err
		}
	}
	latest, err := pg.LatestIncomeYear(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("merge complete",
		zap.Int64("income_written", ni.Written),
		zap.Int64("income_removed", ni.Removed),
		zap.Int64("population_written", np.Written),
		zap.Int64("population_removed", np.Removed),
		zap.Int64("clinics", nc),
		zap.Int("latest_income_year", latest),
	)
	return nil
}

func init() {
	importCmd.Flags().BoolVar(&importMerge, "merge", false, "replace only the income years and population snapshots present in the input")
	rootCmd.AddCommand(importCmd)
}
