package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/choropleth/internal/refdata"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Load reference data and report record counts per county",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("status"); err != nil {
			return err
		}
		ds, err := loadDataset(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "status: load")
		}

		formatStatus(os.Stdout, cfg.Store.Driver, ds)
		return nil
	},
}

func formatStatus(out io.Writer, driver string, ds *refdata.Dataset) {
	st := ds.Stats()
	_, _ = fmt.Fprintf(out, "source:      %s\n", driver)
	_, _ = fmt.Fprintf(out, "generation:  %s\n", ds.Generation)
	_, _ = fmt.Fprintf(out, "regions:     %d (%d duplicate, %d degenerate)\n", st.Regions, st.DuplicateRegions, st.DegenerateRegions)
	_, _ = fmt.Fprintf(out, "counties:    %d\n", st.Counties)
	_, _ = fmt.Fprintf(out, "income:      %d records, %d unmatched\n", st.IncomeRecords, st.UnmatchedIncome)
	_, _ = fmt.Fprintf(out, "population:  %d records, %d unmatched\n", st.PopulationRecords, st.UnmatchedPop)
	_, _ = fmt.Fprintf(out, "clinics:     %d (%d specialties)\n\n", st.Clinics, len(ds.Clinics().Specialties()))

	latest := ds.Latest()
	type row struct {
		regions, income, density int
	}
	counts := map[string]*row{}
	var names []string
	for _, g := range ds.Regions() {
		r, ok := counts[g.Key.County]
		if !ok {
			r = &row{}
			counts[g.Key.County] = r
			names = append(names, g.Key.County)
		}
		r.regions++
		rec := latest.Record(g)
		if rec.HasIncome() {
			r.income++
		}
		if rec.HasDensity() {
			r.density++
		}
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COUNTY\tREGIONS\tWITH_INCOME\tWITH_DENSITY")
	_, _ = fmt.Fprintln(w, "------\t-------\t-----------\t------------")
	for _, n := range names {
		r := counts[n]
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", n, r.regions, r.income, r.density)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
