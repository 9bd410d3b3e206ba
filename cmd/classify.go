package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/choropleth/internal/classify"
	"github.com/sells-group/choropleth/internal/service"
)

var (
	classifyIncomeWeight  float64
	classifyDensityWeight float64
	classifyJSON          bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify <county>",
	Short: "Classify one county's villages and print levels and colours",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("classify"); err != nil {
			return err
		}
		ds, err := loadDataset(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "classify: load")
		}
		svc := service.New()
		svc.Swap(ds)

		rc, err := svc.ComputeRegionClassification(ctx, args[0], classifyIncomeWeight, classifyDensityWeight)
		if err != nil {
			return err
		}

		if classifyJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(classificationView(rc))
		}
		formatClassification(os.Stdout, rc)
		return nil
	},
}

type regionRow struct {
	County            string   `json:"county"`
	District          string   `json:"district"`
	Village           string   `json:"village"`
	CenterLat         float64  `json:"center_lat"`
	CenterLon         float64  `json:"center_lon"`
	AreaKM2           float64  `json:"area_km2"`
	MedianIncome      *float64 `json:"median_income"`
	PopulationDensity *float64 `json:"population_density"`
	IncomeLevel       int      `json:"income_level"`
	DensityLevel      int      `json:"density_level"`
	Color             string   `json:"bivariate_color"`
}

type classificationOutput struct {
	County        string           `json:"county"`
	Generation    string           `json:"generation"`
	IncomeWeight  float64          `json:"income_weight"`
	DensityWeight float64          `json:"density_weight"`
	Regions       []regionRow      `json:"regions"`
	IncomeRanges  []classify.Range `json:"income_ranges"`
	DensityRanges []classify.Range `json:"density_ranges"`
	IncomeMethod  classify.Method  `json:"income_method"`
	DensityMethod classify.Method  `json:"density_method"`
}

func classificationView(rc *service.RegionClassification) classificationOutput {
	out := classificationOutput{
		County:        rc.County,
		Generation:    rc.Generation,
		IncomeWeight:  rc.IncomeWeight,
		DensityWeight: rc.DensityWeight,
		Regions:       make([]regionRow, 0, len(rc.Regions)),
		IncomeRanges:  rc.IncomeRanges,
		DensityRanges: rc.DensityRanges,
		IncomeMethod:  rc.IncomeMethod,
		DensityMethod: rc.DensityMethod,
	}
	for _, r := range rc.Regions {
		out.Regions = append(out.Regions, regionRow{
			County:            r.Key.County,
			District:          r.Key.District,
			Village:           r.Key.Region,
			CenterLat:         r.RepPoint.Lat,
			CenterLon:         r.RepPoint.Lon,
			AreaKM2:           r.AreaKM2,
			MedianIncome:      r.MedianIncome,
			PopulationDensity: r.PopulationDensity,
			IncomeLevel:       r.IncomeLevel,
			DensityLevel:      r.DensityLevel,
			Color:             r.Color,
		})
	}
	return out
}

func formatClassification(out io.Writer, rc *service.RegionClassification) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DISTRICT\tVILLAGE\tMEDIAN\tDENSITY\tAREA_KM2\tI\tD\tCOLOR")
	_, _ = fmt.Fprintln(w, "--------\t-------\t------\t-------\t--------\t-\t-\t-----")
	for _, r := range rc.Regions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.3f\t%d\t%d\t%s\n",
			r.Key.District,
			r.Key.Region,
			optFloat(r.MedianIncome, 0),
			optFloat(r.PopulationDensity, 1),
			r.AreaKM2,
			r.IncomeLevel,
			r.DensityLevel,
			r.Color,
		)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nincome (%s)\n", rc.IncomeMethod)
	formatRanges(out, rc.IncomeRanges)
	_, _ = fmt.Fprintf(out, "\ndensity (%s)\n", rc.DensityMethod)
	formatRanges(out, rc.DensityRanges)
}

func formatRanges(out io.Writer, ranges []classify.Range) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LEVEL\tMIN\tMAX")
	for _, r := range ranges {
		_, _ = fmt.Fprintf(w, "%d\t%g\t%g\n", r.Level, r.Min, r.Max)
	}
	_ = w.Flush()
}

func optFloat(v *float64, prec int) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

func init() {
	classifyCmd.Flags().Float64Var(&classifyIncomeWeight, "income-weight", 0.5, "income colour weight in [0,1]")
	classifyCmd.Flags().Float64Var(&classifyDensityWeight, "density-weight", 0.5, "density colour weight in [0,1]")
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(classifyCmd)
}
