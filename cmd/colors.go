package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/choropleth/internal/service"
)

var (
	colorsIncomeWeight  float64
	colorsDensityWeight float64
)

var colorsCmd = &cobra.Command{
	Use:   "colors",
	Short: "Print the 9x9 bivariate colour matrix for a weight pair",
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := service.New().ComputeColorMatrix(colorsIncomeWeight, colorsDensityWeight)
		if err != nil {
			return err
		}
		formatColorMatrix(os.Stdout, m)
		return nil
	},
}

// formatColorMatrix prints one row per income level, highest first.
func formatColorMatrix(out io.Writer, m *service.ColorMatrix) {
	w := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
	_, _ = fmt.Fprint(w, "I\\D")
	for d := range m.Colors[0] {
		_, _ = fmt.Fprintf(w, "\t%d", d)
	}
	_, _ = fmt.Fprintln(w)
	for i := len(m.Colors) - 1; i >= 0; i-- {
		_, _ = fmt.Fprintf(w, "%d", i)
		for _, c := range m.Colors[i] {
			_, _ = fmt.Fprintf(w, "\t%s", c)
		}
		_, _ = fmt.Fprintln(w)
	}
	_ = w.Flush()
}

func init() {
	colorsCmd.Flags().Float64Var(&colorsIncomeWeight, "income-weight", 0.5, "income colour weight in [0,1]")
	colorsCmd.Flags().Float64Var(&colorsDensityWeight, "density-weight", 0.5, "density colour weight in [0,1]")
	rootCmd.AddCommand(colorsCmd)
}
