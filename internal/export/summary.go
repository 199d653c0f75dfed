package export

import (
	"fmt"
	"io"
	"math"
	"strings"
)

// WriteSummary prints a human-readable analysis summary.
func WriteSummary(w io.Writer, rec *Record) error {
	rule := strings.Repeat("=", 70)
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\nENSEMBLE ANALYSIS SUMMARY\n%s\n", rule, rule)
	fmt.Fprintf(&b, "\nVariable: %s (%s)\n", rec.Variable, rec.Unit)
	fmt.Fprintf(&b, "Number of models: %d\n", rec.NModels)
	fmt.Fprintf(&b, "Grid: %dx%d, %d valid / %d missing cells\n",
		rec.Grid.LatCount, rec.Grid.LonCount, rec.ValidCells, rec.MissingCells)

	b.WriteString("\n--- Spread Statistics ---\n")
	fmt.Fprintf(&b, "  Mean spread:   %s\n", fmtNumber(rec.SpreadStatistics.MeanSpread))
	fmt.Fprintf(&b, "  Max spread:    %s\n", fmtNumber(rec.SpreadStatistics.MaxSpread))
	fmt.Fprintf(&b, "  Min spread:    %s\n", fmtNumber(rec.SpreadStatistics.MinSpread))

	fmt.Fprintf(&b, "\n--- Top %d Locations with Highest Spread ---\n", len(rec.TopSpread))
	for i, loc := range rec.TopSpread {
		fmt.Fprintf(&b, "  %d. Lat: %7.2f, Lon: %7.2f, Spread: %s\n", i+1, loc.Lat, loc.Lon, fmtNumber(loc.Spread))
	}

	b.WriteString("\n--- Individual Model Statistics ---\n")
	for _, s := range rec.ModelStatistics {
		fmt.Fprintf(&b, "\n  %s:\n", s.Label)
		fmt.Fprintf(&b, "    Mean: %s\n", fmtNumber(s.Mean))
		fmt.Fprintf(&b, "    Std:  %s\n", fmtNumber(s.Std))
		fmt.Fprintf(&b, "    Min:  %s\n", fmtNumber(s.Min))
		fmt.Fprintf(&b, "    Max:  %s\n", fmtNumber(s.Max))
	}
	fmt.Fprintf(&b, "\n%s\n\n", rule)

	_, err := io.WriteString(w, b.String())
	return err
}

func fmtNumber(n Number) string {
	if math.IsNaN(float64(n)) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", float64(n))
}
