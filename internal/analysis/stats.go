package analysis

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats describes the residuals (measured - estimate) of the ready points.
// A lower-bound filter keeps residuals at or above zero, so
// BelowZeroFraction is the share of samples the estimate ran ahead of.
type Stats struct {
	Samples           int     `json:"samples"`
	Mean              float64 `json:"mean"`
	Stddev            float64 `json:"stddev"`
	Min               float64 `json:"min"`
	Max               float64 `json:"max"`
	P50               float64 `json:"p50"`
	P95               float64 `json:"p95"`
	BelowZeroFraction float64 `json:"below_zero_fraction"`
}

// belowZeroTolerance absorbs rounding in residuals that are zero in exact
// arithmetic.
const belowZeroTolerance = 1e-9

// ComputeStats summarises the residuals of points that were ready.
func ComputeStats(points []Point) Stats {
	residuals := make([]float64, 0, len(points))
	for _, p := range points {
		if p.Ready {
			residuals = append(residuals, p.Residual)
		}
	}
	return residualStats(residuals)
}

func residualStats(residuals []float64) Stats {
	n := len(residuals)
	if n == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), residuals...)
	sort.Float64s(sorted)

	s := Stats{
		Samples: n,
		Min:     floats.Min(sorted),
		Max:     floats.Max(sorted),
		P50:     stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95:     stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
	if n > 1 {
		s.Mean, s.Stddev = stat.MeanStdDev(sorted, nil)
	} else {
		s.Mean = sorted[0]
	}

	below := 0
	for _, r := range sorted {
		if r < -belowZeroTolerance {
			below++
		}
	}
	s.BelowZeroFraction = float64(below) / float64(n)
	return s
}
