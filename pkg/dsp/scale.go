package dsp

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Amin is the power floor applied before taking logarithms
const Amin = 1e-10

// DefaultTopDB is the dynamic range kept below the peak by PowerToDB
const DefaultTopDB = 80.0

// PowerToDB converts a power matrix to decibels in place:
// 10*log10(max(Amin, S)) - 10*log10(max(Amin, ref)), then clipped to at most
// topDB below the resulting maximum. A topDB <= 0 disables clipping.
func PowerToDB(s [][]float64, ref, topDB float64) {
	refDB := 10 * math.Log10(math.Max(Amin, ref))
	peak := math.Inf(-1)
	for _, row := range s {
		for i, v := range row {
			row[i] = 10*math.Log10(math.Max(Amin, v)) - refDB
			if row[i] > peak {
				peak = row[i]
			}
		}
	}
	if topDB <= 0 {
		return
	}
	floor := peak - topDB
	for _, row := range s {
		for i, v := range row {
			if v < floor {
				row[i] = floor
			}
		}
	}
}

// MatrixMax returns the largest value of a matrix, or 0 when it is empty
func MatrixMax(s [][]float64) float64 {
	peak := math.Inf(-1)
	for _, row := range s {
		if len(row) == 0 {
			continue
		}
		peak = math.Max(peak, floats.Max(row))
	}
	if math.IsInf(peak, -1) {
		return 0
	}
	return peak
}

// Median returns the median of values, averaging the two middle elements for
// even lengths. scratch is reused when large enough; values is not modified.
func Median(values, scratch []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	if cap(scratch) < n {
		scratch = make([]float64, n)
	}
	scratch = scratch[:n]
	copy(scratch, values)
	sort.Float64s(scratch)
	if n%2 == 1 {
		return scratch[n/2]
	}
	return (scratch[n/2-1] + scratch[n/2]) / 2
}
