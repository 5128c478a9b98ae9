package dsp

import "math"

// Resize bilinearly interpolates src ([rows][cols]) to height x width.
// Pixel centers are aligned (half-pixel mapping) and samples beyond the
// edges are clamped to the border.
func Resize(src [][]float64, height, width int) [][]float64 {
	out := make([][]float64, height)
	for r := range out {
		out[r] = make([]float64, width)
	}
	rows := len(src)
	if rows == 0 || len(src[0]) == 0 {
		return out
	}
	cols := len(src[0])

	rowScale := float64(rows) / float64(height)
	colScale := float64(cols) / float64(width)

	for r := range height {
		y := (float64(r)+0.5)*rowScale - 0.5
		y0, y1, fy := interpAxis(y, rows)
		for c := range width {
			x := (float64(c)+0.5)*colScale - 0.5
			x0, x1, fx := interpAxis(x, cols)
			top := src[y0][x0]*(1-fx) + src[y0][x1]*fx
			bottom := src[y1][x0]*(1-fx) + src[y1][x1]*fx
			out[r][c] = top*(1-fy) + bottom*fy
		}
	}
	return out
}

func interpAxis(pos float64, n int) (lo, hi int, frac float64) {
	if pos <= 0 {
		return 0, 0, 0
	}
	if pos >= float64(n-1) {
		return n - 1, n - 1, 0
	}
	lo = int(math.Floor(pos))
	return lo, lo + 1, pos - float64(lo)
}
