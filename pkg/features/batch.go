package features

import "fmt"

// Tile is one normalized spectrogram image, row-major with row 0 at the
// lowest mel band.
type Tile struct {
	Height, Width int
	Data          []float32
}

// At returns the value at row r, column c
func (t Tile) At(r, c int) float64 {
	return float64(t.Data[r*t.Width+c])
}

// Batch holds Count tiles of identical shape, logically (Count, Height,
// Width, 1). OnsetIndex[i] is the onset that tile i was derived from.
type Batch struct {
	Count      int
	Height     int
	Width      int
	Data       []float32
	OnsetIndex []int
}

// NewBatch returns an empty batch with the given tile shape
func NewBatch(height, width int) *Batch {
	return &Batch{Height: height, Width: width, Data: []float32{}, OnsetIndex: []int{}}
}

// Append adds a tile derived from onset index onset
func (b *Batch) Append(t Tile, onset int) {
	if t.Height != b.Height || t.Width != b.Width {
		panic(fmt.Sprintf("features: tile %dx%d does not fit batch %dx%d", t.Height, t.Width, b.Height, b.Width))
	}
	b.Data = append(b.Data, t.Data...)
	b.OnsetIndex = append(b.OnsetIndex, onset)
	b.Count++
}

// Tile returns a view of tile i sharing the batch storage
func (b *Batch) Tile(i int) Tile {
	size := b.Height * b.Width
	return Tile{Height: b.Height, Width: b.Width, Data: b.Data[i*size : (i+1)*size]}
}

// Empty reports whether the batch holds no tiles
func (b *Batch) Empty() bool {
	return b == nil || b.Count == 0
}
