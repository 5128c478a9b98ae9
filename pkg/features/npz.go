package features

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Member names inside the windows archive
const (
	WindowsMember    = "windows.npy"
	OnsetIndexMember = "onset_index.npy"
)

const npyMagic = "\x93NUMPY"

// ErrBadArchive is returned for archives that do not hold a window batch
var ErrBadArchive = errors.New("features: malformed window archive")

// MarshalNPZ encodes the batch as a NumPy .npz archive with a float32
// windows array shaped (N, H, W, 1) and an int64 onset index array.
// Output is deterministic for a given batch.
func MarshalNPZ(b *Batch) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	windows := make([]byte, 4*len(b.Data))
	for i, v := range b.Data {
		binary.LittleEndian.PutUint32(windows[4*i:], math.Float32bits(v))
	}
	if err := writeMember(zw, WindowsMember, "<f4", []int{b.Count, b.Height, b.Width, 1}, windows); err != nil {
		return nil, err
	}

	index := make([]byte, 8*len(b.OnsetIndex))
	for i, v := range b.OnsetIndex {
		binary.LittleEndian.PutUint64(index[8*i:], uint64(int64(v)))
	}
	if err := writeMember(zw, OnsetIndexMember, "<i8", []int{len(b.OnsetIndex)}, index); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

func writeMember(zw *zip.Writer, name, descr string, shape []int, payload []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Store,
		Modified: time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := w.Write(npyHeader(descr, shape)); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// npyHeader builds a version 1.0 header padded to a 64 byte boundary
func npyHeader(descr string, shape []int) []byte {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	tuple := strings.Join(dims, ", ")
	if len(shape) == 1 {
		tuple += ","
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, tuple)

	// magic(6) + version(2) + length(2) + dict + padding + newline
	total := 10 + len(dict) + 1
	pad := (64 - total%64) % 64
	dict += strings.Repeat(" ", pad) + "\n"

	out := make([]byte, 0, 10+len(dict))
	out = append(out, npyMagic...)
	out = append(out, 1, 0)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(dict)))
	return append(out, dict...)
}

// UnmarshalNPZ decodes an archive written by MarshalNPZ. Windows stored as
// float64 are narrowed to float32. A missing onset index is taken as the
// identity mapping.
func UnmarshalNPZ(data []byte) (*Batch, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadArchive, err)
	}

	var windows, index *npyArray
	for _, f := range zr.File {
		switch f.Name {
		case WindowsMember, OnsetIndexMember:
		default:
			continue
		}
		arr, err := readMember(f)
		if err != nil {
			return nil, err
		}
		if f.Name == WindowsMember {
			windows = arr
		} else {
			index = arr
		}
	}
	if windows == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrBadArchive, WindowsMember)
	}
	if len(windows.shape) != 4 || windows.shape[3] != 1 {
		return nil, fmt.Errorf("%w: windows shape %v", ErrBadArchive, windows.shape)
	}

	b := NewBatch(windows.shape[1], windows.shape[2])
	b.Count = windows.shape[0]
	if b.Data, err = windows.float32s(); err != nil {
		return nil, err
	}
	if len(b.Data) != b.Count*b.Height*b.Width {
		return nil, fmt.Errorf("%w: windows payload truncated", ErrBadArchive)
	}

	if index == nil {
		for i := range b.Count {
			b.OnsetIndex = append(b.OnsetIndex, i)
		}
		return b, nil
	}
	if b.OnsetIndex, err = index.ints(); err != nil {
		return nil, err
	}
	if len(b.OnsetIndex) != b.Count {
		return nil, fmt.Errorf("%w: %d onset indices for %d windows", ErrBadArchive, len(b.OnsetIndex), b.Count)
	}
	return b, nil
}

type npyArray struct {
	descr string
	shape []int
	data  []byte
}

func readMember(f *zip.File) (*npyArray, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadArchive, err)
	}
	defer func() { _ = rc.Close() }()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadArchive, err)
	}
	return parseNPY(raw)
}

func parseNPY(raw []byte) (*npyArray, error) {
	if len(raw) < 10 || string(raw[:6]) != npyMagic {
		return nil, fmt.Errorf("%w: not an npy array", ErrBadArchive)
	}

	var headerLen, offset int
	switch raw[6] {
	case 1:
		headerLen, offset = int(binary.LittleEndian.Uint16(raw[8:10])), 10
	case 2, 3:
		if len(raw) < 12 {
			return nil, fmt.Errorf("%w: truncated npy header", ErrBadArchive)
		}
		headerLen, offset = int(binary.LittleEndian.Uint32(raw[8:12])), 12
	default:
		return nil, fmt.Errorf("%w: npy version %d", ErrBadArchive, raw[6])
	}
	if offset+headerLen > len(raw) {
		return nil, fmt.Errorf("%w: truncated npy header", ErrBadArchive)
	}
	header := string(raw[offset : offset+headerLen])

	if strings.Contains(header, "'fortran_order': True") {
		return nil, fmt.Errorf("%w: fortran order is not supported", ErrBadArchive)
	}
	descr, err := headerField(header, "'descr':", "'", "'")
	if err != nil {
		return nil, err
	}
	tuple, err := headerField(header, "'shape':", "(", ")")
	if err != nil {
		return nil, err
	}

	var shape []int
	for _, part := range strings.Split(tuple, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: shape %q", ErrBadArchive, tuple)
		}
		shape = append(shape, n)
	}
	return &npyArray{descr: descr, shape: shape, data: raw[offset+headerLen:]}, nil
}

// headerField extracts the text between left and right following key
func headerField(header, key, left, right string) (string, error) {
	i := strings.Index(header, key)
	if i < 0 {
		return "", fmt.Errorf("%w: header lacks %s", ErrBadArchive, key)
	}
	rest := header[i+len(key):]
	start := strings.Index(rest, left)
	if start < 0 {
		return "", fmt.Errorf("%w: header lacks %s", ErrBadArchive, key)
	}
	rest = rest[start+len(left):]
	end := strings.Index(rest, right)
	if end < 0 {
		return "", fmt.Errorf("%w: header lacks %s", ErrBadArchive, key)
	}
	return rest[:end], nil
}

func (a *npyArray) float32s() ([]float32, error) {
	switch a.descr {
	case "<f4":
		out := make([]float32, len(a.data)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(a.data[4*i:]))
		}
		return out, nil
	case "<f8":
		out := make([]float32, len(a.data)/8)
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(a.data[8*i:])))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported window dtype %s", ErrBadArchive, a.descr)
	}
}

func (a *npyArray) ints() ([]int, error) {
	switch a.descr {
	case "<i8":
		out := make([]int, len(a.data)/8)
		for i := range out {
			out[i] = int(int64(binary.LittleEndian.Uint64(a.data[8*i:])))
		}
		return out, nil
	case "<i4":
		out := make([]int, len(a.data)/4)
		for i := range out {
			out[i] = int(int32(binary.LittleEndian.Uint32(a.data[4*i:])))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported index dtype %s", ErrBadArchive, a.descr)
	}
}
