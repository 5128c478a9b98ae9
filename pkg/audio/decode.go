package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/tphakala/flac"
)

// Decoder turns an audio file into a waveform.
// Implementations never fail loudly: undecodable input yields an empty Waveform.
type Decoder interface {
	Decode(path string) Waveform
}

// Info describes an audio file without decoding all of it
type Info struct {
	SampleRate  int
	NumChannels int
	BitDepth    int
	Duration    float64
}

// FileDecoder decodes WAV and FLAC files from disk, averaging channels to mono
type FileDecoder struct {
	logger *slog.Logger
}

// NewFileDecoder creates a decoder that reports decode failures to logger
func NewFileDecoder(logger *slog.Logger) *FileDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileDecoder{logger: logger.With("module", "audio")}
}

// Decode reads path into a mono waveform. Any failure is logged and
// returned as the empty sentinel.
func (d *FileDecoder) Decode(path string) Waveform {
	w, err := DecodeFile(path)
	if err != nil {
		d.logger.Warn("failed to decode audio", "path", path, "error", err)
		return Waveform{}
	}
	return w
}

// DecodeFile reads a WAV or FLAC file into a mono waveform
func DecodeFile(path string) (Waveform, error) {
	file, err := os.Open(path)
	if err != nil {
		return Waveform{}, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer func() { _ = file.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return decodeWAV(file)
	case ".flac":
		return decodeFLAC(file)
	default:
		return Waveform{}, fmt.Errorf("unsupported audio format: %s", filepath.Ext(path))
	}
}

// ReadInfo returns the stream parameters of a WAV or FLAC file
func ReadInfo(path string) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer func() { _ = file.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		decoder := wav.NewDecoder(file)
		decoder.ReadInfo()
		if !decoder.IsValidFile() {
			return Info{}, errors.New("invalid WAV file format")
		}
		dur, err := decoder.Duration()
		if err != nil {
			return Info{}, fmt.Errorf("failed to read WAV duration: %w", err)
		}
		return Info{
			SampleRate:  int(decoder.SampleRate),
			NumChannels: int(decoder.NumChans),
			BitDepth:    int(decoder.BitDepth),
			Duration:    dur.Seconds(),
		}, nil
	case ".flac":
		decoder, err := flac.NewDecoder(file)
		if err != nil {
			return Info{}, fmt.Errorf("invalid FLAC file: %w", err)
		}
		info := Info{
			SampleRate:  decoder.SampleRate,
			NumChannels: decoder.NChannels,
			BitDepth:    decoder.BitsPerSample,
		}
		if decoder.SampleRate > 0 {
			info.Duration = float64(decoder.TotalSamples) / float64(decoder.SampleRate)
		}
		return info, nil
	default:
		return Info{}, fmt.Errorf("unsupported audio format: %s", filepath.Ext(path))
	}
}

// divisorFor returns the full-scale value for a PCM bit depth
func divisorFor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 8:
		return 128.0, nil
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported audio file bit depth: %d", bitDepth)
	}
}

func decodeWAV(r io.ReadSeeker) (Waveform, error) {
	decoder := wav.NewDecoder(r)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return Waveform{}, errors.New("input is not a valid WAV audio file")
	}

	divisor, err := divisorFor(int(decoder.BitDepth))
	if err != nil {
		return Waveform{}, err
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("failed to read PCM data: %w", err)
	}

	channels := int(decoder.NumChans)
	if channels < 1 {
		return Waveform{}, fmt.Errorf("unsupported number of channels: %d", channels)
	}

	// 8-bit WAV is unsigned
	offset := 0
	if decoder.BitDepth == 8 {
		offset = 128
	}

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += float32(buf.Data[i*channels+ch]-offset) / divisor
		}
		samples[i] = sum / float32(channels)
	}

	return Waveform{Samples: samples, SampleRate: int(decoder.SampleRate)}, nil
}

func decodeFLAC(r io.Reader) (Waveform, error) {
	decoder, err := flac.NewDecoder(r)
	if err != nil {
		return Waveform{}, fmt.Errorf("invalid FLAC file: %w", err)
	}

	divisor, err := divisorFor(decoder.BitsPerSample)
	if err != nil {
		return Waveform{}, err
	}
	channels := decoder.NChannels
	if channels < 1 {
		return Waveform{}, fmt.Errorf("unsupported number of channels: %d", channels)
	}
	bytesPerSample := decoder.BitsPerSample / 8
	frameSize := bytesPerSample * channels

	var samples []float32
	for {
		frame, err := decoder.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return Waveform{}, fmt.Errorf("failed to decode FLAC frame: %w", err)
		}

		// Frames are interleaved little-endian PCM
		for i := 0; i+frameSize <= len(frame); i += frameSize {
			var sum float32
			for ch := range channels {
				sum += float32(pcmSample(frame[i+ch*bytesPerSample:], bytesPerSample)) / divisor
			}
			samples = append(samples, sum/float32(channels))
		}
	}

	return Waveform{Samples: samples, SampleRate: decoder.SampleRate}, nil
}

func pcmSample(b []byte, width int) int32 {
	switch width {
	case 1:
		return int32(b[0]) - 128
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 3:
		// sign-extend 24-bit
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		return (v << 8) >> 8
	default:
		return int32(binary.LittleEndian.Uint32(b))
	}
}
