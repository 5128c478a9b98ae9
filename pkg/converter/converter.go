package converter

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Format represents a file format handled by the pipeline
type Format string

const (
	FormatAudio   Format = "audio"
	FormatMIDI    Format = "midi"
	FormatJSON    Format = "json"
	FormatNPZ     Format = "npz"
	FormatUnknown Format = "unknown"
)

// DetectFormat detects the format of a file based on its extension
func DetectFormat(filename string) Format {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".wav", ".wave", ".flac":
		return FormatAudio
	case ".mid", ".midi":
		return FormatMIDI
	case ".json":
		return FormatJSON
	case ".npz":
		return FormatNPZ
	default:
		return FormatUnknown
	}
}

// DetectFormatFromContent detects format from file content
func DetectFormatFromContent(data []byte) Format {
	if len(data) < 4 {
		return FormatUnknown
	}

	switch {
	case string(data[:4]) == "MThd":
		return FormatMIDI
	case string(data[:4]) == "fLaC":
		return FormatAudio
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatAudio
	case string(data[:4]) == "PK\x03\x04":
		return FormatNPZ
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatUnknown
}

// IsStem reports whether path looks like a decodable drum stem
func IsStem(path string) bool {
	return DetectFormat(path) == FormatAudio
}
