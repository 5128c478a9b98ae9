package pipeline

import (
	"log/slog"

	"github.com/james-see/drumstem2midi/pkg/audio"
	"github.com/james-see/drumstem2midi/pkg/classify"
	"github.com/james-see/drumstem2midi/pkg/config"
	"github.com/james-see/drumstem2midi/pkg/converter"
	"github.com/james-see/drumstem2midi/pkg/features"
	"github.com/james-see/drumstem2midi/pkg/metrics"
	"github.com/james-see/drumstem2midi/pkg/onset"
)

// OnsetConfig maps settings to the onset detector configuration
func OnsetConfig(s *config.Settings) onset.Config {
	return onset.Config{
		HopLength: s.Onset.HopLength,
		NFFT:      s.Onset.NFFT,
		NMels:     s.Onset.NMels,
		FMax:      s.Onset.FMax,
		Delta:     s.Onset.Delta,
		Wait:      s.Onset.Wait,
	}
}

// FeatureConfig maps settings to the window extractor configuration
func FeatureConfig(s *config.Settings) features.Config {
	return features.Config{
		Height:     s.Features.Height,
		Width:      s.Features.Width,
		WindowSize: s.Features.WindowSize,
		PreOffset:  s.Features.PreOffset,
		NMels:      s.Features.NMels,
		FMax:       s.Features.FMax,
		NFFT:       s.Features.NFFT,
		HopLength:  s.Features.HopLength,
	}
}

// MIDIWriter maps settings to a MIDI writer on the GM percussion channel
func MIDIWriter(s *config.Settings) *converter.MIDIWriter {
	w := converter.NewMIDIWriter()
	w.TicksPerBeat = uint16(s.MIDI.TicksPerBeat)
	w.Velocity = uint8(s.MIDI.Velocity)
	w.NoteLength = uint32(s.MIDI.NoteLength)
	return w
}

// NewFromSettings wires the default file-backed components from settings
func NewFromSettings(s *config.Settings, logger *slog.Logger, m *metrics.PipelineMetrics) (*Orchestrator, error) {
	classifier, err := classify.New(s.Classifier)
	if err != nil {
		return nil, err
	}
	return New(Options{
		Decoder:    audio.NewFileDecoder(logger),
		Detector:   onset.NewDetector(OnsetConfig(s)),
		Extractor:  features.NewExtractor(FeatureConfig(s)),
		Classifier: classifier,
		Writer:     MIDIWriter(s),
		DefaultBPM: s.MIDI.DefaultBPM,
		Logger:     logger,
		Metrics:    m,
	})
}

// RunOptionsFromSettings returns run options for the configured MIDI output
func RunOptionsFromSettings(s *config.Settings) RunOptions {
	return RunOptions{SaveMIDI: s.MIDI.Enabled, BPM: s.MIDI.BPM}
}
