package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Validate checks that sizes, rates and counts are usable
func (s *Settings) Validate() error {
	var errs []error
	positive := func(name string, v float64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, v))
		}
	}

	positive("onset.hoplength", float64(s.Onset.HopLength))
	positive("onset.nfft", float64(s.Onset.NFFT))
	positive("onset.nmels", float64(s.Onset.NMels))
	positive("onset.fmax", s.Onset.FMax)
	if s.Onset.Wait < 0 {
		errs = append(errs, fmt.Errorf("onset.wait must not be negative, got %d", s.Onset.Wait))
	}

	positive("features.height", float64(s.Features.Height))
	positive("features.width", float64(s.Features.Width))
	positive("features.windowsize", s.Features.WindowSize)
	positive("features.nmels", float64(s.Features.NMels))
	positive("features.fmax", s.Features.FMax)
	positive("features.nfft", float64(s.Features.NFFT))
	positive("features.hoplength", float64(s.Features.HopLength))
	if s.Features.PreOffset < 0 {
		errs = append(errs, fmt.Errorf("features.preoffset must not be negative, got %v", s.Features.PreOffset))
	}

	if s.MIDI.BPM < 0 {
		errs = append(errs, fmt.Errorf("midi.bpm must not be negative, got %v", s.MIDI.BPM))
	}
	positive("midi.defaultbpm", s.MIDI.DefaultBPM)
	if s.MIDI.TicksPerBeat <= 0 || s.MIDI.TicksPerBeat > 0x7FFF {
		errs = append(errs, fmt.Errorf("midi.ticksperbeat must be in 1..32767, got %d", s.MIDI.TicksPerBeat))
	}
	if s.MIDI.Velocity < 1 || s.MIDI.Velocity > 127 {
		errs = append(errs, fmt.Errorf("midi.velocity must be in 1..127, got %d", s.MIDI.Velocity))
	}
	positive("midi.notelength", float64(s.MIDI.NoteLength))

	if s.Server.Port < 1 || s.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", s.Server.Port))
	}
	positive("jobs.workers", float64(s.Jobs.Workers))
	positive("jobs.queuesize", float64(s.Jobs.QueueSize))
	positive("batch.concurrency", float64(s.Batch.Concurrency))

	if _, err := filepath.Match(s.Watch.Pattern, ""); err != nil {
		errs = append(errs, fmt.Errorf("watch.pattern is invalid: %w", err))
	}
	return errors.Join(errs...)
}
