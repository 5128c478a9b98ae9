package converter

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// DefaultBPM is used when no positive tempo is given
const DefaultBPM = 120.0

// MIDIWriter renders hits as a single-track percussion SMF
type MIDIWriter struct {
	TicksPerBeat uint16
	Velocity     uint8
	NoteLength   uint32 // ticks between note on and note off
	Channel      uint8  // zero based; 9 is the GM percussion channel
}

// NewMIDIWriter creates a writer with General MIDI drum defaults
func NewMIDIWriter() *MIDIWriter {
	return &MIDIWriter{
		TicksPerBeat: 480,
		Velocity:     100,
		NoteLength:   10,
		Channel:      9,
	}
}

// SecondsToTicks converts seconds to ticks at the given tempo
func (w *MIDIWriter) SecondsToTicks(seconds, bpm float64) int64 {
	return int64(math.Round(seconds * float64(w.TicksPerBeat) * bpm / 60))
}

// Write renders hits at bpm. Hits are sorted by time first, keeping the input
// order of equal times. Each note on is placed at its delta from the previous
// note on, clamped to zero, and followed by a short note off.
func (w *MIDIWriter) Write(hits []Hit, bpm float64) ([]byte, error) {
	if bpm <= 0 {
		bpm = DefaultBPM
	}

	sorted := make([]Hit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(w.TicksPerBeat)

	var track smf.Track
	track.Add(0, smf.MetaTempo(bpm))
	track.Add(0, smf.MetaMeter(4, 4))

	var prevTick int64
	for _, h := range sorted {
		tick := w.SecondsToTicks(h.Time, bpm)
		delta := max(0, tick-prevTick)
		prevTick = tick

		note := NoteFor(h.Label)
		track.Add(uint32(delta), midi.NoteOn(w.Channel, note, w.Velocity))
		track.Add(w.NoteLength, midi.NoteOff(w.Channel, note))
	}
	track.Close(0)

	if err := s.Add(track); err != nil {
		return nil, fmt.Errorf("failed to add track: %w", err)
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write MIDI: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile renders hits and writes the SMF to filename
func (w *MIDIWriter) WriteFile(hits []Hit, bpm float64, filename string) error {
	data, err := w.Write(hits, bpm)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// ReadHits parses a percussion SMF written by MIDIWriter back into hits.
// Note on times follow the writer's framing: the note-off gap belongs to the
// note, so only note on deltas advance the timeline. Notes outside the drum
// map are labelled "snare". Tempo defaults to 120 BPM when the file has no
// tempo event. It returns the hits and the file tempo.
func ReadHits(data []byte) ([]Hit, float64, error) {
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse MIDI: %w", err)
	}

	tpb := uint16(480)
	if mt, ok := s.TimeFormat.(smf.MetricTicks); ok {
		tpb = mt.Resolution()
	}

	bpm := DefaultBPM
	hits := []Hit{}
	for _, track := range s.Tracks {
		var tick int64
		for _, ev := range track {
			msg := ev.Message

			// Tempo meta message (FF 51 03 tt tt tt)
			if len(msg) >= 6 && msg[0] == 0xFF && msg[1] == 0x51 && msg[2] == 0x03 {
				usPerBeat := uint32(msg[3])<<16 | uint32(msg[4])<<8 | uint32(msg[5])
				if usPerBeat > 0 {
					bpm = 60000000.0 / float64(usPerBeat)
				}
				continue
			}

			// Note On (0x90-0x9F) with non-zero velocity
			if len(msg) >= 3 && msg[0] >= 0x90 && msg[0] <= 0x9F && msg[2] > 0 {
				tick += int64(ev.Delta)
				label := LabelFor(msg[1])
				if label == "" {
					label = "snare"
				}
				hits = append(hits, Hit{
					Time:       float64(tick) * 60 / (float64(tpb) * bpm),
					Label:      label,
					OnsetIndex: len(hits),
				})
			}
		}
	}
	return hits, bpm, nil
}
