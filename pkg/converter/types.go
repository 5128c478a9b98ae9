// Package converter renders classified drum hits as Standard MIDI Files and
// reads them back.
package converter

// Hit is one classified drum strike
type Hit struct {
	Time       float64 `json:"time"`        // seconds from the start of the stem
	Label      string  `json:"label"`       // drum label, e.g. "kick"
	OnsetIndex int     `json:"onset_index"` // index into the onset list the hit came from
}

// General MIDI percussion notes (channel 10)
const (
	NoteKick    uint8 = 36
	NoteSnare   uint8 = 38
	NoteHiHat   uint8 = 42
	NoteTom1    uint8 = 48
	NoteTom2    uint8 = 45
	NoteTom3    uint8 = 43
	NoteCrash   uint8 = 49
	NoteRide    uint8 = 51
	NoteDefault       = NoteSnare
)

// DrumMap maps drum labels to General MIDI percussion notes
var DrumMap = map[string]uint8{
	"kick":  NoteKick,
	"snare": NoteSnare,
	"hihat": NoteHiHat,
	"tom1":  NoteTom1,
	"tom2":  NoteTom2,
	"tom3":  NoteTom3,
	"crash": NoteCrash,
	"ride":  NoteRide,
}

// NoteFor returns the percussion note for a label, falling back to the snare
func NoteFor(label string) uint8 {
	if n, ok := DrumMap[label]; ok {
		return n
	}
	return NoteDefault
}

// LabelFor returns the label of a percussion note, or "" when unmapped
func LabelFor(note uint8) string {
	for label, n := range DrumMap {
		if n == note {
			return label
		}
	}
	return ""
}
