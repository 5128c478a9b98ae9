package cache

import "strings"

// Force requests recomputation of stages regardless of cached artifacts
type Force struct {
	Onsets  bool
	Windows bool
}

// Plan records which stages a run recomputes
type Plan struct {
	recompute map[Stage]bool
	saveMIDI  bool
}

// NewPlan decides per stage whether to recompute. A forced or missing stage
// forces every later stage. MIDI is planned only when saveMIDI is set.
func NewPlan(store Store, force Force, saveMIDI bool) Plan {
	onsets := force.Onsets || !store.Exists(Onsets)
	windows := onsets || force.Windows || !store.Exists(Windows)
	hits := windows || !store.Exists(Hits)
	midi := saveMIDI && (hits || !store.Exists(MIDI))

	return Plan{
		recompute: map[Stage]bool{
			Onsets:  onsets,
			Windows: windows,
			Hits:    hits,
			MIDI:    midi,
		},
		saveMIDI: saveMIDI,
	}
}

// Recompute reports whether stage s must be computed fresh
func (p Plan) Recompute(s Stage) bool {
	return p.recompute[s]
}

// Stages returns the stages to recompute in order
func (p Plan) Stages() []Stage {
	var out []Stage
	for _, s := range Stages {
		if p.recompute[s] {
			out = append(out, s)
		}
	}
	return out
}

// CacheHit reports whether the run can be served entirely from the cache
func (p Plan) CacheHit() bool {
	return len(p.Stages()) == 0
}

func (p Plan) String() string {
	var parts []string
	for _, s := range Stages {
		if s == MIDI && !p.saveMIDI {
			parts = append(parts, s.String()+"=skip")
			continue
		}
		state := "cached"
		if p.recompute[s] {
			state = "compute"
		}
		parts = append(parts, s.String()+"="+state)
	}
	return strings.Join(parts, " ")
}
