// Package pipeline runs the staged drum analysis of a stem: onsets, feature
// windows, classified hits and the MIDI rendering, reusing cached artifacts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/james-see/drumstem2midi/pkg/audio"
	"github.com/james-see/drumstem2midi/pkg/cache"
	"github.com/james-see/drumstem2midi/pkg/classify"
	"github.com/james-see/drumstem2midi/pkg/converter"
	"github.com/james-see/drumstem2midi/pkg/features"
	"github.com/james-see/drumstem2midi/pkg/metrics"
	"github.com/james-see/drumstem2midi/pkg/onset"
)

// OnsetDetector finds onset times in a waveform
type OnsetDetector interface {
	Detect(w audio.Waveform) []float64
}

// WindowExtractor turns onsets into feature tiles
type WindowExtractor interface {
	ExtractAll(w audio.Waveform, onsets []float64) *features.Batch
}

// TrackWriter renders hits as a symbolic track
type TrackWriter interface {
	Write(hits []converter.Hit, bpm float64) ([]byte, error)
}

// StoreFactory returns the artifact store for a stem
type StoreFactory func(stemPath string) cache.Store

// Options holds the components of an Orchestrator
type Options struct {
	Decoder    audio.Decoder
	Detector   OnsetDetector
	Extractor  WindowExtractor
	Classifier classify.Classifier
	Writer     TrackWriter

	// Stores defaults to artifacts next to the stem on disk
	Stores StoreFactory
	// Tempo estimates BPM from onsets; 0 means unknown
	Tempo      func(onsets []float64) float64
	DefaultBPM float64

	Logger  *slog.Logger
	Metrics *metrics.PipelineMetrics
}

// RunOptions controls a single run
type RunOptions struct {
	ForceOnsets  bool
	ForceWindows bool
	SaveMIDI     bool
	BPM          float64 // 0 estimates the tempo from the onsets
}

// Manifest describes the artifacts of a finished run
type Manifest struct {
	Stem       string
	Onsets     string
	Windows    string
	Hits       string
	MIDI       string // empty when no MIDI was requested
	NumOnsets  int
	NumWindows int
	NumHits    int
	BPM        float64 // tempo of the MIDI file, 0 when none was written or found
	Recomputed []cache.Stage
	// Degraded is set when the run succeeded with a suspicious result
	Degraded error
}

// Orchestrator sequences the pipeline stages for one stem at a time.
// Runs on different stems may proceed concurrently.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger
}

// New validates opts and creates an orchestrator
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Decoder == nil:
		return nil, errors.New("pipeline: decoder is required")
	case opts.Detector == nil:
		return nil, errors.New("pipeline: onset detector is required")
	case opts.Extractor == nil:
		return nil, errors.New("pipeline: window extractor is required")
	case opts.Classifier == nil:
		return nil, errors.New("pipeline: classifier is required")
	case opts.Writer == nil:
		return nil, errors.New("pipeline: track writer is required")
	}
	if opts.Stores == nil {
		opts.Stores = func(stemPath string) cache.Store { return cache.NewFileStore(stemPath) }
	}
	if opts.Tempo == nil {
		opts.Tempo = onset.EstimateTempo
	}
	if opts.DefaultBPM <= 0 {
		opts.DefaultBPM = converter.DefaultBPM
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{opts: opts, logger: logger.With("module", "pipeline")}, nil
}

// run carries the state of one Run call
type run struct {
	o       *Orchestrator
	stem    string
	store   cache.Store
	logger  *slog.Logger
	wave    *audio.Waveform
	fresh   map[cache.Stage]bool
	touched []cache.Stage
}

// Run analyzes stemPath, loading each stage from the cache unless it is
// forced, missing, or downstream of a recomputed stage. Each stage is
// persisted as soon as it completes, so a later failure keeps earlier work.
func (o *Orchestrator) Run(ctx context.Context, stemPath string, ro RunOptions) (m *Manifest, err error) {
	done := o.opts.Metrics.RunStarted()
	defer func() {
		done()
		o.opts.Metrics.RecordRun(err)
	}()

	info, statErr := os.Stat(stemPath)
	if statErr != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInputNotFound, stemPath)
	}

	store := o.opts.Stores(stemPath)
	plan := cache.NewPlan(store, cache.Force{Onsets: ro.ForceOnsets, Windows: ro.ForceWindows}, ro.SaveMIDI)
	r := &run{
		o:      o,
		stem:   stemPath,
		store:  store,
		logger: o.logger.With("stem", stemPath),
		fresh:  map[cache.Stage]bool{},
	}
	for _, s := range cache.Stages {
		r.fresh[s] = plan.Recompute(s)
	}
	r.logger.Debug("run planned", "plan", plan.String())

	m = &Manifest{
		Stem:    stemPath,
		Onsets:  store.Path(cache.Onsets),
		Windows: store.Path(cache.Windows),
		Hits:    store.Path(cache.Hits),
	}

	onsets, err := r.onsets()
	if err != nil {
		return nil, err
	}
	m.NumOnsets = len(onsets)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var batch *features.Batch
	if r.fresh[cache.Windows] {
		if batch, err = r.windows(onsets); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hits, err := r.hits(onsets, batch)
	if err != nil {
		return nil, err
	}
	m.NumHits = len(hits)
	// every surviving window yields exactly one hit
	m.NumWindows = len(hits)
	if batch != nil {
		m.NumWindows = batch.Count
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if ro.SaveMIDI {
		m.MIDI = store.Path(cache.MIDI)
		if m.BPM, err = r.midi(onsets, hits, ro.BPM); err != nil {
			return nil, err
		}
	}

	if m.NumOnsets > 0 && m.NumWindows == 0 {
		m.Degraded = ErrEmptyWindowBatch
		r.logger.Warn("onsets produced no feature windows", "onsets", m.NumOnsets)
	}
	m.Recomputed = r.touched
	r.logger.Info("run finished",
		"onsets", m.NumOnsets,
		"windows", m.NumWindows,
		"hits", m.NumHits,
		"recomputed", len(m.Recomputed))
	return m, nil
}

// cascade marks stage s and every later stage for recomputation
func (r *run) cascade(s cache.Stage) {
	for _, later := range cache.Stages {
		if later >= s {
			r.fresh[later] = true
		}
	}
}

// decode reads the stem once per run
func (r *run) decode() (audio.Waveform, error) {
	if r.wave == nil {
		w := r.o.opts.Decoder.Decode(r.stem)
		r.wave = &w
	}
	if r.wave.IsEmpty() {
		return audio.Waveform{}, ErrEmptyAudio
	}
	return *r.wave, nil
}

// load returns the cached artifact of s, or nil when it must be computed.
// An unreadable artifact forces s and everything after it.
func (r *run) load(s cache.Stage) []byte {
	if r.fresh[s] {
		r.o.opts.Metrics.RecordCache(s.String(), false)
		return nil
	}
	data, err := r.store.Get(s)
	if err != nil {
		r.logger.Warn("cached artifact unreadable, recomputing", "stage", s.String(), "error", err)
		r.cascade(s)
		r.o.opts.Metrics.RecordCache(s.String(), false)
		return nil
	}
	r.o.opts.Metrics.RecordCache(s.String(), true)
	return data
}

// persist stores a freshly computed artifact and drops the stale artifacts
// of later stages
func (r *run) persist(s cache.Stage, data []byte, started time.Time) error {
	if err := r.store.Put(s, data); err != nil {
		return writeErr(s, err)
	}
	r.touched = append(r.touched, s)
	if s < cache.MIDI {
		if err := cache.InvalidateFrom(r.store, s+1); err != nil {
			r.logger.Warn("failed to drop stale artifacts", "stage", s.String(), "error", err)
		}
	}
	r.o.opts.Metrics.RecordStage(s.String(), time.Since(started).Seconds())
	return nil
}

func (r *run) onsets() ([]float64, error) {
	if data := r.load(cache.Onsets); data != nil {
		onsets, err := unmarshalOnsets(data)
		if err == nil {
			r.logger.Debug("loaded onsets", "count", len(onsets))
			return onsets, nil
		}
		r.logger.Warn("cached onsets corrupt, recomputing", "error", err)
		r.cascade(cache.Onsets)
	}

	started := time.Now()
	w, err := r.decode()
	if err != nil {
		return nil, stageErr(cache.Onsets, err)
	}
	onsets := r.o.opts.Detector.Detect(w)

	data, err := marshalOnsets(onsets)
	if err != nil {
		return nil, stageErr(cache.Onsets, err)
	}
	if err := r.persist(cache.Onsets, data, started); err != nil {
		return nil, err
	}
	r.logger.Info("detected onsets", "count", len(onsets))
	return onsets, nil
}

func (r *run) windows(onsets []float64) (*features.Batch, error) {
	started := time.Now()
	w, err := r.decode()
	if err != nil {
		return nil, stageErr(cache.Windows, err)
	}
	batch := r.o.opts.Extractor.ExtractAll(w, onsets)

	data, err := features.MarshalNPZ(batch)
	if err != nil {
		return nil, stageErr(cache.Windows, err)
	}
	if err := r.persist(cache.Windows, data, started); err != nil {
		return nil, err
	}
	r.logger.Info("extracted feature windows", "count", batch.Count)
	return batch, nil
}

// cachedWindows loads the window batch when hits must be recomputed from it
func (r *run) cachedWindows(onsets []float64) (*features.Batch, error) {
	if data := r.load(cache.Windows); data != nil {
		batch, err := features.UnmarshalNPZ(data)
		if err == nil {
			return batch, nil
		}
		r.logger.Warn("cached windows corrupt, recomputing", "error", err)
		r.cascade(cache.Windows)
	}
	return r.windows(onsets)
}

func (r *run) hits(onsets []float64, batch *features.Batch) ([]converter.Hit, error) {
	if data := r.load(cache.Hits); data != nil {
		hits, err := converter.UnmarshalHits(data)
		if err == nil {
			r.logger.Debug("loaded hits", "count", len(hits))
			return hits, nil
		}
		r.logger.Warn("cached hits corrupt, recomputing", "error", err)
		r.cascade(cache.Hits)
	}

	if batch == nil {
		var err error
		if batch, err = r.cachedWindows(onsets); err != nil {
			return nil, err
		}
	}

	started := time.Now()
	labels := r.o.opts.Classifier.ClassifyBatch(batch)
	hits := make([]converter.Hit, 0, len(labels))
	for i, label := range labels {
		idx := i
		if i < len(batch.OnsetIndex) {
			idx = batch.OnsetIndex[i]
		}
		if idx < 0 || idx >= len(onsets) {
			r.logger.Warn("window refers to a missing onset, skipping", "window", i, "onset_index", idx)
			continue
		}
		hits = append(hits, converter.Hit{Time: onsets[idx], Label: label, OnsetIndex: idx})
		r.o.opts.Metrics.RecordHit(label)
	}

	data, err := converter.MarshalHits(hits)
	if err != nil {
		return nil, stageErr(cache.Hits, err)
	}
	if err := r.persist(cache.Hits, data, started); err != nil {
		return nil, err
	}
	r.logger.Info("classified hits", "count", len(hits), "classifier", r.o.opts.Classifier.Name())
	return hits, nil
}

// midi writes the track when needed and returns its tempo
func (r *run) midi(onsets []float64, hits []converter.Hit, bpm float64) (float64, error) {
	if data := r.load(cache.MIDI); data != nil {
		if _, tempo, err := converter.ReadHits(data); err == nil {
			return tempo, nil
		}
		r.logger.Warn("cached MIDI corrupt, rewriting")
	}

	started := time.Now()
	if bpm <= 0 {
		bpm = r.o.opts.Tempo(onsets)
		if bpm <= 0 {
			bpm = r.o.opts.DefaultBPM
		}
		r.logger.Debug("tempo chosen from onsets", "bpm", bpm)
	}

	data, err := r.o.opts.Writer.Write(hits, bpm)
	if err != nil {
		return 0, stageErr(cache.MIDI, err)
	}
	if err := r.persist(cache.MIDI, data, started); err != nil {
		return 0, err
	}
	r.logger.Info("wrote MIDI", "path", r.store.Path(cache.MIDI), "bpm", bpm)
	return bpm, nil
}
