// Package main is the entry point for drumstem2midi CLI
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/james-see/drumstem2midi/pkg/api"
	"github.com/james-see/drumstem2midi/pkg/audio"
	"github.com/james-see/drumstem2midi/pkg/classify"
	"github.com/james-see/drumstem2midi/pkg/config"
	"github.com/james-see/drumstem2midi/pkg/converter"
	"github.com/james-see/drumstem2midi/pkg/features"
	"github.com/james-see/drumstem2midi/pkg/jobs"
	"github.com/james-see/drumstem2midi/pkg/logging"
	"github.com/james-see/drumstem2midi/pkg/metrics"
	"github.com/james-see/drumstem2midi/pkg/pipeline"
	"github.com/james-see/drumstem2midi/pkg/tui"
	"github.com/james-see/drumstem2midi/pkg/watch"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFile    string
	forceOnsets   bool
	forceWindows  bool
	watchExisting bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "drumstem2midi",
	Short: "Transcribe separated drum stems into labelled hits and MIDI",
	Long: `drumstem2midi detects drum strikes in a separated drum stem, classifies
each strike from a mel-spectrogram window and writes the hits as JSON and as a
General MIDI drum track.

Intermediate artifacts are cached next to the stem and reused on later runs.

Examples:
  drumstem2midi analyze song_drums.wav
  drumstem2midi analyze song_drums.wav --force-windows --bpm 96
  drumstem2midi batch ./stems --concurrency 4
  drumstem2midi hits song_drums.wav
  drumstem2midi inspect song_drums.mel_windows.npz
  drumstem2midi watch ./incoming
  drumstem2midi serve --port 8080
  drumstem2midi tui`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <stem>",
	Short: "Analyze one drum stem",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var hitsCmd = &cobra.Command{
	Use:   "hits <stem|hits.json>",
	Short: "Print the stored hits of a stem as JSON",
	Long:  `Prints the hits recorded for a stem. A stem that was never analyzed prints an empty list.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runHits,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Describe an audio file or pipeline artifact",
	Long:  `Auto-detects the file type (audio, windows archive, MIDI, JSON) and prints a summary.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE:  runServe,
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Analyze drum stems as they appear in a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive terminal UI",
	RunE:  runTUI,
}

// flagKeys maps command line flags onto configuration keys
var flagKeys = map[string]string{
	"log-level":   "log.level",
	"log-format":  "log.format",
	"log-file":    "log.file",
	"classifier":  "classifier",
	"midi":        "midi.enabled",
	"bpm":         "midi.bpm",
	"port":        "server.port",
	"upload-dir":  "server.uploaddir",
	"workers":     "jobs.workers",
	"concurrency": "batch.concurrency",
	"pattern":     "watch.pattern",
	"debounce":    "watch.debounce",
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default ./drumstem2midi.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().String("log-file", "", "Also write JSON logs to this rotated file")
	rootCmd.PersistentFlags().String("classifier", classify.KindHeuristic, "Classifier variant")

	// Run flags shared by every command that analyzes stems
	for _, cmd := range []*cobra.Command{analyzeCmd, batchCmd, watchCmd, serveCmd, tuiCmd} {
		cmd.Flags().Bool("midi", true, "Write a MIDI drum track")
		cmd.Flags().Float64("bpm", 0, "MIDI tempo (0 estimates it from the onsets)")
	}
	for _, cmd := range []*cobra.Command{analyzeCmd, batchCmd, watchCmd} {
		cmd.Flags().BoolVar(&forceOnsets, "force-onsets", false, "Recompute onsets and everything after them")
		cmd.Flags().BoolVar(&forceWindows, "force-windows", false, "Recompute windows and everything after them")
	}

	// batch command
	batchCmd.Flags().Int("concurrency", 4, "Stems analyzed in parallel")
	batchCmd.Flags().String("pattern", watch.DefaultPattern, "Stem file pattern when a directory is given")

	// watch command
	watchCmd.Flags().String("pattern", watch.DefaultPattern, "Stem file pattern")
	watchCmd.Flags().Duration("debounce", 0, "Quiet period after the last write before analyzing")
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "Also analyze matching stems already in the directory")
	watchCmd.Flags().Int("workers", 2, "Concurrent analyses")

	// serve command
	serveCmd.Flags().IntP("port", "p", 8080, "Server port")
	serveCmd.Flags().String("upload-dir", "uploads", "Directory for uploaded stems")
	serveCmd.Flags().Int("workers", 2, "Concurrent analyses")

	// Add commands
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(hitsCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(tuiCmd)
}

// app holds everything a command needs to run the pipeline
type app struct {
	settings *config.Settings
	logger   *slog.Logger
	registry *prometheus.Registry
	pipe     *pipeline.Orchestrator
	closeLog func() error
}

// setup loads configuration with the flags of cmd bound on top of it.
// Console logs go to console.
func setup(cmd *cobra.Command, console io.Writer) (*app, error) {
	v := config.New()
	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}
	settings, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(console, logging.Options{
		Level:     settings.Log.Level,
		Format:    settings.Log.Format,
		File:      settings.Log.File,
		MaxSizeMB: settings.Log.MaxSizeMB,
	})
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	pipe, err := pipeline.NewFromSettings(settings, logger, m)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	return &app{
		settings: settings,
		logger:   logger,
		registry: registry,
		pipe:     pipe,
		closeLog: closeLog,
	}, nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

func (a *app) runOptions() pipeline.RunOptions {
	ro := pipeline.RunOptionsFromSettings(a.settings)
	ro.ForceOnsets = forceOnsets
	ro.ForceWindows = forceWindows
	return ro
}

func (a *app) newRunner() *jobs.Runner {
	return jobs.NewRunner(a.pipe, jobs.Options{
		Workers:   a.settings.Jobs.Workers,
		QueueSize: a.settings.Jobs.QueueSize,
		StatusTTL: a.settings.Jobs.StatusTTL,
		Logger:    a.logger,
	})
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.closeLog() }()

	m, err := a.pipe.Run(cmd.Context(), args[0], a.runOptions())
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	printManifest(m)
	return nil
}

func printManifest(m *pipeline.Manifest) {
	fmt.Printf("Analyzed %s: %d onsets, %d windows, %d hits\n", m.Stem, m.NumOnsets, m.NumWindows, m.NumHits)
	fmt.Printf("  onsets:  %s\n", m.Onsets)
	fmt.Printf("  windows: %s\n", m.Windows)
	fmt.Printf("  hits:    %s\n", m.Hits)
	if m.MIDI != "" {
		fmt.Printf("  midi:    %s (%.1f BPM)\n", m.MIDI, m.BPM)
	}
	if len(m.Recomputed) == 0 {
		fmt.Println("  all stages reused from cache")
	} else {
		names := make([]string, len(m.Recomputed))
		for i, s := range m.Recomputed {
			names[i] = s.String()
		}
		fmt.Printf("  recomputed: %s\n", strings.Join(names, ", "))
	}
	if m.Degraded != nil {
		fmt.Printf("  warning: %v\n", m.Degraded)
	}
}

func runHits(_ *cobra.Command, args []string) error {
	data, err := converter.MarshalHits(pipeline.LoadHits(args[0]))
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runInspect(_ *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	format := converter.DetectFormatFromContent(data)
	if format == converter.FormatUnknown {
		format = converter.DetectFormat(path)
	}

	switch format {
	case converter.FormatAudio:
		info, err := audio.ReadInfo(path)
		if err != nil {
			return err
		}
		fmt.Printf("Audio: %s\n", filepath.Base(path))
		fmt.Printf("  sample rate: %d Hz\n", info.SampleRate)
		fmt.Printf("  channels:    %d\n", info.NumChannels)
		fmt.Printf("  bit depth:   %d\n", info.BitDepth)
		fmt.Printf("  duration:    %.3f s\n", info.Duration)
	case converter.FormatNPZ:
		return inspectWindows(data)
	case converter.FormatMIDI:
		hits, bpm, err := converter.ReadHits(data)
		if err != nil {
			return err
		}
		fmt.Printf("MIDI: %d hits at %.1f BPM\n", len(hits), bpm)
		printLabelCounts(hits)
	case converter.FormatJSON:
		return inspectJSON(data)
	default:
		return fmt.Errorf("unsupported file: %s", path)
	}
	return nil
}

func inspectWindows(data []byte) error {
	batch, err := features.UnmarshalNPZ(data)
	if err != nil {
		return err
	}
	fmt.Printf("Windows: %d tiles of %dx%d\n", batch.Count, batch.Height, batch.Width)
	fmt.Println("  tile  onset    low  lowmid    mid  highmid   high  label")
	for i := range batch.Count {
		tile := batch.Tile(i)
		b := classify.BandEnergies(tile)
		fmt.Printf("  %4d  %5d  %5.3f   %5.3f  %5.3f    %5.3f  %5.3f  %s\n",
			i, batch.OnsetIndex[i], b.Low, b.LowMid, b.Mid, b.HighMid, b.High, classify.Decide(b))
	}
	return nil
}

func inspectJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err == nil {
		if raw, ok := doc["onsets"]; ok {
			var onsets []float64
			if err := json.Unmarshal(raw, &onsets); err != nil {
				return fmt.Errorf("failed to parse onsets: %w", err)
			}
			fmt.Printf("Onsets: %d\n", len(onsets))
			if len(onsets) > 0 {
				fmt.Printf("  first %.3f s, last %.3f s\n", onsets[0], onsets[len(onsets)-1])
			}
			return nil
		}
	}

	hits, err := converter.UnmarshalHits(data)
	if err != nil {
		return err
	}
	fmt.Printf("Hits: %d\n", len(hits))
	printLabelCounts(hits)
	return nil
}

func printLabelCounts(hits []converter.Hit) {
	counts := map[string]int{}
	for _, h := range hits {
		counts[h.Label]++
	}
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		fmt.Printf("  %-6s %d\n", l, counts[l])
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.closeLog() }()

	runner := a.newRunner()
	defer runner.Stop()

	srv := api.NewServer(api.Options{
		Jobs:       runner,
		UploadDir:  a.settings.Server.UploadDir,
		RunOptions: pipeline.RunOptionsFromSettings(a.settings),
		Gatherer:   a.registry,
		Logger:     a.logger,
	})

	port := a.settings.Server.Port
	fmt.Printf("Starting drumstem2midi API server on port %d...\n", port)
	fmt.Printf("Swagger docs available at http://localhost:%d/swagger/index.html\n", port)
	return srv.ListenAndServe(cmd.Context(), port)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.closeLog() }()

	runner := a.newRunner()
	defer runner.Stop()

	w, err := watch.New(runner, watch.Options{
		Dir:        args[0],
		Pattern:    a.settings.Watch.Pattern,
		Debounce:   a.settings.Watch.Debounce,
		Existing:   watchExisting,
		RunOptions: a.runOptions(),
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Watching %s for %s (ctrl+c to stop)\n", args[0], a.settings.Watch.Pattern)
	if err := w.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runTUI(cmd *cobra.Command, _ []string) error {
	// console log lines would tear the alternate screen
	a, err := setup(cmd, io.Discard)
	if err != nil {
		return err
	}
	defer func() { _ = a.closeLog() }()

	return tui.Run(a.pipe, pipeline.RunOptionsFromSettings(a.settings))
}
