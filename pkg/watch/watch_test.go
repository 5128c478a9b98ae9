package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/james-see/drumstem2midi/pkg/jobs"
	"github.com/james-see/drumstem2midi/pkg/logging"
	"github.com/james-see/drumstem2midi/pkg/pipeline"
)

type recorder struct {
	mu    sync.Mutex
	stems []string
	opts  []pipeline.RunOptions
	seen  map[string]bool
}

func (r *recorder) Submit(stem string, ro pipeline.RunOptions) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = map[string]bool{}
	}
	if r.seen[stem] {
		return "id", jobs.ErrAlreadyRunning
	}
	r.seen[stem] = true
	r.stems = append(r.stems, stem)
	r.opts = append(r.opts, ro)
	return "id", nil
}

// finish marks the job for stem as done so the stem can be submitted again
func (r *recorder) finish(stem string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, stem)
}

func (r *recorder) options() []pipeline.RunOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.RunOptions(nil), r.opts...)
}

func (r *recorder) submitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stems...)
}

func TestMatches(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{DefaultPattern, "/music/song_drums.wav", true},
		{DefaultPattern, "song_drums.wav", true},
		{DefaultPattern, "/music/song_drums.onsets.json", false},
		{DefaultPattern, "/music/song_bass.wav", false},
		{"*-drums.*", "/music/song-drums.flac", true},
		{"[", "song_drums.wav", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.pattern, tt.path))
		})
	}
}

func TestNewValidates(t *testing.T) {
	_, err := New(&recorder{}, Options{})
	assert.Error(t, err)

	_, err = New(&recorder{}, Options{Dir: t.TempDir(), Pattern: "["})
	assert.Error(t, err)

	w, err := New(&recorder{}, Options{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DefaultPattern, w.opts.Pattern)
	assert.Equal(t, 2*time.Second, w.opts.Debounce)
}

func startWatcher(t *testing.T, rec *recorder, opts Options) (cancel func()) {
	t.Helper()
	opts.Logger = logging.Discard()
	w, err := New(rec, opts)
	require.NoError(t, err)

	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-w.Ready():
	case err := <-done:
		cancelCtx()
		t.Fatalf("watcher exited early: %v", err)
	case <-time.After(2 * time.Second):
		cancelCtx()
		t.Fatal("watcher never became ready")
	}

	return func() {
		cancelCtx()
		require.NoError(t, <-done)
	}
}

func TestWatchSubmitsNewStemsOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	rec := &recorder{}
	stop := startWatcher(t, rec, Options{Dir: dir, Debounce: 50 * time.Millisecond})

	stem := filepath.Join(dir, "song_drums.wav")
	f, err := os.Create(stem)
	require.NoError(t, err)
	for range 5 {
		_, err = f.Write(make([]byte, 1024))
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "song_bass.wav"), []byte("x"), 0o644))

	require.Eventually(t, func() bool { return len(rec.submitted()) == 1 }, 3*time.Second, 10*time.Millisecond)
	// let any trailing debounce fire before checking nothing else arrived
	time.Sleep(150 * time.Millisecond)
	stop()

	assert.Equal(t, []string{stem}, rec.submitted())
	assert.True(t, rec.options()[0].ForceOnsets)
}

func TestWatchRecomputesRewrittenStem(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	stop := startWatcher(t, rec, Options{
		Dir:        dir,
		Debounce:   30 * time.Millisecond,
		RunOptions: pipeline.RunOptions{SaveMIDI: true},
	})
	defer stop()

	stem := filepath.Join(dir, "song_drums.wav")
	require.NoError(t, os.WriteFile(stem, []byte("first"), 0o644))
	require.Eventually(t, func() bool { return len(rec.submitted()) == 1 }, 3*time.Second, 10*time.Millisecond)
	rec.finish(stem)

	require.NoError(t, os.WriteFile(stem, []byte("second take"), 0o644))
	require.Eventually(t, func() bool { return len(rec.submitted()) == 2 }, 3*time.Second, 10*time.Millisecond)

	for _, ro := range rec.options() {
		assert.True(t, ro.ForceOnsets)
		assert.True(t, ro.SaveMIDI)
	}
}

func TestWatchSubmitsExistingStems(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "old_drums.wav")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old_drums.hits.json"), []byte("{}"), 0o644))

	rec := &recorder{}
	stop := startWatcher(t, rec, Options{Dir: dir, Existing: true, Debounce: 20 * time.Millisecond})
	require.Eventually(t, func() bool { return len(rec.submitted()) == 1 }, 2*time.Second, 10*time.Millisecond)
	stop()

	assert.Equal(t, []string{existing}, rec.submitted())
	// untouched stems keep their cache
	assert.False(t, rec.options()[0].ForceOnsets)
}

func TestRunFailsOnMissingDir(t *testing.T) {
	w, err := New(&recorder{}, Options{Dir: filepath.Join(t.TempDir(), "missing"), Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Error(t, w.Run(context.Background()))
}
