package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactsFor(t *testing.T) {
	a := ArtifactsFor("/data/song_drums.wav")
	assert.Equal(t, "/data/song_drums.onsets.json", a.Onsets)
	assert.Equal(t, "/data/song_drums.mel_windows.npz", a.Windows)
	assert.Equal(t, "/data/song_drums.hits.json", a.Hits)
	assert.Equal(t, "/data/song_drums.drums.mid", a.MIDI)

	// only the last extension is replaced
	assert.Equal(t, "take.2.onsets.json", ArtifactsFor("take.2.flac").Onsets)
	assert.Equal(t, "noext.hits.json", ArtifactsFor("noext").Hits)
}

func TestFileStorePutGet(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "a_drums.wav"))

	assert.False(t, store.Exists(Onsets))
	_, err := store.Get(Onsets)
	assert.ErrorIs(t, err, ErrNotCached)

	require.NoError(t, store.Put(Onsets, []byte(`{"onsets":[]}`)))
	assert.True(t, store.Exists(Onsets))
	data, err := store.Get(Onsets)
	require.NoError(t, err)
	assert.Equal(t, `{"onsets":[]}`, string(data))

	require.NoError(t, store.Put(Onsets, []byte(`{"onsets":[1]}`)))
	data, err = store.Get(Onsets)
	require.NoError(t, err)
	assert.Equal(t, `{"onsets":[1]}`, string(data))

	// no temp files are left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a_drums.onsets.json", entries[0].Name())
}

func TestFileStorePutFailure(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing", "a_drums.wav"))
	assert.Error(t, store.Put(Hits, []byte("{}")))
	assert.False(t, store.Exists(Hits))
}

func TestInvalidateFrom(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "a_drums.wav"))
	for _, s := range Stages {
		require.NoError(t, store.Put(s, []byte("x")))
	}

	require.NoError(t, InvalidateFrom(store, Windows))
	assert.True(t, store.Exists(Onsets))
	assert.False(t, store.Exists(Windows))
	assert.False(t, store.Exists(Hits))
	assert.False(t, store.Exists(MIDI))

	// invalidating what is already gone is fine
	require.NoError(t, InvalidateFrom(store, Onsets))
	assert.False(t, store.Exists(Onsets))
}

// memStore is an in-memory Store for plan tests
type memStore map[Stage][]byte

func (m memStore) Exists(s Stage) bool {
	_, ok := m[s]
	return ok
}

func (m memStore) Get(s Stage) ([]byte, error) {
	if d, ok := m[s]; ok {
		return d, nil
	}
	return nil, ErrNotCached
}

func (m memStore) Put(s Stage, d []byte) error {
	m[s] = d
	return nil
}

func (m memStore) Invalidate(s Stage) error {
	delete(m, s)
	return nil
}

func (m memStore) Path(s Stage) string { return s.String() }

func TestPlanCascade(t *testing.T) {
	all := func() memStore {
		return memStore{Onsets: nil, Windows: nil, Hits: nil, MIDI: nil}
	}

	tests := []struct {
		name     string
		store    memStore
		force    Force
		saveMIDI bool
		want     []Stage
	}{
		{"everything cached", all(), Force{}, true, nil},
		{"cold start", memStore{}, Force{}, true, []Stage{Onsets, Windows, Hits, MIDI}},
		{"cold start without midi", memStore{}, Force{}, false, []Stage{Onsets, Windows, Hits}},
		{"force onsets", all(), Force{Onsets: true}, true, []Stage{Onsets, Windows, Hits, MIDI}},
		{"force windows", all(), Force{Windows: true}, true, []Stage{Windows, Hits, MIDI}},
		{"force windows without midi", all(), Force{Windows: true}, false, []Stage{Windows, Hits}},
		{"missing onsets", memStore{Windows: nil, Hits: nil, MIDI: nil}, Force{}, true, []Stage{Onsets, Windows, Hits, MIDI}},
		{"missing hits", memStore{Onsets: nil, Windows: nil, MIDI: nil}, Force{}, true, []Stage{Hits, MIDI}},
		{"missing midi", memStore{Onsets: nil, Windows: nil, Hits: nil}, Force{}, true, []Stage{MIDI}},
		{"missing midi not requested", memStore{Onsets: nil, Windows: nil, Hits: nil}, Force{}, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPlan(tt.store, tt.force, tt.saveMIDI)
			assert.Equal(t, tt.want, p.Stages())
			assert.Equal(t, len(tt.want) == 0, p.CacheHit())
		})
	}
}

func TestPlanString(t *testing.T) {
	p := NewPlan(memStore{Onsets: nil}, Force{}, false)
	assert.Equal(t, "onsets=cached windows=compute hits=compute midi=skip", p.String())
}
