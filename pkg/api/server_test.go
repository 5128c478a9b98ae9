package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/james-see/drumstem2midi/pkg/audio"
	"github.com/james-see/drumstem2midi/pkg/audio/audiotest"
	"github.com/james-see/drumstem2midi/pkg/cache"
	"github.com/james-see/drumstem2midi/pkg/config"
	"github.com/james-see/drumstem2midi/pkg/converter"
	"github.com/james-see/drumstem2midi/pkg/jobs"
	"github.com/james-see/drumstem2midi/pkg/logging"
	"github.com/james-see/drumstem2midi/pkg/metrics"
	"github.com/james-see/drumstem2midi/pkg/pipeline"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type submission struct {
	stem string
	ro   pipeline.RunOptions
}

type fakeQueue struct {
	submitted []submission
	err       error
	jobs      map[string]jobs.Job
}

func (q *fakeQueue) Submit(stem string, ro pipeline.RunOptions) (string, error) {
	if q.err != nil {
		return "existing-id", q.err
	}
	q.submitted = append(q.submitted, submission{stem: stem, ro: ro})
	return "job-1", nil
}

func (q *fakeQueue) Status(id string) (jobs.Job, bool) {
	j, ok := q.jobs[id]
	return j, ok
}

func newTestServer(t *testing.T, q *fakeQueue) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	reg := prometheus.NewRegistry()
	_, err := metrics.NewPipelineMetrics(reg)
	require.NoError(t, err)
	s := NewServer(Options{
		Jobs:       q,
		UploadDir:  dir,
		RunOptions: pipeline.RunOptions{SaveMIDI: true},
		Gatherer:   reg,
		Logger:     logging.Discard(),
	})
	return s, dir
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthAndLabels(t *testing.T) {
	s, _ := newTestServer(t, &fakeQueue{})

	for _, path := range []string{"/health", "/api/v1/health"} {
		w := do(s, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "healthy", decode(t, w)["status"])
	}

	w := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/labels", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["labels"], 8)
	notes := body["notes"].(map[string]any)
	assert.Equal(t, float64(36), notes["kick"])
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, &fakeQueue{})
	w := do(s, httptest.NewRequest(http.MethodOptions, "/api/v1/analyze", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func jsonRequest(t *testing.T, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAnalyzeByPath(t *testing.T) {
	q := &fakeQueue{}
	s, dir := newTestServer(t, q)
	stem := filepath.Join(dir, "song_drums.wav")
	require.NoError(t, os.WriteFile(stem, []byte("RIFF"), 0o644))

	w := do(s, jsonRequest(t, map[string]any{"path": stem, "force_windows": true, "bpm": 96}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "job-1", body["job_id"])

	require.Len(t, q.submitted, 1)
	got := q.submitted[0]
	assert.Equal(t, stem, got.stem)
	assert.True(t, got.ro.ForceWindows)
	assert.False(t, got.ro.ForceOnsets)
	assert.True(t, got.ro.SaveMIDI, "server default applies when save_midi is omitted")
	assert.Equal(t, 96.0, got.ro.BPM)
}

func TestAnalyzeConfinesPathsToUploadDir(t *testing.T) {
	q := &fakeQueue{}
	s, dir := newTestServer(t, q)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "song_drums.wav"), []byte("RIFF"), 0o644))

	outside := t.TempDir()
	escaped := filepath.Join(outside, "other_drums.wav")
	require.NoError(t, os.WriteFile(escaped, []byte("RIFF"), 0o644))
	rel, err := filepath.Rel(dir, escaped)
	require.NoError(t, err)

	for _, p := range []string{escaped, rel, "../other_drums.wav", "/etc/passwd.wav"} {
		w := do(s, jsonRequest(t, map[string]any{"path": p}))
		assert.Equal(t, http.StatusBadRequest, w.Code, p)
	}
	assert.Empty(t, q.submitted)
	assert.NoFileExists(t, cache.ArtifactsFor(escaped).Onsets)

	// relative names resolve inside the upload directory
	w := do(s, jsonRequest(t, map[string]any{"path": "song_drums.wav"}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, q.submitted, 1)
	assert.Equal(t, filepath.Join(dir, "song_drums.wav"), q.submitted[0].stem)
}

func TestAnalyzeRejectsBadRequests(t *testing.T) {
	q := &fakeQueue{}
	s, dir := newTestServer(t, q)

	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"missing stem", jsonRequest(t, map[string]any{"path": filepath.Join(dir, "nope_drums.wav")}), http.StatusNotFound},
		{"not audio", jsonRequest(t, map[string]any{"path": filepath.Join(dir, "song.mid")}), http.StatusBadRequest},
		{"no path", jsonRequest(t, map[string]any{}), http.StatusBadRequest},
		{"garbage", httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader("{")), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(s, tt.req)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, decode(t, w), "error")
		})
	}
	assert.Empty(t, q.submitted)
}

func TestAnalyzeUpload(t *testing.T) {
	q := &fakeQueue{}
	s, dir := newTestServer(t, q)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "../../beat_drums.wav")
	require.NoError(t, err)
	_, err = part.Write([]byte("RIFF....WAVE"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("force_onsets", "true"))
	require.NoError(t, mw.WriteField("save_midi", "false"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := do(s, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	// the upload lands in the upload directory whatever path the client sent
	saved := filepath.Join(dir, "beat_drums.wav")
	assert.FileExists(t, saved)
	require.Len(t, q.submitted, 1)
	assert.Equal(t, saved, q.submitted[0].stem)
	assert.True(t, q.submitted[0].ro.ForceOnsets)
	assert.False(t, q.submitted[0].ro.SaveMIDI)
}

func uploadRequest(t *testing.T, name string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAnalyzeUploadForcesOnsets(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		want   bool
	}{
		{"default", nil, true},
		{"opt out", map[string]string{"force_onsets": "false"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{}
			s, _ := newTestServer(t, q)
			w := do(s, uploadRequest(t, "song_drums.wav", []byte("RIFF"), tt.fields))
			require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
			require.Len(t, q.submitted, 1)
			assert.Equal(t, tt.want, q.submitted[0].ro.ForceOnsets)
		})
	}
}

// syncQueue runs each submission to completion before returning
type syncQueue struct {
	t    *testing.T
	pipe *pipeline.Orchestrator
	runs []*pipeline.Manifest
}

func (q *syncQueue) Submit(stem string, ro pipeline.RunOptions) (string, error) {
	m, err := q.pipe.Run(context.Background(), stem, ro)
	require.NoError(q.t, err)
	q.runs = append(q.runs, m)
	return "job-1", nil
}

func (q *syncQueue) Status(string) (jobs.Job, bool) { return jobs.Job{}, false }

func wavBytes(t *testing.T, w audio.Waveform) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	audiotest.WriteWAV(t, path, w)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestReuploadRecomputesFromNewAudio(t *testing.T) {
	pipe, err := pipeline.NewFromSettings(config.Defaults(), logging.Discard(), nil)
	require.NoError(t, err)
	q := &syncQueue{t: t, pipe: pipe}

	dir := t.TempDir()
	s := NewServer(Options{
		Jobs:       q,
		UploadDir:  dir,
		RunOptions: pipeline.RunOptions{SaveMIDI: true},
		Logger:     logging.Discard(),
	})

	kicks := audiotest.Render(22050, 2.5,
		audiotest.Strike{Time: 0.5, Voice: audiotest.Kick},
		audiotest.Strike{Time: 1.5, Voice: audiotest.Kick},
	)
	var strikes []audiotest.Strike
	for i := 0; i < 8; i++ {
		strikes = append(strikes, audiotest.Strike{Time: 0.25 + 0.5*float64(i), Voice: audiotest.Hat})
	}
	hats := audiotest.Render(22050, 4.5, strikes...)

	require.Equal(t, http.StatusAccepted, do(s, uploadRequest(t, "song_drums.wav", wavBytes(t, kicks), nil)).Code)
	first := pipeline.LoadHits(filepath.Join(dir, "song_drums.wav"))

	require.Equal(t, http.StatusAccepted, do(s, uploadRequest(t, "song_drums.wav", wavBytes(t, hats), nil)).Code)
	second := pipeline.LoadHits(filepath.Join(dir, "song_drums.wav"))

	require.Len(t, q.runs, 2)
	assert.Contains(t, q.runs[1].Recomputed, cache.Onsets)
	assert.NotEqual(t, first, second)
}

func TestAnalyzeUploadRejectsNonAudio(t *testing.T) {
	s, _ := newTestServer(t, &fakeQueue{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("hello"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, do(s, req).Code)
}

func TestAnalyzeQueueErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{jobs.ErrAlreadyRunning, http.StatusConflict},
		{jobs.ErrQueueFull, http.StatusServiceUnavailable},
		{jobs.ErrRunnerStopped, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			q := &fakeQueue{err: tt.err}
			s, dir := newTestServer(t, q)
			stem := filepath.Join(dir, "song_drums.wav")
			require.NoError(t, os.WriteFile(stem, nil, 0o644))

			w := do(s, jsonRequest(t, map[string]any{"path": stem}))
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusConflict {
				assert.Equal(t, "existing-id", decode(t, w)["job_id"])
			}
		})
	}
}

func TestJobStatus(t *testing.T) {
	now := time.Now()
	q := &fakeQueue{jobs: map[string]jobs.Job{
		"done": {
			ID:       "done",
			Stem:     "song_drums.wav",
			Status:   jobs.StatusCompleted,
			Created:  now,
			Started:  now,
			Finished: now,
			Manifest: &pipeline.Manifest{
				Hits:       "song_drums.hits.json",
				NumOnsets:  3,
				NumWindows: 2,
				NumHits:    2,
				Recomputed: []cache.Stage{cache.Windows, cache.Hits},
				Degraded:   pipeline.ErrEmptyWindowBatch,
			},
		},
		"queued": {ID: "queued", Status: jobs.StatusPending, Created: now},
	}}
	s, _ := newTestServer(t, q)

	w := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/done", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "completed", body["status"])
	m := body["manifest"].(map[string]any)
	assert.Equal(t, float64(2), m["num_hits"])
	assert.Equal(t, []any{"windows", "hits"}, m["recomputed"])
	assert.NotEmpty(t, m["warning"])

	w = do(s, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/queued", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "pending", body["status"])
	assert.NotContains(t, body, "manifest")
	assert.NotContains(t, body, "started")

	w = do(s, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHitsAlwaysOK(t *testing.T) {
	s, dir := newTestServer(t, &fakeQueue{})

	w := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/hits/unknown_drums.wav", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decode(t, w)["hits"])

	data, err := converter.MarshalHits([]converter.Hit{{Time: 0.5, Label: "kick"}, {Time: 1, Label: "snare", OnsetIndex: 1}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "song_drums.hits.json"), data, 0o644))

	w = do(s, httptest.NewRequest(http.MethodGet, "/api/v1/hits/song_drums.wav", nil))
	require.Equal(t, http.StatusOK, w.Code)
	hits := decode(t, w)["hits"].([]any)
	require.Len(t, hits, 2)
	assert.Equal(t, "snare", hits[1].(map[string]any)["label"])
}

func TestMIDIDownload(t *testing.T) {
	s, dir := newTestServer(t, &fakeQueue{})

	w := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/midi/song_drums.wav", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	data, err := converter.NewMIDIWriter().Write([]converter.Hit{{Time: 0, Label: "kick"}}, 120)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "song_drums.drums.mid"), data, 0o644))

	w = do(s, httptest.NewRequest(http.MethodGet, "/api/v1/midi/song_drums.wav", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/midi", w.Header().Get("Content-Type"))
	assert.Equal(t, data, w.Body.Bytes())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeQueue{})
	w := do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "drumstem_active_runs")
}
