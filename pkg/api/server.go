// Package api provides the REST API server for drumstem2midi
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/james-see/drumstem2midi/pkg/cache"
	"github.com/james-see/drumstem2midi/pkg/classify"
	"github.com/james-see/drumstem2midi/pkg/converter"
	"github.com/james-see/drumstem2midi/pkg/jobs"
	"github.com/james-see/drumstem2midi/pkg/pipeline"
)

// @title DrumStem2MIDI API
// @version 1.0
// @description API for transcribing drum stems into labelled hits and MIDI
// @host localhost:8080
// @BasePath /api/v1

// JobQueue accepts analyses and reports their status
type JobQueue interface {
	Submit(stemPath string, ro pipeline.RunOptions) (string, error)
	Status(id string) (jobs.Job, bool)
}

// Options configures the server
type Options struct {
	Jobs       JobQueue
	UploadDir  string
	RunOptions pipeline.RunOptions // defaults for submitted analyses
	Gatherer   prometheus.Gatherer // nil disables /metrics
	Logger     *slog.Logger
}

// Server serves the HTTP API
type Server struct {
	opts   Options
	logger *slog.Logger
	router *gin.Engine
}

// NewServer builds the router
func NewServer(opts Options) *Server {
	if opts.UploadDir == "" {
		opts.UploadDir = "uploads"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{opts: opts, logger: logger.With("module", "api")}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	// CORS middleware
	r.Use(corsMiddleware())

	// Health check
	r.GET("/health", healthCheck)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.GET("/labels", listLabels)
		v1.POST("/analyze", s.handleAnalyze)
		v1.GET("/jobs/:id", s.handleJob)
		v1.GET("/hits/:name", s.handleHits)
		v1.GET("/midi/:name", s.handleMIDI)
	}

	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	// Swagger docs
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	s.router = r
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on port until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		<-errCh
		return nil
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// healthCheck godoc
// @Summary Health check endpoint
// @Description Returns the health status of the API
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "drumstem2midi",
	})
}

// listLabels godoc
// @Summary List drum labels
// @Description Returns every label the classifier emits with its General MIDI note
// @Tags info
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/labels [get]
func listLabels(c *gin.Context) {
	notes := make(map[string]uint8, len(classify.Labels))
	for _, l := range classify.Labels {
		notes[l] = converter.NoteFor(l)
	}
	c.JSON(http.StatusOK, gin.H{
		"labels": classify.Labels,
		"notes":  notes,
	})
}

type analyzeRequest struct {
	Path         string   `json:"path" binding:"required"`
	ForceOnsets  bool     `json:"force_onsets"`
	ForceWindows bool     `json:"force_windows"`
	SaveMIDI     *bool    `json:"save_midi"`
	BPM          *float64 `json:"bpm"`
}

// handleAnalyze godoc
// @Summary Submit a drum stem for analysis
// @Description Upload a stem as multipart field "file", or post {"path": "..."} for a stem already in the upload directory
// @Tags analyze
// @Accept multipart/form-data
// @Accept json
// @Produce json
// @Param file formData file false "Drum stem (.wav or .flac)"
// @Success 202 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /api/v1/analyze [post]
func (s *Server) handleAnalyze(c *gin.Context) {
	ro := s.opts.RunOptions
	var stem string

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
			return
		}
		name := filepath.Base(header.Filename)
		if converter.DetectFormat(name) != converter.FormatAudio {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported file type, expected .wav or .flac"})
			return
		}
		if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prepare upload directory"})
			return
		}
		stem = filepath.Join(s.opts.UploadDir, name)
		if err := c.SaveUploadedFile(header, stem); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
			return
		}
		// new content under a reused name must not be served from the old cache
		ro.ForceOnsets = formBool(c, "force_onsets", true)
		ro.ForceWindows = formBool(c, "force_windows", ro.ForceWindows)
		ro.SaveMIDI = formBool(c, "save_midi", ro.SaveMIDI)
		if v := c.PostForm("bpm"); v != "" {
			bpm, err := strconv.ParseFloat(v, 64)
			if err != nil || bpm < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid bpm"})
				return
			}
			ro.BPM = bpm
		}
	} else {
		var req analyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Expected a file upload or a JSON body with a path"})
			return
		}
		if converter.DetectFormat(req.Path) != converter.FormatAudio {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported file type, expected .wav or .flac"})
			return
		}
		path, err := s.resolveStem(req.Path)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, err := os.Stat(path); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Stem not found"})
			return
		}
		stem = path
		ro.ForceOnsets = req.ForceOnsets
		ro.ForceWindows = req.ForceWindows
		if req.SaveMIDI != nil {
			ro.SaveMIDI = *req.SaveMIDI
		}
		if req.BPM != nil {
			if *req.BPM < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid bpm"})
				return
			}
			ro.BPM = *req.BPM
		}
	}

	id, err := s.opts.Jobs.Submit(stem, ro)
	switch {
	case errors.Is(err, jobs.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "job_id": id})
		return
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrRunnerStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.logger.Error("submit failed", "stem", stem, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": id,
		"stem":   stem,
	})
}

// ErrOutsideUploadDir is returned for a stem path that leaves the upload directory
var ErrOutsideUploadDir = errors.New("stem path must be inside the upload directory")

// resolveStem resolves a client supplied stem path against the upload
// directory. Relative paths are taken from the upload directory.
func (s *Server) resolveStem(p string) (string, error) {
	root, err := filepath.Abs(s.opts.UploadDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve upload directory: %w", err)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideUploadDir
	}
	return p, nil
}

func formBool(c *gin.Context, key string, def bool) bool {
	v := c.PostForm(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// jobResponse is the JSON view of a job
type jobResponse struct {
	ID       string        `json:"id"`
	Stem     string        `json:"stem"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Created  time.Time     `json:"created"`
	Started  *time.Time    `json:"started,omitempty"`
	Finished *time.Time    `json:"finished,omitempty"`
	Manifest *manifestView `json:"manifest,omitempty"`
}

type manifestView struct {
	Onsets     string   `json:"onsets"`
	Windows    string   `json:"windows"`
	Hits       string   `json:"hits"`
	MIDI       string   `json:"midi,omitempty"`
	NumOnsets  int      `json:"num_onsets"`
	NumWindows int      `json:"num_windows"`
	NumHits    int      `json:"num_hits"`
	BPM        float64  `json:"bpm,omitempty"`
	Recomputed []string `json:"recomputed"`
	Warning    string   `json:"warning,omitempty"`
}

func newJobResponse(j jobs.Job) jobResponse {
	resp := jobResponse{
		ID:      j.ID,
		Stem:    j.Stem,
		Status:  j.Status.String(),
		Error:   j.Error,
		Created: j.Created,
	}
	if !j.Started.IsZero() {
		resp.Started = &j.Started
	}
	if !j.Finished.IsZero() {
		resp.Finished = &j.Finished
	}
	if m := j.Manifest; m != nil {
		view := &manifestView{
			Onsets:     m.Onsets,
			Windows:    m.Windows,
			Hits:       m.Hits,
			MIDI:       m.MIDI,
			NumOnsets:  m.NumOnsets,
			NumWindows: m.NumWindows,
			NumHits:    m.NumHits,
			BPM:        m.BPM,
			Recomputed: make([]string, 0, len(m.Recomputed)),
		}
		for _, st := range m.Recomputed {
			view.Recomputed = append(view.Recomputed, st.String())
		}
		if m.Degraded != nil {
			view.Warning = m.Degraded.Error()
		}
		resp.Manifest = view
	}
	return resp
}

// handleJob godoc
// @Summary Job status
// @Description Returns the status of a submitted analysis and its manifest once completed
// @Tags analyze
// @Produce json
// @Param id path string true "Job id"
// @Success 200 {object} jobResponse
// @Failure 404 {object} map[string]string
// @Router /api/v1/jobs/{id} [get]
func (s *Server) handleJob(c *gin.Context) {
	job, ok := s.opts.Jobs.Status(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, newJobResponse(job))
}

// stemPath resolves an uploaded stem name inside the upload directory
func (s *Server) stemPath(name string) string {
	return filepath.Join(s.opts.UploadDir, filepath.Base(name))
}

// handleHits godoc
// @Summary Hits of a stem
// @Description Returns the stored hits for an uploaded stem, or an empty list
// @Tags results
// @Produce json
// @Param name path string true "Stem file name"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/hits/{name} [get]
func (s *Server) handleHits(c *gin.Context) {
	hits := pipeline.LoadHits(s.stemPath(c.Param("name")))
	c.JSON(http.StatusOK, gin.H{"hits": hits})
}

// handleMIDI godoc
// @Summary MIDI of a stem
// @Description Downloads the drum MIDI file written for an uploaded stem
// @Tags results
// @Produce audio/midi
// @Param name path string true "Stem file name"
// @Success 200 {file} binary
// @Failure 404 {object} map[string]string
// @Router /api/v1/midi/{name} [get]
func (s *Server) handleMIDI(c *gin.Context) {
	path := cache.ArtifactsFor(s.stemPath(c.Param("name"))).MIDI
	data, err := os.ReadFile(path)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "MIDI not found"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(path)))
	c.Data(http.StatusOK, "audio/midi", data)
}
