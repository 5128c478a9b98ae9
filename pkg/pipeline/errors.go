package pipeline

import (
	"errors"
	"fmt"

	"github.com/james-see/drumstem2midi/pkg/cache"
)

// Sentinel errors returned by Run, matched with errors.Is
var (
	ErrInputNotFound    = errors.New("input stem not found")
	ErrEmptyAudio       = errors.New("decoded audio is empty")
	ErrEmptyWindowBatch = errors.New("onsets produced no feature windows")
	ErrWriteFailure     = errors.New("failed to persist artifact")
)

// StageError records which stage a run failed in
type StageError struct {
	Stage cache.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(s cache.Stage, err error) error {
	return &StageError{Stage: s, Err: err}
}

func writeErr(s cache.Stage, err error) error {
	return &StageError{Stage: s, Err: fmt.Errorf("%w: %w", ErrWriteFailure, err)}
}
