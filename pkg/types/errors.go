package types

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrEmptyPaperID  = errors.New("paper ID cannot be empty")
	ErrEmptyContent  = errors.New("content cannot be empty")
	ErrEmptyFigureID = errors.New("figure ID cannot be empty")
	ErrInvalidScore  = errors.New("score must be non-negative")
)

// Pipeline failure kinds. Match with errors.Is against a *PipelineError.
var (
	ErrDownload    = errors.New("download failed")
	ErrParse       = errors.New("parse failed")
	ErrIndex       = errors.New("index failed")
	ErrConcurrency = errors.New("job tracking lost")
)

// ErrorKind names the pipeline stage a failure belongs to
type ErrorKind string

const (
	KindDownload    ErrorKind = "download"
	KindParse       ErrorKind = "parse"
	KindIndex       ErrorKind = "index"
	KindConcurrency ErrorKind = "concurrency"
)

// PipelineError is a terminal failure of one paper's ingestion
type PipelineError struct {
	Kind    ErrorKind
	PaperID string
	Err     error
}

// NewPipelineError wraps err with the given kind
func NewPipelineError(kind ErrorKind, paperID string, err error) *PipelineError {
	return &PipelineError{Kind: kind, PaperID: paperID, Err: err}
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error for paper %s", e.Kind, e.PaperID)
	}
	return fmt.Sprintf("%s error for paper %s: %v", e.Kind, e.PaperID, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind
func (e *PipelineError) Is(target error) bool {
	switch e.Kind {
	case KindDownload:
		return target == ErrDownload
	case KindParse:
		return target == ErrParse
	case KindIndex:
		return target == ErrIndex
	case KindConcurrency:
		return target == ErrConcurrency
	}
	return false
}
