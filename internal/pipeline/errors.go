package pipeline

import (
	"errors"
	"fmt"
)

// Stage names a step of a pipeline run
type Stage string

const (
	StageDecode  Stage = "decode"
	StageSegment Stage = "segment"
	StageASR     Stage = "asr"
	StageRewrite Stage = "rewrite"
)

// Sentinels matched with errors.Is against a *StageError
var (
	ErrDecode       = errors.New("decode failed")
	ErrSegmentation = errors.New("segmentation failed")
	ErrASR          = errors.New("speech recognition failed")
	ErrRewrite      = errors.New("rewrite failed")
)

var stageSentinels = map[Stage]error{
	StageDecode:  ErrDecode,
	StageSegment: ErrSegmentation,
	StageASR:     ErrASR,
	StageRewrite: ErrRewrite,
}

// StageError reports which stage aborted a run and why
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", stageSentinels[e.Stage], e.Err)
}

// Unwrap exposes both the stage sentinel and the underlying cause
func (e *StageError) Unwrap() []error {
	if sentinel, ok := stageSentinels[e.Stage]; ok {
		return []error{sentinel, e.Err}
	}
	return []error{e.Err}
}

func stageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// FailedStage returns the stage recorded in err, if any
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
