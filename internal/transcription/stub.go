package transcription

import (
	"context"
	"fmt"
)

// StubText is returned for every segment by StubRecognizer.
const StubText = "[DEV] stub transcript"

// StubRecognizer stands in for a model backend during local development.
type StubRecognizer struct{}

func (StubRecognizer) Name() string { return "stub" }

func (StubRecognizer) Transcribe(_ context.Context, segmentPaths []string) ([]string, error) {
	if len(segmentPaths) == 0 {
		return nil, ErrNoSegments
	}
	texts := make([]string, len(segmentPaths))
	for i := range segmentPaths {
		texts[i] = fmt.Sprintf("%s %d", StubText, i+1)
	}
	return texts, nil
}

func (StubRecognizer) Release(context.Context) error { return nil }
