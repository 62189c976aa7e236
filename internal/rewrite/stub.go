package rewrite

import "context"

// StubText is returned by StubRewriter regardless of input.
const StubText = "[DEV] stub rewritten text"

// StubRewriter stands in for a model backend during local development.
type StubRewriter struct{}

func (StubRewriter) Name() string { return "stub" }

func (StubRewriter) Rewrite(_ context.Context, _ string, _ Mode) (string, error) {
	return StubText, nil
}

func (StubRewriter) Release(context.Context) error { return nil }
