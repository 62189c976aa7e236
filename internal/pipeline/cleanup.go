package pipeline

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
)

// scope collects release functions for temporary resources and runs them in
// reverse acquisition order on close. Every Run defers close, so resources are
// released on success, error and panic alike.
type scope struct {
	logger   *slog.Logger
	releases []release
}

type release struct {
	name string
	fn   func() error
}

func newScope(logger *slog.Logger) *scope {
	return &scope{logger: logger}
}

// add registers fn to run when the scope closes
func (s *scope) add(name string, fn func() error) {
	s.releases = append(s.releases, release{name: name, fn: fn})
}

// addFile registers removal of path. A file that is already gone is not an error.
func (s *scope) addFile(name, path string) {
	s.add(name, func() error { return removeFile(path) })
}

func (s *scope) close() {
	for i := len(s.releases) - 1; i >= 0; i-- {
		r := s.releases[i]
		if err := r.fn(); err != nil {
			s.logger.Warn("Failed to release temporary resource",
				slog.String("resource", r.name),
				slog.String("error", err.Error()))
		}
	}
	s.releases = nil
}

func removeFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
