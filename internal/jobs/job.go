package jobs

import (
	"time"

	"github.com/jenanos/scribe-service/internal/pipeline"
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Terminal reports whether no further transition can happen
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// job is the registry's mutable record. All fields except id, request,
// createdAt and done are guarded by the registry mutex.
type job struct {
	id        string
	request   pipeline.Request
	createdAt time.Time

	status     Status
	result     *pipeline.Result
	err        error
	startedAt  time.Time
	finishedAt time.Time

	// done is closed once status is terminal
	done chan struct{}
}

// Snapshot is a point-in-time copy of a job
type Snapshot struct {
	ID         string           `json:"job_id"`
	Status     Status           `json:"status"`
	Mode       string           `json:"mode"`
	Rewrite    bool             `json:"rewrite"`
	Result     *pipeline.Result `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

func (j *job) snapshot() Snapshot {
	s := Snapshot{
		ID:        j.id,
		Status:    j.status,
		Mode:      j.request.Mode.String(),
		Rewrite:   j.request.Rewrite,
		CreatedAt: j.createdAt,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	switch j.status {
	case StatusDone:
		s.Result = j.result
		t := j.finishedAt
		s.FinishedAt = &t
	case StatusError:
		s.Error = j.err.Error()
		t := j.finishedAt
		s.FinishedAt = &t
	}
	return s
}
