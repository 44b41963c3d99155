package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Entry is one cached artifact.
type Entry struct {
	Path           string
	Name           string
	OutputDataType string
	StorageType    string
	Digest         string
	Size           int64
	RunID          string
	CreatedAt      time.Time
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is the persistent metadata of one pipeline execution.
type Run struct {
	RunID        string
	PipelineHash string
	StartTime    time.Time
	EndTime      time.Time
	Status       RunStatus
	Error        string
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(r.PipelineHash) == "" {
		errs = append(errs, errors.New("pipeline_hash is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Status {
	case RunRunning, RunSucceeded, RunFailed:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Problem is a verification failure for one entry.
type Problem struct {
	Path   string
	Reason string
}

const (
	ReasonMissing  = "missing"
	ReasonMismatch = "digest mismatch"
)
