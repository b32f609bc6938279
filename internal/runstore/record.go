// Package runstore persists pipeline runs so that other processes can show
// their status, request their cancellation and respect single-flight.
//
// A [Store] keeps run records, per-pipeline locks, cancel markers and build
// counters as small YAML objects in a [Backend]: a local directory or an
// S3-compatible bucket.
package runstore

import (
	"time"

	"github.com/imamik/shipyard/internal/artifact"
	"github.com/imamik/shipyard/internal/deploy"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/provision"
	"github.com/imamik/shipyard/internal/registry"
)

// Status is the overall status of a run.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// StageStatus is the status of one stage within a run.
type StageStatus string

const (
	StagePending   StageStatus = "Pending"
	StageRunning   StageStatus = "Running"
	StageSucceeded StageStatus = "Succeeded"
	StageFailed    StageStatus = "Failed"
	StageSkipped   StageStatus = "Skipped"
)

// Terminal reports whether the stage will not change again.
func (s StageStatus) Terminal() bool {
	return s == StageSucceeded || s == StageFailed || s == StageSkipped
}

// Record is the persisted view of a run.
type Record struct {
	RunID       string    `json:"runId"`
	PipelineID  string    `json:"pipelineId"`
	BuildNumber int       `json:"buildNumber"`
	Status      Status    `json:"status"`
	Started     time.Time `json:"started"`
	Finished    time.Time `json:"finished,omitempty"`

	// FailedStage is the first stage that failed, if any.
	FailedStage string `json:"failedStage,omitempty"`

	Stages    []StageRecord           `json:"stages"`
	Artifact  *artifact.Artifact      `json:"artifact,omitempty"`
	Publish   *registry.PublishResult `json:"publish,omitempty"`
	Rollouts  []*deploy.RolloutResult `json:"rollouts,omitempty"`
	Endpoints []*provision.Endpoint   `json:"endpoints,omitempty"`
}

// StageRecord is the persisted state of one stage.
type StageRecord struct {
	Name      string       `json:"name"`
	Action    string       `json:"action"`
	Needs     []string     `json:"needs,omitempty"`
	Status    StageStatus  `json:"status"`
	Attempts  int          `json:"attempts,omitempty"`
	ErrorKind failure.Kind `json:"errorKind,omitempty"`
	Error     string       `json:"error,omitempty"`
	// Output is the tail of the stage's captured output.
	Output   string    `json:"output,omitempty"`
	Started  time.Time `json:"started,omitempty"`
	Finished time.Time `json:"finished,omitempty"`
}

// Stage returns the record of the named stage.
func (r *Record) Stage(name string) (*StageRecord, bool) {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i], true
		}
	}
	return nil, false
}

// Duration is the wall time of the run so far.
func (r *Record) Duration() time.Duration {
	if r.Started.IsZero() {
		return 0
	}
	if r.Finished.IsZero() {
		return time.Since(r.Started)
	}
	return r.Finished.Sub(r.Started)
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r

	c.Stages = make([]StageRecord, len(r.Stages))
	for i, s := range r.Stages {
		s.Needs = append([]string(nil), s.Needs...)
		c.Stages[i] = s
	}

	if r.Artifact != nil {
		a := *r.Artifact
		c.Artifact = &a
	}
	if r.Publish != nil {
		p := *r.Publish
		p.Tags = append([]registry.TagResult(nil), r.Publish.Tags...)
		c.Publish = &p
	}
	if r.Rollouts != nil {
		c.Rollouts = make([]*deploy.RolloutResult, len(r.Rollouts))
		for i, ro := range r.Rollouts {
			cp := *ro
			cp.Transitions = append([]deploy.State(nil), ro.Transitions...)
			c.Rollouts[i] = &cp
		}
	}
	if r.Endpoints != nil {
		c.Endpoints = make([]*provision.Endpoint, len(r.Endpoints))
		for i, ep := range r.Endpoints {
			cp := *ep
			c.Endpoints[i] = &cp
		}
	}
	return &c
}
