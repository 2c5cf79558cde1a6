// Copyright 2025 Relgate Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pipeline sequences the release gates over one release candidate
// and enforces the gating policy between them.
package pipeline

import (
	"context"
	"time"

	"github.com/relgate/relgate/internal/deploy"
	"github.com/relgate/relgate/internal/notify"
	"github.com/relgate/relgate/internal/release"
)

// Outcome is the result kind of one executed stage.
type Outcome string

const (
	OutcomePassed         Outcome = "passed"
	OutcomeFailed         Outcome = "failed"
	OutcomeAdvisoryFailed Outcome = "advisory-failed"
	// OutcomeSkipped records a stage that was not run together with the
	// reason; stages are never skipped silently.
	OutcomeSkipped Outcome = "skipped"
)

// GateMode decides what a failed stage does to the rest of the run.
type GateMode string

const (
	// ModeBlocking halts the pipeline when the stage fails.
	ModeBlocking GateMode = "blocking"
	// ModeAdvisory records the failure and continues unconditionally.
	ModeAdvisory GateMode = "advisory"
)

// Evidence is one reference to a report or artifact a stage produced.
type Evidence struct {
	Name string `json:"name"`
	Ref  string `json:"ref"`
}

// StageResult is the immutable outcome of one stage execution.
type StageResult struct {
	Stage       string     `json:"stage"`
	Outcome     Outcome    `json:"outcome"`
	Evidence    []Evidence `json:"evidence,omitempty"`
	Diagnostics string     `json:"diagnostics,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
}

// StageContext carries what a stage may read: the candidate under test and
// all prior results, in stage order.
type StageContext struct {
	Candidate *release.Candidate
	Results   []StageResult
}

// Result returns a prior stage's result by name.
func (sc *StageContext) Result(stage string) (*StageResult, bool) {
	for i := range sc.Results {
		if sc.Results[i].Stage == stage {
			return &sc.Results[i], true
		}
	}
	return nil, false
}

// Stage is one release gate. Run converts every stage-local failure into a
// StageResult; the returned error is reserved for infrastructure failures
// that make the whole run unsound.
type Stage interface {
	Name() string
	Mode() GateMode
	Run(ctx context.Context, sc *StageContext) (*StageResult, error)
}

// Status is the terminal status of a pipeline run.
type Status string

const (
	StatusRunning               Status = "running"
	StatusSucceeded             Status = "succeeded"
	StatusSucceededWithRollback Status = "succeeded-with-rollback"
	StatusAborted               Status = "aborted"
)

// ExitCode maps a status to the process exit code contract.
func (s Status) ExitCode() int {
	switch s {
	case StatusSucceeded, StatusSucceededWithRollback:
		return 0
	default:
		return 1
	}
}

// Run is the record of one pipeline execution over one candidate. It is
// appended to as stages complete and immutable once finalized.
type Run struct {
	ID              string             `json:"id"`
	Source          string             `json:"source"`
	Candidate       *release.Candidate `json:"-"`
	CandidateDigest string             `json:"candidate_digest,omitempty"`
	Results         []StageResult      `json:"results"`
	Status          Status             `json:"status"`
	DeploymentState deploy.State       `json:"deployment_state,omitempty"`
	EvidenceRef     string             `json:"evidence_ref,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
}

// Report builds the notification payload for this run.
func (r *Run) Report() *notify.Report {
	stages := make([]notify.StageSummary, 0, len(r.Results))
	for _, res := range r.Results {
		stages = append(stages, notify.StageSummary{
			Name:        res.Stage,
			Outcome:     string(res.Outcome),
			Diagnostics: res.Diagnostics,
		})
	}
	return &notify.Report{
		RunID:           r.ID,
		CandidateDigest: r.CandidateDigest,
		Status:          string(r.Status),
		DeploymentState: string(r.DeploymentState),
		Stages:          stages,
		EvidenceRef:     r.EvidenceRef,
		FinishedAt:      r.FinishedAt,
	}
}
