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

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relgate/relgate/internal/artifact"
	"github.com/relgate/relgate/internal/deploy"
	"github.com/relgate/relgate/internal/notify"
	"github.com/relgate/relgate/internal/release"
	"github.com/relgate/relgate/pkg/log"
	"github.com/relgate/relgate/pkg/metrics"
)

// Builder produces the release candidate the gates will examine.
type Builder interface {
	Build(ctx context.Context, source string) (*release.Candidate, error)
}

// Sink receives the run report once the run reaches a terminal status.
// Delivery happens on every terminal path, including aborts.
type Sink interface {
	Deliver(ctx context.Context, report *notify.Report) error
}

// RunRecorder persists finished runs for later inspection. Optional.
type RunRecorder interface {
	Record(ctx context.Context, run *Run) error
}

// EvidenceRef tags the serialized run record in the artifact store.
func EvidenceRef(runID string) string { return "run/" + runID }

// Orchestrator drives one candidate through the configured stages in order,
// applying the gate mode of each stage to decide whether the run continues.
type Orchestrator struct {
	builder    Builder
	stages     []Stage
	sink       Sink
	store      artifact.RefStore
	recorder   RunRecorder
	collectors *metrics.PipelineCollectors
	logger     *log.Logger
}

type OrchestratorOption func(*Orchestrator)

// WithRecorder attaches a run history store.
func WithRecorder(r RunRecorder) OrchestratorOption {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithCollectors attaches pipeline metrics.
func WithCollectors(c *metrics.PipelineCollectors) OrchestratorOption {
	return func(o *Orchestrator) { o.collectors = c }
}

func NewOrchestrator(builder Builder, stages []Stage, sink Sink, store artifact.RefStore, logger *log.Logger, opts ...OrchestratorOption) (*Orchestrator, error) {
	if builder == nil {
		return nil, fmt.Errorf("pipeline: builder is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("pipeline: sink is required")
	}
	if store == nil {
		return nil, fmt.Errorf("pipeline: artifact store is required")
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("pipeline: at least one stage is required")
	}
	seen := make(map[string]struct{}, len(stages))
	for _, s := range stages {
		if _, dup := seen[s.Name()]; dup {
			return nil, fmt.Errorf("pipeline: duplicate stage %q", s.Name())
		}
		seen[s.Name()] = struct{}{}
	}
	o := &Orchestrator{builder: builder, stages: stages, sink: sink, store: store, logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes the full pipeline for one candidate source. The returned Run
// always carries a terminal status; the error reports infrastructure
// failures only, never gate outcomes.
func (o *Orchestrator) Run(ctx context.Context, source string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Source:    source,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	o.logger.Log.Infow("pipeline run starting", "run_id", run.ID, "source", source)
	if o.collectors != nil {
		o.collectors.RunsInFlight.Inc()
		defer o.collectors.RunsInFlight.Dec()
	}

	cand, err := o.builder.Build(ctx, source)
	if err != nil {
		run.Status = StatusAborted
		run.Results = append(run.Results, StageResult{
			Stage:       "build",
			Outcome:     OutcomeFailed,
			Diagnostics: err.Error(),
			StartedAt:   run.StartedAt,
			FinishedAt:  time.Now(),
		})
		o.skipRemaining(run, 0, "build failed")
		return o.finish(ctx, run)
	}
	run.Candidate = cand
	run.CandidateDigest = cand.Digest()

	sc := &StageContext{Candidate: cand}
	for i, stage := range o.stages {
		// Cancellation is honored at stage boundaries only; a stage in
		// flight runs to completion.
		if ctx.Err() != nil {
			run.Status = StatusAborted
			o.skipRemaining(run, i, "run cancelled")
			return o.finish(ctx, run)
		}

		o.logger.Log.Infow("stage starting", "run_id", run.ID, "stage", stage.Name(), "mode", stage.Mode())
		res, err := o.runStage(ctx, stage, sc)
		if err != nil {
			run.Status = StatusAborted
			run.Results = append(run.Results, StageResult{
				Stage:       stage.Name(),
				Outcome:     OutcomeFailed,
				Diagnostics: err.Error(),
				StartedAt:   time.Now(),
				FinishedAt:  time.Now(),
			})
			o.skipRemaining(run, i+1, fmt.Sprintf("stage %s errored", stage.Name()))
			finished, ferr := o.finish(ctx, run)
			return finished, errors.Join(err, ferr)
		}
		run.Results = append(run.Results, *res)
		sc.Results = run.Results
		if o.collectors != nil {
			o.collectors.ObserveStage(stage.Name(), string(res.Outcome))
		}
		o.logger.Log.Infow("stage finished",
			"run_id", run.ID, "stage", stage.Name(), "mode", stage.Mode(), "outcome", res.Outcome)

		if ds, ok := deploymentState(res); ok {
			run.DeploymentState = ds
		}

		switch res.Outcome {
		case OutcomeFailed:
			if stage.Mode() == ModeBlocking {
				run.Status = StatusAborted
				o.skipRemaining(run, i+1, fmt.Sprintf("blocking stage %s failed", stage.Name()))
				return o.finish(ctx, run)
			}
		case OutcomeAdvisoryFailed:
			// A rolled-back deployment is the one advisory outcome that
			// still short-circuits: the run counts as a success, but no
			// further gate can act on the withdrawn candidate.
			if run.DeploymentState == deploy.StateRolledBack {
				run.Status = StatusSucceededWithRollback
				o.skipRemaining(run, i+1, "deployment rolled back")
				return o.finish(ctx, run)
			}
		}
	}

	run.Status = StatusSucceeded
	return o.finish(ctx, run)
}

func (o *Orchestrator) runStage(ctx context.Context, stage Stage, sc *StageContext) (*StageResult, error) {
	started := time.Now()
	res, err := stage.Run(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", stage.Name(), err)
	}
	if res.Stage == "" {
		res.Stage = stage.Name()
	}
	if res.StartedAt.IsZero() {
		res.StartedAt = started
	}
	if res.FinishedAt.IsZero() {
		res.FinishedAt = time.Now()
	}
	return res, nil
}

func (o *Orchestrator) skipRemaining(run *Run, from int, reason string) {
	now := time.Now()
	for _, stage := range o.stages[from:] {
		run.Results = append(run.Results, StageResult{
			Stage:       stage.Name(),
			Outcome:     OutcomeSkipped,
			Diagnostics: reason,
			StartedAt:   now,
			FinishedAt:  now,
		})
	}
}

// finish seals the run: persists the evidence record, updates metrics,
// records history, and delivers the notification. Notification delivery is
// unconditional; its failure surfaces as the returned error but never
// changes the run status.
func (o *Orchestrator) finish(ctx context.Context, run *Run) (*Run, error) {
	run.FinishedAt = time.Now()

	// The sink and stores must outlive the run's own cancellation.
	ctx = context.WithoutCancel(ctx)

	if raw, err := json.Marshal(run); err == nil {
		if digest, err := o.store.Put(ctx, raw); err != nil {
			o.logger.Log.Warnw("evidence persist failed", "run_id", run.ID, "err", err)
		} else if err := o.store.Tag(ctx, EvidenceRef(run.ID), digest); err != nil {
			o.logger.Log.Warnw("evidence tag failed", "run_id", run.ID, "err", err)
		} else {
			run.EvidenceRef = EvidenceRef(run.ID)
		}
	}

	if o.collectors != nil {
		o.collectors.ObserveRun(string(run.Status), run.FinishedAt.Sub(run.StartedAt))
	}
	if o.recorder != nil {
		if err := o.recorder.Record(ctx, run); err != nil {
			o.logger.Log.Warnw("run history record failed", "run_id", run.ID, "err", err)
		}
	}

	o.logger.Log.Infow("pipeline run finished",
		"run_id", run.ID, "status", run.Status, "deployment_state", run.DeploymentState,
		"duration", run.FinishedAt.Sub(run.StartedAt))

	if err := o.sink.Deliver(ctx, run.Report()); err != nil {
		return run, fmt.Errorf("notify: %w", err)
	}
	return run, nil
}

// deploymentState extracts the deployment state a deploy stage recorded in
// its evidence, if any.
func deploymentState(res *StageResult) (deploy.State, bool) {
	for _, ev := range res.Evidence {
		if ev.Name == evidenceDeploymentState {
			return deploy.State(ev.Ref), true
		}
	}
	return "", false
}
