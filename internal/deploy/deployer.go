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

package deploy

import (
	"context"
	"fmt"
	"sync"

	"github.com/relgate/relgate/internal/lock"
	"github.com/relgate/relgate/pkg/log"
	"github.com/relgate/relgate/pkg/statemachine"
)

// VerifyFunc re-validates the signature of a digest. The deployer calls it
// on the rollback target before declaring rolled-back, so a restored
// version is never trusted on the strength of having once been deployed.
type VerifyFunc func(ctx context.Context, digest string) error

// Result is the terminal outcome of one deploy attempt.
type Result struct {
	State    State
	Previous RollbackTarget
	Reason   string
	History  []statemachine.TransitionRecord[State]
}

// Deployer runs the deploy protocol for one target:
//
//	not-deployed -> deploying -> healthy -> deployed-stable
//	                    \            \
//	                     +-> unhealthy-rolling-back -> rolled-back
//	                     |                          -> rollback-failed
//	                     +-> failed-no-rollback-target
//
// Deployments are serialized per target, and the rollback sub-machine runs
// to a terminal state even when the surrounding run is cancelled.
type Deployer struct {
	target   string
	executor Executor
	probe    HealthChecker
	locker   lock.TargetLocker
	verify   VerifyFunc
	logger   *log.Logger

	mu     sync.Mutex
	stable map[string]bool
}

// NewDeployer creates a Deployer. verify is required: the previous version
// must pass signature re-verification before a rollback completes.
func NewDeployer(target string, executor Executor, probe HealthChecker, locker lock.TargetLocker, verify VerifyFunc, logger *log.Logger) (*Deployer, error) {
	if target == "" {
		return nil, fmt.Errorf("deploy: target name is required")
	}
	if executor == nil || probe == nil || locker == nil {
		return nil, fmt.Errorf("deploy: executor, probe, and locker are required")
	}
	if verify == nil {
		return nil, fmt.Errorf("deploy: rollback verify func is required")
	}
	return &Deployer{
		target:   target,
		executor: executor,
		probe:    probe,
		locker:   locker,
		verify:   verify,
		logger:   logger,
		stable:   make(map[string]bool),
	}, nil
}

// Deploy applies candidateDigest to the target and drives the state machine
// to a terminal state. Re-invoking with a digest that is already
// deployed-stable is a no-op success. The returned error is reserved for
// infrastructure failures (lock acquisition); every protocol outcome,
// including rollback failure, is expressed in Result.State.
func (d *Deployer) Deploy(ctx context.Context, candidateDigest string, prev RollbackTarget) (*Result, error) {
	if candidateDigest == "" {
		return nil, fmt.Errorf("deploy: candidate digest is required")
	}

	release, err := d.locker.Acquire(ctx, d.target)
	if err != nil {
		return nil, fmt.Errorf("deploy: acquire target lock: %w", err)
	}
	defer release()

	d.mu.Lock()
	already := d.stable[candidateDigest]
	d.mu.Unlock()
	if already {
		d.logger.Log.Infow("candidate already deployed-stable, skipping",
			"target", d.target,
			"digest", candidateDigest,
		)
		return &Result{
			State:    StateDeployedStable,
			Previous: prev,
			Reason:   "already deployed-stable",
		}, nil
	}

	fsm := newDeployFSM()
	fsm.MustTransitTo(StateDeploying)
	d.logger.Log.Infow("deploying candidate",
		"target", d.target,
		"digest", candidateDigest,
	)

	if err := d.executor.Apply(ctx, candidateDigest); err != nil {
		// An infrastructure failure applying the artifact takes the same
		// rollback path as a failed health check.
		return d.rollback(ctx, fsm, prev, fmt.Sprintf("deployment execution error: %v", err)), nil
	}

	if err := d.probe.WaitHealthy(ctx); err != nil {
		return d.rollback(ctx, fsm, prev, fmt.Sprintf("health check never succeeded: %v", err)), nil
	}
	fsm.MustTransitTo(StateHealthy)

	if err := d.probe.ConfirmStable(ctx); err != nil {
		return d.rollback(ctx, fsm, prev, fmt.Sprintf("stability confirmation failed: %v", err)), nil
	}
	fsm.MustTransitTo(StateDeployedStable)

	d.mu.Lock()
	d.stable[candidateDigest] = true
	d.mu.Unlock()

	d.logger.Log.Infow("candidate deployed-stable",
		"target", d.target,
		"digest", candidateDigest,
	)
	return &Result{
		State:    StateDeployedStable,
		Previous: prev,
		History:  fsm.History(),
	}, nil
}

// rollback restores the previous version. Once entered it ignores
// cancellation of the surrounding run: stopping half way would leave the
// target in an undefined intermediate state.
func (d *Deployer) rollback(ctx context.Context, fsm *statemachine.StateMachine[State], prev RollbackTarget, reason string) *Result {
	ctx = context.WithoutCancel(ctx)

	prevDigest, ok := prev.Previous()
	if !ok {
		fsm.MustTransitTo(StateNoRollbackTarget)
		d.logger.Log.Errorw("deployment failed with no rollback target",
			"target", d.target,
			"reason", reason,
		)
		return &Result{
			State:    StateNoRollbackTarget,
			Previous: prev,
			Reason:   reason,
			History:  fsm.History(),
		}
	}

	fsm.MustTransitTo(StateUnhealthyRollingBack)
	d.logger.Log.Warnw("rolling back",
		"target", d.target,
		"previous", prevDigest,
		"reason", reason,
	)

	fail := func(cause string) *Result {
		fsm.MustTransitTo(StateRollbackFailed)
		d.logger.Log.Errorw("rollback failed, manual intervention required",
			"target", d.target,
			"previous", prevDigest,
			"cause", cause,
		)
		return &Result{
			State:    StateRollbackFailed,
			Previous: prev,
			Reason:   reason + "; " + cause,
			History:  fsm.History(),
		}
	}

	if err := d.executor.Apply(ctx, prevDigest); err != nil {
		return fail(fmt.Sprintf("re-apply of previous version failed: %v", err))
	}

	// The restored version must carry a valid signature too; it is not
	// exempt just because it was running before.
	if err := d.verify(ctx, prevDigest); err != nil {
		return fail(fmt.Sprintf("signature re-verification of previous version failed: %v", err))
	}

	if err := d.probe.WaitHealthy(ctx); err != nil {
		return fail(fmt.Sprintf("previous version failed health check: %v", err))
	}

	fsm.MustTransitTo(StateRolledBack)
	d.logger.Log.Warnw("rollback complete, release rejected",
		"target", d.target,
		"running", prevDigest,
	)
	return &Result{
		State:    StateRolledBack,
		Previous: prev,
		Reason:   reason,
		History:  fsm.History(),
	}
}

// Target returns the target identity this deployer mutates.
func (d *Deployer) Target() string {
	return d.target
}

// CurrentVersion returns the digest currently running on the target.
func (d *Deployer) CurrentVersion(ctx context.Context) (string, error) {
	return d.executor.Current(ctx)
}
