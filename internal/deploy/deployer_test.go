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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relgate/relgate/internal/lock"
	"github.com/relgate/relgate/pkg/log"
)

const (
	digestC0 = "sha256:0000000000000000000000000000000000000000000000000000000000000000"
	digestC1 = "sha256:1111111111111111111111111111111111111111111111111111111111111111"
)

type fakeExecutor struct {
	applied  []string
	current  string
	applyErr map[string]error
}

func (f *fakeExecutor) Apply(ctx context.Context, digest string) error {
	if err := f.applyErr[digest]; err != nil {
		return err
	}
	f.applied = append(f.applied, digest)
	f.current = digest
	return nil
}

func (f *fakeExecutor) Current(ctx context.Context) (string, error) {
	return f.current, nil
}

// fakeProbe scripts health per running digest and records whether any check
// observed a cancelled context.
type fakeProbe struct {
	executor     *fakeExecutor
	healthy      map[string]bool
	stable       map[string]bool
	checks       int
	sawCancelled bool
}

func (f *fakeProbe) WaitHealthy(ctx context.Context) error {
	f.checks++
	if ctx.Err() != nil {
		f.sawCancelled = true
	}
	if f.healthy[f.executor.current] {
		return nil
	}
	return ErrHealthCheckTimeout
}

func (f *fakeProbe) ConfirmStable(ctx context.Context) error {
	if f.stable == nil {
		return nil
	}
	if f.stable[f.executor.current] {
		return nil
	}
	return errors.New("target tipped over during confirmation window")
}

func testLogger(t *testing.T) *log.Logger {
	t.Helper()
	logger, err := log.NewLogger(log.SetDefaults())
	require.NoError(t, err)
	return logger
}

func newTestDeployer(t *testing.T, executor *fakeExecutor, probe HealthChecker, verify VerifyFunc) *Deployer {
	t.Helper()
	if verify == nil {
		verify = func(ctx context.Context, digest string) error { return nil }
	}
	d, err := NewDeployer("vps-1", executor, probe, lock.NewMemoryLocker(), verify, testLogger(t))
	require.NoError(t, err)
	return d
}

func stateSequence(res *Result) []State {
	seq := []State{}
	for _, rec := range res.History {
		if rec.Error == nil {
			seq = append(seq, rec.To)
		}
	}
	return seq
}

func TestDeployFirstHealthCheckSucceeds(t *testing.T) {
	executor := &fakeExecutor{current: digestC0}
	probe := &fakeProbe{executor: executor, healthy: map[string]bool{digestC1: true}}
	d := newTestDeployer(t, executor, probe, nil)

	res, err := d.Deploy(context.Background(), digestC1, HasPrevious(digestC0))
	require.NoError(t, err)

	assert.Equal(t, StateDeployedStable, res.State)
	assert.Equal(t, digestC1, executor.current)
	assert.GreaterOrEqual(t, probe.checks, 1, "stable deploy requires an observed probe success")
	assert.Equal(t, []State{StateDeploying, StateHealthy, StateDeployedStable}, stateSequence(res))
}

func TestDeployIdempotentPerDigest(t *testing.T) {
	executor := &fakeExecutor{}
	probe := &fakeProbe{executor: executor, healthy: map[string]bool{digestC1: true}}
	d := newTestDeployer(t, executor, probe, nil)

	_, err := d.Deploy(context.Background(), digestC1, FreshDeploy())
	require.NoError(t, err)
	appliesAfterFirst := len(executor.applied)

	res, err := d.Deploy(context.Background(), digestC1, FreshDeploy())
	require.NoError(t, err)

	assert.Equal(t, StateDeployedStable, res.State)
	assert.Empty(t, res.History, "re-deploy of a stable digest must not transition")
	assert.Equal(t, appliesAfterFirst, len(executor.applied), "re-deploy of a stable digest must not touch the target")
}

func TestDeployRollsBackToPrevious(t *testing.T) {
	executor := &fakeExecutor{current: digestC0}
	probe := &fakeProbe{executor: executor, healthy: map[string]bool{digestC0: true}}
	verified := []string{}
	d := newTestDeployer(t, executor, probe, func(ctx context.Context, digest string) error {
		verified = append(verified, digest)
		return nil
	})

	res, err := d.Deploy(context.Background(), digestC1, HasPrevious(digestC0))
	require.NoError(t, err)

	assert.Equal(t, StateRolledBack, res.State)
	assert.Equal(t, digestC0, executor.current, "post-rollback running digest must equal the pre-deploy previous")
	assert.Equal(t, []string{digestC0}, verified, "previous version must be signature re-verified before rolled-back")
	assert.Equal(t,
		[]State{StateDeploying, StateUnhealthyRollingBack, StateRolledBack},
		stateSequence(res))
}

func TestDeployFreshDeployHasNoRollbackTarget(t *testing.T) {
	executor := &fakeExecutor{}
	probe := &fakeProbe{executor: executor, healthy: map[string]bool{}}
	d := newTestDeployer(t, executor, probe, nil)

	res, err := d.Deploy(context.Background(), digestC1, FreshDeploy())
	require.NoError(t, err)

	assert.Equal(t, StateNoRollbackTarget, res.State)
	assert.Equal(t, []string{digestC1}, executor.applied, "nothing must be re-applied on a fresh deploy failure")
}

func TestDeployRollbackTargetUnhealthy(t *testing.T) {
	// Neither the new version nor the restored previous passes health.
	executor := &fakeExecutor{current: digestC0}
	probe := &fakeProbe{executor: executor, healthy: map[string]bool{}}
	d := newTestDeployer(t, executor, probe, nil)

	res, err := d.Deploy(context.Background(), digestC1, HasPrevious(digestC0))
	require.NoError(t, err)

	assert.Equal(t, StateRollbackFailed, res.State)
	assert.Contains(t, res.Reason, "health check")
}

func TestDeployRollbackReverificationFailure(t *testing.T) {
	executor := &fakeExecutor{current: digestC0}
	probe := &fakeProbe{executor: executor, healthy: map[string]bool{digestC0: true}}
	d := newTestDeployer(t, executor, probe, func(ctx context.Context, digest string) error {
		return errors.New("attestation no longer valid")
	})

	res, err := d.Deploy(context.Background(), digestC1, HasPrevious(digestC0))
	require.NoError(t, err)

	assert.Equal(t, StateRollbackFailed, res.State)
	assert.Contains(t, res.Reason, "re-verification")
}

func TestDeployApplyFailureTakesRollbackPath(t *testing.T) {
	executor := &fakeExecutor{
		current:  digestC0,
		applyErr: map[string]error{digestC1: errors.New("ssh: connection refused")},
	}
	probe := &fakeProbe{executor: executor, healthy: map[string]bool{digestC0: true}}
	d := newTestDeployer(t, executor, probe, nil)

	res, err := d.Deploy(context.Background(), digestC1, HasPrevious(digestC0))
	require.NoError(t, err)

	assert.Equal(t, StateRolledBack, res.State)
	assert.Contains(t, res.Reason, "deployment execution error")
	assert.Equal(t, digestC0, executor.current)
}

func TestDeployConfirmationFailureRollsBack(t *testing.T) {
	executor := &fakeExecutor{current: digestC0}
	probe := &fakeProbe{
		executor: executor,
		healthy:  map[string]bool{digestC0: true, digestC1: true},
		stable:   map[string]bool{digestC0: true},
	}
	d := newTestDeployer(t, executor, probe, nil)

	res, err := d.Deploy(context.Background(), digestC1, HasPrevious(digestC0))
	require.NoError(t, err)

	assert.Equal(t, StateRolledBack, res.State)
	assert.Contains(t, res.Reason, "confirmation")
}

func TestDeployRollbackIgnoresCancellation(t *testing.T) {
	executor := &fakeExecutor{current: digestC0}
	probe := &fakeProbe{executor: executor, healthy: map[string]bool{digestC0: true}}
	d := newTestDeployer(t, executor, probe, nil)

	// Cancel after deploy starts: the new version never becomes healthy,
	// and the rollback sub-machine must still run to a terminal state.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// The fake probe fails digestC1 immediately, so cancelling here
		// races with the rollback path, which must not observe it.
		cancel()
	}()

	res, err := d.Deploy(ctx, digestC1, HasPrevious(digestC0))
	if err != nil {
		// Lock acquisition lost the race with cancel; that is the one
		// acceptable early exit.
		assert.ErrorIs(t, err, context.Canceled)
		return
	}

	assert.True(t, res.State.Terminal(), "rollback must reach a terminal state, got %s", res.State)
	if res.State == StateRolledBack {
		assert.False(t, probe.sawCancelled, "rollback probing must not observe cancellation")
	}
}

func TestDeployMonotonicNoReturnToDeploying(t *testing.T) {
	executor := &fakeExecutor{current: digestC0}
	probe := &fakeProbe{executor: executor, healthy: map[string]bool{digestC0: true}}
	d := newTestDeployer(t, executor, probe, nil)

	res, err := d.Deploy(context.Background(), digestC1, HasPrevious(digestC0))
	require.NoError(t, err)

	seq := stateSequence(res)
	for i, s := range seq {
		if s == StateDeploying {
			assert.Equal(t, 0, i, "deploying may only appear as the first transition")
		}
	}
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateDeployedStable.Terminal())
	assert.True(t, StateRolledBack.Terminal())
	assert.True(t, StateRollbackFailed.Terminal())
	assert.True(t, StateNoRollbackTarget.Terminal())
	assert.False(t, StateDeploying.Terminal())
	assert.False(t, StateHealthy.Terminal())
	assert.False(t, StateUnhealthyRollingBack.Terminal())
}
