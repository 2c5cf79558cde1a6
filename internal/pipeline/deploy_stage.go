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
	"fmt"
	"time"

	"github.com/relgate/relgate/internal/deploy"
)

const evidenceDeploymentState = "deployment-state"

// DeployStage hands the candidate to the deployer and translates deploy
// protocol states into gate outcomes:
//
//	deployed-stable           passed
//	rolled-back               advisory-failed (run ends succeeded-with-rollback)
//	rollback-failed           failed
//	failed-no-rollback-target failed
//
// Deploy is always blocking: a target left in a failed state must never let
// later gates run as if a release were live.
type DeployStage struct {
	Deployer *deploy.Deployer
}

func (s *DeployStage) Name() string   { return "deploy" }
func (s *DeployStage) Mode() GateMode { return ModeBlocking }

func (s *DeployStage) Run(ctx context.Context, sc *StageContext) (*StageResult, error) {
	started := time.Now()

	prev, err := s.rollbackTarget(ctx)
	if err != nil {
		return nil, err
	}

	dres, err := s.Deployer.Deploy(ctx, sc.Candidate.Digest(), prev)
	if err != nil {
		return nil, err
	}

	res := &StageResult{
		Stage:       s.Name(),
		StartedAt:   started,
		FinishedAt:  time.Now(),
		Evidence:    []Evidence{{Name: evidenceDeploymentState, Ref: string(dres.State)}},
		Diagnostics: dres.Reason,
	}
	switch dres.State {
	case deploy.StateDeployedStable:
		res.Outcome = OutcomePassed
	case deploy.StateRolledBack:
		res.Outcome = OutcomeAdvisoryFailed
	case deploy.StateRollbackFailed, deploy.StateNoRollbackTarget:
		res.Outcome = OutcomeFailed
	default:
		return nil, fmt.Errorf("deployer stopped in non-terminal state %q", dres.State)
	}
	return res, nil
}

// rollbackTarget asks the target what is currently running. An empty answer
// means a fresh deploy with nothing to fall back to.
func (s *DeployStage) rollbackTarget(ctx context.Context) (deploy.RollbackTarget, error) {
	current, err := s.Deployer.CurrentVersion(ctx)
	if err != nil {
		return deploy.RollbackTarget{}, fmt.Errorf("query current version: %w", err)
	}
	if current == "" {
		return deploy.FreshDeploy(), nil
	}
	return deploy.HasPrevious(current), nil
}
