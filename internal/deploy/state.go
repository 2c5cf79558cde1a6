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

// Package deploy drives the deploy-with-health-check-and-rollback protocol
// against a single deployment target.
package deploy

import (
	"github.com/relgate/relgate/pkg/statemachine"
)

// State is the deployment state of one deploy attempt.
type State string

const (
	StateNotDeployed          State = "not-deployed"
	StateDeploying            State = "deploying"
	StateHealthy              State = "healthy"
	StateDeployedStable       State = "deployed-stable"
	StateUnhealthyRollingBack State = "unhealthy-rolling-back"
	StateRolledBack           State = "rolled-back"
	StateRollbackFailed       State = "rollback-failed"
	StateNoRollbackTarget     State = "failed-no-rollback-target"
)

// Terminal reports whether the state ends the deploy attempt.
func (s State) Terminal() bool {
	switch s {
	case StateDeployedStable, StateRolledBack, StateRollbackFailed, StateNoRollbackTarget:
		return true
	}
	return false
}

// newDeployFSM declares the legal transitions of one deploy attempt.
// There is no edge back into deploying: the rollback path is monotonic, and
// a fresh attempt requires a fresh state machine.
func newDeployFSM() *statemachine.StateMachine[State] {
	sm := statemachine.NewWithState(StateNotDeployed)
	sm.Allow(StateNotDeployed, StateDeploying).
		Allow(StateDeploying, StateHealthy, StateUnhealthyRollingBack, StateNoRollbackTarget).
		Allow(StateHealthy, StateDeployedStable, StateUnhealthyRollingBack, StateNoRollbackTarget).
		Allow(StateUnhealthyRollingBack, StateRolledBack, StateRollbackFailed)
	return sm
}
