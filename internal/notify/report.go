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

// Package notify delivers final pipeline reports to configured channels.
package notify

import "time"

// StageSummary is one stage's line in the final report.
type StageSummary struct {
	Name        string `json:"name"`
	Outcome     string `json:"outcome"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// Report is the notification payload for one finished pipeline run.
type Report struct {
	RunID           string         `json:"run_id"`
	CandidateDigest string         `json:"candidate_digest"`
	Status          string         `json:"status"`
	DeploymentState string         `json:"deployment_state,omitempty"`
	Stages          []StageSummary `json:"stages"`
	EvidenceRef     string         `json:"evidence_ref,omitempty"`
	FinishedAt      time.Time      `json:"finished_at"`
}
