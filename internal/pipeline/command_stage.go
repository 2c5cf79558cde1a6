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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/relgate/relgate/internal/artifact"
	"github.com/relgate/relgate/pkg/log"
)

const evidenceScanReport = "report"

// CommandStage runs an external scanner or check against the candidate.
// Exit code 0 is a pass, AdvisoryExitCode (when set) a tool-reported
// advisory finding, any other exit status a failure. Only a failure to
// start the process at all is an orchestrator error.
type CommandStage struct {
	StageName string
	GateMode  GateMode
	Command   []string
	Workdir   string
	Timeout   time.Duration
	// AdvisoryExitCode lets tools distinguish "findings below threshold"
	// from a hard failure. Zero disables it.
	AdvisoryExitCode int
	// ReportPath is read after the command exits and stored as evidence
	// regardless of outcome.
	ReportPath string
	Store      artifact.Store
	Logger     *log.Logger
}

func (s *CommandStage) Name() string   { return s.StageName }
func (s *CommandStage) Mode() GateMode { return s.GateMode }

func (s *CommandStage) Run(ctx context.Context, sc *StageContext) (*StageResult, error) {
	if len(s.Command) == 0 {
		return nil, fmt.Errorf("no command configured")
	}
	started := time.Now()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	cmd.Dir = s.Workdir
	cmd.Env = append(os.Environ(),
		"RELGATE_CANDIDATE_DIGEST="+sc.Candidate.Digest(),
		"RELGATE_CANDIDATE_REVISION="+sc.Candidate.Revision(),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	res := &StageResult{
		Stage:      s.StageName,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	res.Evidence = s.collectReport(ctx, res)

	switch {
	case runErr == nil:
		res.Outcome = OutcomePassed
	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// The tool never ran; the gate produced no verdict.
			return nil, fmt.Errorf("start %q: %w", s.Command[0], runErr)
		}
		code := exitErr.ExitCode()
		res.Diagnostics = fmt.Sprintf("exit %d: %s", code, firstLine(stderr.String()))
		if s.AdvisoryExitCode != 0 && code == s.AdvisoryExitCode {
			res.Outcome = OutcomeAdvisoryFailed
		} else {
			res.Outcome = OutcomeFailed
		}
	}
	return res, nil
}

// collectReport stores the tool's report file, if one was produced. A
// missing or unreadable report never changes the verdict.
func (s *CommandStage) collectReport(ctx context.Context, res *StageResult) []Evidence {
	if s.ReportPath == "" || s.Store == nil {
		return nil
	}
	raw, err := os.ReadFile(s.ReportPath)
	if err != nil {
		s.Logger.Log.Warnw("stage report unreadable", "stage", s.StageName, "path", s.ReportPath, "err", err)
		return nil
	}
	digest, err := s.Store.Put(ctx, raw)
	if err != nil {
		s.Logger.Log.Warnw("stage report store failed", "stage", s.StageName, "err", err)
		return nil
	}
	return []Evidence{{Name: evidenceScanReport, Ref: digest}}
}

func firstLine(s string) string {
	if i := bytes.IndexByte([]byte(s), '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
