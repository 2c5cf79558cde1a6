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
	"errors"
	"time"

	"github.com/relgate/relgate/internal/signing"
)

const evidenceAttestation = "attestation"

// SignatureStage verifies the candidate's attestation before anything is
// allowed to touch a target environment. Every verification failure is a
// gate verdict, not an infrastructure error: a missing or forged signature
// must show up in the run record, not crash the run.
type SignatureStage struct {
	GateMode GateMode
	Verifier *signing.Verifier
}

func (s *SignatureStage) Name() string   { return "signature-verify" }
func (s *SignatureStage) Mode() GateMode { return s.GateMode }

func (s *SignatureStage) Run(ctx context.Context, sc *StageContext) (*StageResult, error) {
	started := time.Now()
	res := &StageResult{Stage: s.Name(), StartedAt: started}

	_, err := s.Verifier.Verify(ctx, sc.Candidate.Digest())
	res.FinishedAt = time.Now()
	switch {
	case err == nil:
		res.Outcome = OutcomePassed
		res.Evidence = []Evidence{{Name: evidenceAttestation, Ref: signing.AttestationRef(sc.Candidate.Digest())}}
	case errors.Is(err, signing.ErrNotFound),
		errors.Is(err, signing.ErrSignatureInvalid),
		errors.Is(err, signing.ErrIdentityMismatch),
		errors.Is(err, signing.ErrIssuerMismatch):
		res.Outcome = OutcomeFailed
		res.Diagnostics = err.Error()
	default:
		return nil, err
	}
	return res, nil
}
