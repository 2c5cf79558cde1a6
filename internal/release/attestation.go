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

package release

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Attestation is a detached signature over an artifact digest together with
// the signer's identity and issuer claims and an optional provenance
// predicate. It is verified and consumed by the deploy gate, never mutated.
type Attestation struct {
	ArtifactDigest string          `json:"artifact_digest"`
	Identity       string          `json:"identity"`
	Issuer         string          `json:"issuer"`
	Signature      []byte          `json:"signature"`
	Predicate      json.RawMessage `json:"predicate,omitempty"`
}

// ParseAttestation decodes an attestation document.
func ParseAttestation(data []byte) (*Attestation, error) {
	var att Attestation
	if err := json.Unmarshal(data, &att); err != nil {
		return nil, fmt.Errorf("release: decode attestation: %w", err)
	}
	if att.ArtifactDigest == "" {
		return nil, fmt.Errorf("release: attestation missing artifact digest")
	}
	if len(att.Signature) == 0 {
		return nil, fmt.Errorf("release: attestation missing signature")
	}
	return &att, nil
}

// Encode serializes the attestation document.
func (a *Attestation) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// SigningPayload returns the canonical byte sequence covered by the
// signature for the given artifact digest. Callers pass the digest they are
// verifying, not the one claimed inside the document, so a tampered artifact
// always fails signature validation rather than slipping through on its own
// claim.
func SigningPayload(artifactDigest, identity, issuer string, predicate []byte) []byte {
	predicateSum := sha256.Sum256(predicate)
	payload := fmt.Sprintf("%s\n%s\n%s\n%x", artifactDigest, identity, issuer, predicateSum)
	return []byte(payload)
}
