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

// Package release defines the immutable release candidate model shared by
// all pipeline stages.
package release

import (
	"fmt"
	"time"
)

// ArtifactKind identifies a sub-artifact produced alongside a candidate.
type ArtifactKind string

const (
	ArtifactSBOM        ArtifactKind = "sbom"
	ArtifactAttestation ArtifactKind = "attestation"
	ArtifactProvenance  ArtifactKind = "provenance"
)

// Candidate is one release candidate: a built artifact identified by its
// content digest. A Candidate is created once by the build stage and never
// mutated; stages reference it by digest.
type Candidate struct {
	digest    string
	revision  string
	builtAt   time.Time
	artifacts map[ArtifactKind]string
}

// NewCandidate creates a Candidate. The artifacts map holds store digests of
// sub-artifacts keyed by kind and is copied, so the caller keeps no handle
// into the candidate.
func NewCandidate(digest, revision string, builtAt time.Time, artifacts map[ArtifactKind]string) (*Candidate, error) {
	if digest == "" {
		return nil, fmt.Errorf("release: candidate digest is required")
	}
	copied := make(map[ArtifactKind]string, len(artifacts))
	for k, v := range artifacts {
		copied[k] = v
	}
	return &Candidate{
		digest:    digest,
		revision:  revision,
		builtAt:   builtAt,
		artifacts: copied,
	}, nil
}

// Digest returns the content digest identifying this candidate.
func (c *Candidate) Digest() string {
	return c.digest
}

// Revision returns the source revision the candidate was built from.
func (c *Candidate) Revision() string {
	return c.revision
}

// BuiltAt returns the build timestamp.
func (c *Candidate) BuiltAt() time.Time {
	return c.builtAt
}

// Artifact returns the store digest of the sub-artifact of the given kind.
func (c *Candidate) Artifact(kind ArtifactKind) (string, bool) {
	d, ok := c.artifacts[kind]
	return d, ok
}

// Artifacts returns a copy of the sub-artifact digests keyed by kind.
func (c *Candidate) Artifacts() map[ArtifactKind]string {
	copied := make(map[ArtifactKind]string, len(c.artifacts))
	for k, v := range c.artifacts {
		copied[k] = v
	}
	return copied
}
