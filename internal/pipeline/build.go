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
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/relgate/relgate/internal/artifact"
	"github.com/relgate/relgate/internal/release"
	"github.com/relgate/relgate/internal/signing"
	"github.com/relgate/relgate/pkg/log"
)

// buildProvenance is the predicate embedded in the candidate's attestation.
type buildProvenance struct {
	Source    string    `json:"source"`
	Command   []string  `json:"command,omitempty"`
	BuiltAt   time.Time `json:"built_at"`
	SBOMRef   string    `json:"sbom_ref,omitempty"`
	BuilderID string    `json:"builder_id"`
}

// CommandBuilder builds a candidate by running an external build command
// that writes the artifact to OutputPath, then stores, signs, and attests
// the result. With no command configured the source is treated as a
// prebuilt artifact file.
type CommandBuilder struct {
	Store   artifact.Store
	Signer  *signing.Signer
	Logger  *log.Logger
	Command []string
	// OutputPath is where Command leaves the artifact. The file is read
	// after the command exits.
	OutputPath string
	// SBOMPath, when set, is stored alongside the artifact.
	SBOMPath string
	Workdir  string
	Timeout  time.Duration
}

func (b *CommandBuilder) Build(ctx context.Context, source string) (*release.Candidate, error) {
	if b.Store == nil || b.Signer == nil {
		return nil, fmt.Errorf("build: store and signer are required")
	}
	builtAt := time.Now()

	path := source
	if len(b.Command) > 0 {
		if err := b.runCommand(ctx, source); err != nil {
			return nil, err
		}
		path = b.OutputPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("build: read artifact: %w", err)
	}
	digest, err := b.Store.Put(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("build: store artifact: %w", err)
	}
	b.Logger.Log.Infow("candidate built", "source", source, "digest", digest, "bytes", len(raw))

	artifacts := make(map[release.ArtifactKind]string)
	if b.SBOMPath != "" {
		sbom, err := os.ReadFile(b.SBOMPath)
		if err != nil {
			return nil, fmt.Errorf("build: read sbom: %w", err)
		}
		sbomDigest, err := b.Store.Put(ctx, sbom)
		if err != nil {
			return nil, fmt.Errorf("build: store sbom: %w", err)
		}
		artifacts[release.ArtifactSBOM] = sbomDigest
	}

	predicate, err := json.Marshal(buildProvenance{
		Source:    source,
		Command:   b.Command,
		BuiltAt:   builtAt,
		SBOMRef:   artifacts[release.ArtifactSBOM],
		BuilderID: "relgate/command-builder",
	})
	if err != nil {
		return nil, fmt.Errorf("build: encode provenance: %w", err)
	}
	if _, err := b.Signer.Sign(ctx, digest, predicate); err != nil {
		return nil, err
	}
	artifacts[release.ArtifactAttestation] = signing.AttestationRef(digest)

	return release.NewCandidate(digest, source, builtAt, artifacts)
}

func (b *CommandBuilder) runCommand(ctx context.Context, source string) error {
	if b.OutputPath == "" {
		return fmt.Errorf("build: output path is required when a build command is set")
	}
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, b.Command[0], b.Command[1:]...)
	cmd.Dir = b.Workdir
	cmd.Env = append(os.Environ(),
		"RELGATE_SOURCE="+source,
		"RELGATE_OUTPUT="+b.OutputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build: command failed: %w: %s", err, stderr.String())
	}
	return nil
}
