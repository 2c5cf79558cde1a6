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

// Package signing validates detached signatures and identity claims over
// artifact digests. An unverifiable signature is always a hard failure;
// there is no skip-verification path.
package signing

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/relgate/relgate/internal/artifact"
	"github.com/relgate/relgate/internal/release"
)

var (
	// ErrNotFound means no attestation exists for the digest.
	ErrNotFound = errors.New("signing: attestation not found")

	// ErrSignatureInvalid means the signature does not validate against
	// the artifact digest.
	ErrSignatureInvalid = errors.New("signing: signature invalid")

	// ErrIdentityMismatch means the signer identity claim does not equal
	// the expected identity.
	ErrIdentityMismatch = errors.New("signing: identity mismatch")

	// ErrIssuerMismatch means the issuer claim does not equal the
	// expected issuer.
	ErrIssuerMismatch = errors.New("signing: issuer mismatch")
)

// AttestationRef returns the store ref under which the attestation for an
// artifact digest is tagged.
func AttestationRef(artifactDigest string) string {
	return "att/" + artifactDigest
}

// Verifier validates attestations fetched from a RefStore against an
// ed25519 public key and expected identity and issuer claims.
type Verifier struct {
	store    artifact.RefStore
	pub      ed25519.PublicKey
	identity string
	issuer   string
}

// NewVerifier creates a Verifier. identity and issuer are the expected
// claims; both are compared with exact string equality.
func NewVerifier(store artifact.RefStore, pub ed25519.PublicKey, identity, issuer string) (*Verifier, error) {
	if store == nil {
		return nil, fmt.Errorf("signing: store is required")
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signing: invalid public key length %d", len(pub))
	}
	if identity == "" || issuer == "" {
		return nil, fmt.Errorf("signing: expected identity and issuer are required")
	}
	return &Verifier{store: store, pub: pub, identity: identity, issuer: issuer}, nil
}

// Verify fetches and validates the attestation for artifactDigest. It is
// the only path that authorizes a deployment and returns the validated
// attestation on success.
//
// Failure kinds: ErrNotFound when no attestation exists, ErrSignatureInvalid
// when the signature does not cover the digest, ErrIdentityMismatch and
// ErrIssuerMismatch for claim mismatches.
func (v *Verifier) Verify(ctx context.Context, artifactDigest string) (*release.Attestation, error) {
	attDigest, err := v.store.Resolve(ctx, AttestationRef(artifactDigest))
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, fmt.Errorf("%w: no attestation for %s", ErrNotFound, artifactDigest)
		}
		return nil, fmt.Errorf("signing: resolve attestation: %w", err)
	}

	data, err := v.store.Get(ctx, attDigest)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, fmt.Errorf("%w: attestation object missing for %s", ErrNotFound, artifactDigest)
		}
		return nil, fmt.Errorf("signing: fetch attestation: %w", err)
	}

	att, err := release.ParseAttestation(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	// The payload is rebuilt from the digest being verified, so a signature
	// produced for different content can never validate here.
	payload := release.SigningPayload(artifactDigest, att.Identity, att.Issuer, att.Predicate)
	if !ed25519.Verify(v.pub, payload, att.Signature) {
		return nil, fmt.Errorf("%w: digest %s", ErrSignatureInvalid, artifactDigest)
	}

	if att.Identity != v.identity {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrIdentityMismatch, att.Identity, v.identity)
	}
	if att.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrIssuerMismatch, att.Issuer, v.issuer)
	}

	return att, nil
}
