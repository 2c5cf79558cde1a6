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

package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relgate/relgate/internal/artifact"
)

const (
	testIdentity = "https://github.com/relgate/app/.github/workflows/release.yml@refs/heads/main"
	testIssuer   = "https://token.actions.githubusercontent.com"
)

type signingFixture struct {
	store    *artifact.MemoryStore
	signer   *Signer
	verifier *Verifier
	priv     ed25519.PrivateKey
}

func newFixture(t *testing.T) *signingFixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	store := artifact.NewMemoryStore()
	signer, err := NewSigner(store, priv, testIdentity, testIssuer)
	require.NoError(t, err)
	verifier, err := NewVerifier(store, pub, testIdentity, testIssuer)
	require.NoError(t, err)

	return &signingFixture{store: store, signer: signer, verifier: verifier, priv: priv}
}

func TestVerifyRoundTrip(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	digest := artifact.Digest([]byte("image manifest"))
	_, err := fx.signer.Sign(ctx, digest, []byte(`{"builder":"ci"}`))
	require.NoError(t, err)

	att, err := fx.verifier.Verify(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, digest, att.ArtifactDigest)
	assert.Equal(t, testIdentity, att.Identity)
	assert.Equal(t, testIssuer, att.Issuer)
}

func TestVerifyMissingAttestation(t *testing.T) {
	fx := newFixture(t)

	digest := artifact.Digest([]byte("unsigned image"))
	_, err := fx.verifier.Verify(context.Background(), digest)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyTamperedDigestFailsSignature(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	signedDigest := artifact.Digest([]byte("original image"))
	att, err := fx.signer.Sign(ctx, signedDigest, nil)
	require.NoError(t, err)

	// Point the tampered digest's attestation ref at the attestation that
	// was produced for the original content. The signature must fail, and
	// the failure kind must be SignatureInvalid, never NotFound.
	tamperedDigest := artifact.Digest([]byte("tampered image"))
	data, err := att.Encode()
	require.NoError(t, err)
	attDigest, err := fx.store.Put(ctx, data)
	require.NoError(t, err)
	require.NoError(t, fx.store.Tag(ctx, AttestationRef(tamperedDigest), attDigest))

	_, err = fx.verifier.Verify(ctx, tamperedDigest)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestVerifyIdentityMismatch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// Attestation validly signed, but by an unexpected workflow identity.
	otherSigner, err := NewSigner(fx.store, fx.priv, "https://github.com/attacker/app@refs/heads/main", testIssuer)
	require.NoError(t, err)

	digest := artifact.Digest([]byte("image"))
	_, err = otherSigner.Sign(ctx, digest, nil)
	require.NoError(t, err)

	_, err = fx.verifier.Verify(ctx, digest)
	assert.ErrorIs(t, err, ErrIdentityMismatch)
}

func TestVerifyIssuerMismatch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	otherSigner, err := NewSigner(fx.store, fx.priv, testIdentity, "https://accounts.example.com")
	require.NoError(t, err)

	digest := artifact.Digest([]byte("image"))
	_, err = otherSigner.Sign(ctx, digest, nil)
	require.NoError(t, err)

	_, err = fx.verifier.Verify(ctx, digest)
	assert.ErrorIs(t, err, ErrIssuerMismatch)
}

func TestVerifyExactIdentityMatching(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// A prefix of the expected identity must not pass; matching is exact
	// string equality, not substring or pattern matching.
	prefixSigner, err := NewSigner(fx.store, fx.priv, testIdentity+"-fork", testIssuer)
	require.NoError(t, err)

	digest := artifact.Digest([]byte("image"))
	_, err = prefixSigner.Sign(ctx, digest, nil)
	require.NoError(t, err)

	_, err = fx.verifier.Verify(ctx, digest)
	assert.ErrorIs(t, err, ErrIdentityMismatch)
}

func TestVerifierConstructorValidation(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	store := artifact.NewMemoryStore()

	_, err = NewVerifier(nil, pub, testIdentity, testIssuer)
	assert.Error(t, err)

	_, err = NewVerifier(store, pub[:10], testIdentity, testIssuer)
	assert.Error(t, err)

	_, err = NewVerifier(store, pub, "", testIssuer)
	assert.Error(t, err)
}
