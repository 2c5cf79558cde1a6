package signing

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/relgate/relgate/internal/artifact"
	"github.com/relgate/relgate/internal/release"
)

// Signer produces attestations over artifact digests and publishes them to
// the store under the digest's attestation ref. The build stage uses it to
// sign release candidates.
type Signer struct {
	store    artifact.RefStore
	priv     ed25519.PrivateKey
	identity string
	issuer   string
}

// NewSigner creates a Signer signing as identity under issuer.
func NewSigner(store artifact.RefStore, priv ed25519.PrivateKey, identity, issuer string) (*Signer, error) {
	if store == nil {
		return nil, fmt.Errorf("signing: store is required")
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing: invalid private key length %d", len(priv))
	}
	return &Signer{store: store, priv: priv, identity: identity, issuer: issuer}, nil
}

// Sign creates, stores, and tags an attestation for artifactDigest with an
// optional provenance predicate.
func (s *Signer) Sign(ctx context.Context, artifactDigest string, predicate []byte) (*release.Attestation, error) {
	payload := release.SigningPayload(artifactDigest, s.identity, s.issuer, predicate)
	att := &release.Attestation{
		ArtifactDigest: artifactDigest,
		Identity:       s.identity,
		Issuer:         s.issuer,
		Signature:      ed25519.Sign(s.priv, payload),
		Predicate:      predicate,
	}

	data, err := att.Encode()
	if err != nil {
		return nil, fmt.Errorf("signing: encode attestation: %w", err)
	}
	attDigest, err := s.store.Put(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("signing: store attestation: %w", err)
	}
	if err := s.store.Tag(ctx, AttestationRef(artifactDigest), attDigest); err != nil {
		return nil, fmt.Errorf("signing: tag attestation: %w", err)
	}
	return att, nil
}
