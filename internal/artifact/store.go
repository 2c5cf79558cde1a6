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

// Package artifact provides the content-addressed store that holds build
// outputs: image manifests, SBOMs, attestations, provenance documents and
// run evidence. Writes are append-only and keyed by content digest, which
// makes concurrent writers conflict-free.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no object exists for a digest or ref.
var ErrNotFound = errors.New("artifact: not found")

// Store is a content-addressed object store.
type Store interface {
	// Put stores data and returns its content digest. Storing the same
	// bytes twice is a no-op returning the same digest.
	Put(ctx context.Context, data []byte) (string, error)

	// Get returns the bytes stored under digest, or ErrNotFound.
	Get(ctx context.Context, digest string) ([]byte, error)
}

// RefStore extends Store with mutable named references, the way registries
// attach tags to content-addressed blobs. Refs are the only mutable state in
// the store; objects themselves never change.
type RefStore interface {
	Store

	// Tag points name at an object digest, replacing any prior target.
	Tag(ctx context.Context, name, digest string) error

	// Resolve returns the digest a ref points at, or ErrNotFound.
	Resolve(ctx context.Context, name string) (string, error)
}

// Digest computes the content digest of data in "sha256:<hex>" form.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// parseDigest validates a digest and returns its hex part.
func parseDigest(digest string) (string, error) {
	rest, ok := strings.CutPrefix(digest, "sha256:")
	if !ok || len(rest) != sha256.Size*2 {
		return "", fmt.Errorf("artifact: malformed digest %q", digest)
	}
	if _, err := hex.DecodeString(rest); err != nil {
		return "", fmt.Errorf("artifact: malformed digest %q", digest)
	}
	return rest, nil
}
