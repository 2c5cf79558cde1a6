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

// Package lock serializes deployments per target. Two pipeline runs may
// execute concurrently, but only one of them may mutate a given deployment
// target at a time.
package lock

import (
	"context"
	"sync"
)

// TargetLocker grants exclusive access to a deployment target.
type TargetLocker interface {
	// Acquire blocks until the lock for target is held or ctx is done.
	// The returned function releases the lock.
	Acquire(ctx context.Context, target string) (func(), error)
}

// MemoryLocker serializes targets within a single process.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]chan struct{})}
}

func (l *MemoryLocker) slot(target string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[target]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[target] = s
	}
	return s
}

func (l *MemoryLocker) Acquire(ctx context.Context, target string) (func(), error) {
	s := l.slot(target)
	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
