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

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/relgate/relgate/internal/pipeline"
)

// RunRecord is one finished pipeline run as stored in the history table.
// Stage results are kept as a JSON document; queries filter on the scalar
// columns, the document is for display.
type RunRecord struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	RunID           string `gorm:"column:run_id;type:varchar(64);uniqueIndex"`
	Source          string `gorm:"column:source;type:varchar(512)"`
	CandidateDigest string `gorm:"column:candidate_digest;type:varchar(80);index"`
	Status          string `gorm:"column:status;type:varchar(32);index"`
	DeploymentState string `gorm:"column:deployment_state;type:varchar(32)"`
	EvidenceRef     string `gorm:"column:evidence_ref;type:varchar(128)"`
	Results         string `gorm:"column:results;type:text"`
	StartedAt       time.Time
	FinishedAt      time.Time
	CreatedAt       time.Time
}

func (RunRecord) TableName() string {
	return "rg_run"
}

// RunStore reads and writes the run history.
type RunStore struct {
	db *gorm.DB
}

func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

// Record persists a finished run.
func (s *RunStore) Record(ctx context.Context, run *pipeline.Run) error {
	results, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("store: encode results: %w", err)
	}
	rec := &RunRecord{
		RunID:           run.ID,
		Source:          run.Source,
		CandidateDigest: run.CandidateDigest,
		Status:          string(run.Status),
		DeploymentState: string(run.DeploymentState),
		EvidenceRef:     run.EvidenceRef,
		Results:         string(results),
		StartedAt:       run.StartedAt,
		FinishedAt:      run.FinishedAt,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("store: record run %s: %w", run.ID, err)
	}
	return nil
}

// Recent returns the most recently finished runs, newest first.
func (s *RunStore) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []RunRecord
	err := s.db.WithContext(ctx).
		Order("finished_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return recs, nil
}

// ByDigest returns every run that examined the given candidate.
func (s *RunStore) ByDigest(ctx context.Context, digest string) ([]RunRecord, error) {
	var recs []RunRecord
	err := s.db.WithContext(ctx).
		Where("candidate_digest = ?", digest).
		Order("finished_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("store: runs for %s: %w", digest, err)
	}
	return recs, nil
}
