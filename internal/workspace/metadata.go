package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/docforge/docforge/internal/ledger"
	"github.com/docforge/docforge/internal/stages"
)

const metadataFile = "document.json"

// StageStatus tracks one stage's local artifact. Version counts how many
// times the stage has run for this document; UploadedVersion is the version
// last checkpointed to the artifact store. Stale marks a downstream artifact
// whose predecessor has since re-run; stale artifacts are reported, never
// auto-deleted.
type StageStatus struct {
	Version         int       `json:"version"`
	UploadedVersion int       `json:"uploaded_version"`
	Stale           bool      `json:"stale"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Metadata is the per-document workspace record mirroring the ledger: current
// state, per-stage versions, and a copy of the transition history.
type Metadata struct {
	DocumentID uuid.UUID                       `json:"doc_id"`
	State      ledger.State                    `json:"state"`
	Stages     map[stages.Stage]*StageStatus   `json:"stages"`
	Summary    string                          `json:"summary,omitempty"`
	History    []ledger.Transition             `json:"history,omitempty"`
	UpdatedAt  time.Time                       `json:"updated_at"`
}

// NewMetadata creates an empty metadata record for a document in the raw state.
func NewMetadata(id uuid.UUID) *Metadata {
	return &Metadata{
		DocumentID: id,
		State:      ledger.StateRaw,
		Stages:     make(map[stages.Stage]*StageStatus),
		UpdatedAt:  time.Now().UTC(),
	}
}

// RecordStage bumps the stage's version, clears its stale flag, and marks all
// downstream stage artifacts stale. Returns the new version.
func (m *Metadata) RecordStage(stage stages.Stage) int {
	status := m.Stages[stage]
	if status == nil {
		status = &StageStatus{}
		m.Stages[stage] = status
	}

	status.Version++
	status.Stale = false
	status.UpdatedAt = time.Now().UTC()

	for _, downstream := range stage.Downstream() {
		if ds := m.Stages[downstream]; ds != nil {
			ds.Stale = true
		}
	}

	return status.Version
}

// RecordUpload marks the stage's current version as checkpointed.
func (m *Metadata) RecordUpload(stage stages.Stage) {
	if status := m.Stages[stage]; status != nil {
		status.UploadedVersion = status.Version
	}
}

// PendingUpload returns the stages whose local version is newer than the last
// uploaded version.
func (m *Metadata) PendingUpload() []stages.Stage {
	var pending []stages.Stage
	for _, stage := range stages.Order {
		if status := m.Stages[stage]; status != nil && status.Version > status.UploadedVersion {
			pending = append(pending, stage)
		}
	}
	return pending
}

// ReadMetadata loads a document's metadata file.
// Returns ErrNoMetadata if none exists.
func (m *Manager) ReadMetadata(id uuid.UUID) (*Metadata, error) {
	path := filepath.Join(m.DocumentDir(id), metadataFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoMetadata
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if meta.Stages == nil {
		meta.Stages = make(map[stages.Stage]*StageStatus)
	}

	return &meta, nil
}

// WriteMetadata persists a document's metadata file via rename so readers
// never observe a partial write.
func (m *Manager) WriteMetadata(meta *Metadata) error {
	dir := m.DocumentDir(meta.DocumentID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create document directory: %w", err)
	}

	meta.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	tmp := filepath.Join(dir, metadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	if err := os.Rename(tmp, filepath.Join(dir, metadataFile)); err != nil {
		return fmt.Errorf("commit metadata: %w", err)
	}

	return nil
}
