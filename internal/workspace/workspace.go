// Package workspace manages the per-document directory tree holding
// intermediate stage artifacts before upload, plus a metadata file mirroring
// the ledger state and stage versions. Layout under the workspace root:
//
//	{root}/{doc_id}/document.json
//	{root}/{doc_id}/{stage}/{stage artifact file}
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/docforge/docforge/internal/stages"
)

// ErrNoMetadata indicates a document has no workspace metadata file.
var ErrNoMetadata = errors.New("workspace metadata not found")

// Manager owns a workspace root directory.
type Manager struct {
	root   string
	logger *slog.Logger
}

// New creates a Manager rooted at root, creating the directory if needed.
func New(root string, logger *slog.Logger) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root must not be empty")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{
		root:   root,
		logger: logger.With("system", "workspace"),
	}, nil
}

// Root returns the workspace root directory.
func (m *Manager) Root() string {
	return m.root
}

// DocumentDir returns the directory holding a document's workspace files.
func (m *Manager) DocumentDir(id uuid.UUID) string {
	return filepath.Join(m.root, id.String())
}

// StagePath returns the directory for a document's stage artifacts,
// guaranteed to exist on return.
func (m *Manager) StagePath(id uuid.UUID, stage stages.Stage) (string, error) {
	dir := filepath.Join(m.DocumentDir(id), string(stage))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create stage directory %s: %w", dir, err)
	}
	return dir, nil
}

// WriteArtifact persists a stage artifact's content into the document's stage
// directory and returns the file path. Written via rename so a crash mid-write
// cannot leave a truncated artifact behind.
func (m *Manager) WriteArtifact(a *stages.Artifact) (string, error) {
	dir, err := m.StagePath(a.DocumentID, a.Stage)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, a.Stage.Filename())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, a.Content, 0640); err != nil {
		return "", fmt.Errorf("write %s artifact: %w", a.Stage, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit %s artifact: %w", a.Stage, err)
	}

	return path, nil
}

// ReadArtifact loads a stage artifact's content from the workspace.
// Returns os.ErrNotExist if the stage has no local artifact.
func (m *Manager) ReadArtifact(id uuid.UUID, stage stages.Stage) (*stages.Artifact, error) {
	path := filepath.Join(m.DocumentDir(id), string(stage), stage.Filename())
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return &stages.Artifact{
		DocumentID:  id,
		Stage:       stage,
		Content:     content,
		ContentType: stage.ContentType(),
	}, nil
}

// Cleanup removes a document's local stage intermediates, keeping the
// document-level metadata file. Callers must only invoke this after the
// ledger confirms PROCESSED and uploads are verified; local data is never the
// sole copy of a completed stage.
func (m *Manager) Cleanup(id uuid.UUID) error {
	for _, stage := range stages.Order {
		dir := filepath.Join(m.DocumentDir(id), string(stage))
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("cleanup stage %s: %w", stage, err)
		}
	}
	m.logger.Info("workspace cleaned", "id", id)
	return nil
}

// Remove deletes a document's entire workspace directory, metadata included.
// Used when the document itself is deleted.
func (m *Manager) Remove(id uuid.UUID) error {
	if err := os.RemoveAll(m.DocumentDir(id)); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}
