package workspace_test

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/docforge/docforge/internal/ledger"
	"github.com/docforge/docforge/internal/stages"
	"github.com/docforge/docforge/internal/workspace"
)

func testManager(t *testing.T) *workspace.Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := workspace.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("workspace.New failed: %v", err)
	}
	return m
}

func TestNewRequiresRoot(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := workspace.New("", logger); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestWriteReadArtifact(t *testing.T) {
	m := testManager(t)
	id := uuid.New()

	artifact := &stages.Artifact{
		DocumentID:  id,
		Stage:       stages.StageParse,
		Content:     []byte("# Parsed"),
		ContentType: "text/markdown",
	}

	path, err := m.WriteArtifact(artifact)
	if err != nil {
		t.Fatalf("WriteArtifact failed: %v", err)
	}
	if filepath.Base(path) != "parse.md" {
		t.Errorf("artifact file = %q, want parse.md", filepath.Base(path))
	}

	got, err := m.ReadArtifact(id, stages.StageParse)
	if err != nil {
		t.Fatalf("ReadArtifact failed: %v", err)
	}
	if string(got.Content) != "# Parsed" {
		t.Errorf("content = %q, want %q", got.Content, "# Parsed")
	}
	if got.ContentType != "text/markdown" {
		t.Errorf("content type = %q", got.ContentType)
	}
}

func TestWriteArtifactCommitsAtomically(t *testing.T) {
	m := testManager(t)
	id := uuid.New()

	artifact := &stages.Artifact{
		DocumentID:  id,
		Stage:       stages.StageEnhance,
		Content:     []byte("first"),
		ContentType: "text/markdown",
	}

	path, err := m.WriteArtifact(artifact)
	if err != nil {
		t.Fatalf("WriteArtifact failed: %v", err)
	}

	// overwrite goes through the same rename path
	artifact.Content = []byte("second")
	if _, err := m.WriteArtifact(artifact); err != nil {
		t.Fatalf("WriteArtifact overwrite failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read stage dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != stages.StageEnhance.Filename() {
		t.Errorf("stage dir entries = %v, want only the committed artifact", entries)
	}

	got, err := m.ReadArtifact(id, stages.StageEnhance)
	if err != nil {
		t.Fatalf("ReadArtifact failed: %v", err)
	}
	if string(got.Content) != "second" {
		t.Errorf("content = %q, want %q", got.Content, "second")
	}
}

func TestReadArtifactMissing(t *testing.T) {
	m := testManager(t)
	if _, err := m.ReadArtifact(uuid.New(), stages.StageParse); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("error = %v, want os.ErrNotExist", err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	m := testManager(t)
	id := uuid.New()

	meta := workspace.NewMetadata(id)
	meta.State = ledger.StateProcessing
	meta.RecordStage(stages.StageParse)

	if err := m.WriteMetadata(meta); err != nil {
		t.Fatalf("WriteMetadata failed: %v", err)
	}

	got, err := m.ReadMetadata(id)
	if err != nil {
		t.Fatalf("ReadMetadata failed: %v", err)
	}
	if got.State != ledger.StateProcessing {
		t.Errorf("state = %s, want processing", got.State)
	}
	if got.Stages[stages.StageParse].Version != 1 {
		t.Errorf("parse version = %d, want 1", got.Stages[stages.StageParse].Version)
	}
}

func TestReadMetadataMissing(t *testing.T) {
	m := testManager(t)
	if _, err := m.ReadMetadata(uuid.New()); !errors.Is(err, workspace.ErrNoMetadata) {
		t.Fatalf("error = %v, want ErrNoMetadata", err)
	}
}

func TestRecordStageVersioning(t *testing.T) {
	meta := workspace.NewMetadata(uuid.New())

	for _, stage := range stages.Order {
		meta.RecordStage(stage)
	}

	// re-running parse bumps its version and marks everything downstream stale
	if v := meta.RecordStage(stages.StageParse); v != 2 {
		t.Errorf("parse version = %d, want 2", v)
	}
	for _, stage := range stages.StageParse.Downstream() {
		if !meta.Stages[stage].Stale {
			t.Errorf("%s should be stale after parse re-ran", stage)
		}
	}
	if meta.Stages[stages.StageParse].Stale {
		t.Error("parse should not be stale after its own re-run")
	}

	// re-running a stale downstream stage clears its own flag only
	meta.RecordStage(stages.StageEnhance)
	if meta.Stages[stages.StageEnhance].Stale {
		t.Error("enhance should be fresh after re-running")
	}
	if !meta.Stages[stages.StageStructure].Stale {
		t.Error("structure should remain stale")
	}
}

func TestPendingUpload(t *testing.T) {
	meta := workspace.NewMetadata(uuid.New())
	meta.RecordStage(stages.StageParse)
	meta.RecordStage(stages.StageEnhance)
	meta.RecordUpload(stages.StageParse)

	pending := meta.PendingUpload()
	if len(pending) != 1 || pending[0] != stages.StageEnhance {
		t.Errorf("pending = %v, want [enhance]", pending)
	}
}

func TestCleanupKeepsMetadata(t *testing.T) {
	m := testManager(t)
	id := uuid.New()

	if _, err := m.WriteArtifact(&stages.Artifact{
		DocumentID: id,
		Stage:      stages.StageParse,
		Content:    []byte("content"),
	}); err != nil {
		t.Fatalf("WriteArtifact failed: %v", err)
	}
	if err := m.WriteMetadata(workspace.NewMetadata(id)); err != nil {
		t.Fatalf("WriteMetadata failed: %v", err)
	}

	if err := m.Cleanup(id); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	if _, err := m.ReadArtifact(id, stages.StageParse); !errors.Is(err, os.ErrNotExist) {
		t.Error("stage artifact should be removed by cleanup")
	}
	if _, err := m.ReadMetadata(id); err != nil {
		t.Errorf("metadata should survive cleanup, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	m := testManager(t)
	id := uuid.New()

	if err := m.WriteMetadata(workspace.NewMetadata(id)); err != nil {
		t.Fatalf("WriteMetadata failed: %v", err)
	}
	if err := m.Remove(id); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(m.DocumentDir(id)); !errors.Is(err, os.ErrNotExist) {
		t.Error("document directory should be gone")
	}
}
