// Package reconciler audits consistency between the ledger, the artifact
// store, and the local workspace. It is strictly read-only: every
// inconsistency becomes a Finding for an operator to act on, never an
// automatic repair.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docforge/docforge/internal/documents"
	"github.com/docforge/docforge/internal/ledger"
	"github.com/docforge/docforge/internal/stages"
	"github.com/docforge/docforge/internal/workspace"
	"github.com/docforge/docforge/pkg/storage"
)

// maxConcurrentChecks bounds parallel per-document audits within one scan.
const maxConcurrentChecks = 8

// Kind classifies a reconciliation finding.
type Kind string

// Finding kinds.
const (
	// KindMissingUpload: the ledger says processed or final, but an expected
	// checkpoint key is absent from the artifact store.
	KindMissingUpload Kind = "missing_upload"
	// KindOrphanArtifact: a checkpoint key exists for a document the ledger
	// does not know, or one still in raw.
	KindOrphanArtifact Kind = "orphan_artifact"
	// KindStaleLocal: a workspace artifact is newer than its last upload, or
	// marked stale by an upstream re-run.
	KindStaleLocal Kind = "stale_local"
	// KindStuckProcessing: a document has sat in processing beyond the stuck
	// timeout, likely an orchestrator that died mid-run.
	KindStuckProcessing Kind = "stuck_processing"
)

// Finding is one detected inconsistency.
type Finding struct {
	Kind       Kind         `json:"kind"`
	DocumentID uuid.UUID    `json:"document_id"`
	State      ledger.State `json:"state,omitempty"`
	Key        string       `json:"key,omitempty"`
	Stage      stages.Stage `json:"stage,omitempty"`
	Detail     string       `json:"detail"`
}

// Report is the result of one reconciliation scan.
type Report struct {
	ScannedAt time.Time `json:"scanned_at"`
	Documents int       `json:"documents"`
	Findings  []Finding `json:"findings"`
}

// DocumentSource lists every known document with its current state.
type DocumentSource interface {
	States(ctx context.Context) ([]documents.StateRecord, error)
}

// Reconciler scans for drift between the three artifact locations.
type Reconciler struct {
	documents    DocumentSource
	store        storage.System
	workspace    *workspace.Manager
	stuckTimeout time.Duration
	logger       *slog.Logger
}

// New creates a Reconciler.
func New(documents DocumentSource, store storage.System, ws *workspace.Manager, stuckTimeout time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		documents:    documents,
		store:        store,
		workspace:    ws,
		stuckTimeout: stuckTimeout,
		logger:       logger.With("system", "reconciler"),
	}
}

// Scan audits every known document plus every checkpoint key in the artifact
// store and reports all inconsistencies found. The scan itself never mutates
// ledger, store, or workspace.
func (r *Reconciler) Scan(ctx context.Context) (*Report, error) {
	records, err := r.documents.States(ctx)
	if err != nil {
		return nil, fmt.Errorf("list document states: %w", err)
	}

	known := make(map[uuid.UUID]ledger.State, len(records))
	for _, record := range records {
		known[record.ID] = record.State
	}

	report := &Report{
		ScannedAt: time.Now().UTC(),
		Documents: len(records),
	}

	var mu sync.Mutex
	collect := func(findings []Finding) {
		if len(findings) == 0 {
			return
		}
		mu.Lock()
		report.Findings = append(report.Findings, findings...)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChecks)

	for _, record := range records {
		g.Go(func() error {
			findings, err := r.checkDocument(gctx, record)
			if err != nil {
				return err
			}
			collect(findings)
			return nil
		})
	}

	g.Go(func() error {
		findings, err := r.checkOrphans(gctx, known)
		if err != nil {
			return err
		}
		collect(findings)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortFindings(report.Findings)
	r.logger.Info("reconciliation scan complete",
		"documents", report.Documents,
		"findings", len(report.Findings))
	return report, nil
}

// checkDocument audits a single document: checkpoint completeness for its
// state, workspace staleness, and time stuck in processing.
func (r *Reconciler) checkDocument(ctx context.Context, record documents.StateRecord) ([]Finding, error) {
	var findings []Finding

	switch record.State {
	case ledger.StateProcessed, ledger.StateFinal:
		missing, err := r.missingUploads(ctx, record)
		if err != nil {
			return nil, err
		}
		findings = append(findings, missing...)
	case ledger.StateProcessing:
		if r.stuckTimeout > 0 && time.Since(record.UpdatedAt) > r.stuckTimeout {
			findings = append(findings, Finding{
				Kind:       KindStuckProcessing,
				DocumentID: record.ID,
				State:      record.State,
				Detail: fmt.Sprintf("in processing since %s, exceeds stuck timeout %s",
					record.UpdatedAt.Format(time.RFC3339), r.stuckTimeout),
			})
		}
	}

	findings = append(findings, r.staleLocal(record)...)
	return findings, nil
}

func (r *Reconciler) missingUploads(ctx context.Context, record documents.StateRecord) ([]Finding, error) {
	var findings []Finding

	for _, stage := range stages.Order {
		key := stages.Key(stages.TagProcessed, record.ID, stage)
		exists, err := r.store.Exists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", key, err)
		}
		if !exists {
			findings = append(findings, Finding{
				Kind:       KindMissingUpload,
				DocumentID: record.ID,
				State:      record.State,
				Key:        key,
				Stage:      stage,
				Detail:     fmt.Sprintf("document is %s but checkpoint %s is missing", record.State, key),
			})
		}
	}

	if record.State == ledger.StateFinal {
		key := stages.Key(stages.TagFinal, record.ID, stages.StageFormat)
		exists, err := r.store.Exists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", key, err)
		}
		if !exists {
			findings = append(findings, Finding{
				Kind:       KindMissingUpload,
				DocumentID: record.ID,
				State:      record.State,
				Key:        key,
				Stage:      stages.StageFormat,
				Detail:     fmt.Sprintf("document is final but approved artifact %s is missing", key),
			})
		}
	}

	return findings, nil
}

// staleLocal inspects the workspace metadata mirror. A document with no
// metadata file is fine: local intermediates are disposable.
func (r *Reconciler) staleLocal(record documents.StateRecord) []Finding {
	meta, err := r.workspace.ReadMetadata(record.ID)
	if err != nil {
		if !errors.Is(err, workspace.ErrNoMetadata) {
			r.logger.Warn("workspace metadata unreadable", "id", record.ID, "error", err)
		}
		return nil
	}

	var findings []Finding
	for _, stage := range stages.Order {
		status := meta.Stages[stage]
		if status == nil {
			continue
		}
		if status.Stale {
			findings = append(findings, Finding{
				Kind:       KindStaleLocal,
				DocumentID: record.ID,
				State:      record.State,
				Stage:      stage,
				Detail:     fmt.Sprintf("local %s artifact is stale: an upstream stage re-ran after it was produced", stage),
			})
			continue
		}
		if record.State != ledger.StateProcessing && status.Version > status.UploadedVersion {
			findings = append(findings, Finding{
				Kind:       KindStaleLocal,
				DocumentID: record.ID,
				State:      record.State,
				Stage:      stage,
				Detail: fmt.Sprintf("local %s artifact at version %d, last uploaded version %d",
					stage, status.Version, status.UploadedVersion),
			})
		}
	}
	return findings
}

// checkOrphans lists processed and final checkpoints and flags keys whose
// document the ledger does not know, or knows only as raw.
func (r *Reconciler) checkOrphans(ctx context.Context, known map[uuid.UUID]ledger.State) ([]Finding, error) {
	var findings []Finding

	for _, tag := range []stages.Tag{stages.TagProcessed, stages.TagFinal} {
		keys, err := r.store.List(ctx, string(tag)+"/")
		if err != nil {
			return nil, fmt.Errorf("list %s artifacts: %w", tag, err)
		}

		for _, key := range keys {
			id, err := stages.DocumentFromKey(key)
			if err != nil {
				findings = append(findings, Finding{
					Kind:   KindOrphanArtifact,
					Key:    key,
					Detail: fmt.Sprintf("key outside the artifact scheme: %v", err),
				})
				continue
			}

			state, ok := known[id]
			switch {
			case !ok:
				findings = append(findings, Finding{
					Kind:       KindOrphanArtifact,
					DocumentID: id,
					Key:        key,
					Detail:     "artifact exists for a document the ledger does not know",
				})
			case state == ledger.StateRaw:
				findings = append(findings, Finding{
					Kind:       KindOrphanArtifact,
					DocumentID: id,
					State:      state,
					Key:        key,
					Detail:     "artifact exists for a document still in raw",
				})
			}
		}
	}

	return findings, nil
}

func sortFindings(findings []Finding) {
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].DocumentID != findings[j].DocumentID {
			return findings[i].DocumentID.String() < findings[j].DocumentID.String()
		}
		if findings[i].Kind != findings[j].Kind {
			return findings[i].Kind < findings[j].Kind
		}
		return findings[i].Key < findings[j].Key
	})
}
