// Package pipeline orchestrates the document processing pipeline: it drives a
// document through the ledger state machine, runs the four stages in order
// with bounded retries, checkpoints artifacts to the artifact store, and rolls
// the document back to raw on failure so it can be retried.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docforge/docforge/internal/ledger"
	"github.com/docforge/docforge/internal/stages"
	"github.com/docforge/docforge/internal/workspace"
	"github.com/docforge/docforge/pkg/retry"
	"github.com/docforge/docforge/pkg/storage"
)

const (
	actorOrchestrator = "orchestrator"

	// maxConcurrentUploads bounds parallel checkpoint uploads per run.
	maxConcurrentUploads = 4
)

// Orchestrator coordinates one pipeline run at a time per document. Mutual
// exclusion between concurrent runs comes entirely from the ledger's
// compare-and-swap transition into processing; the orchestrator holds no
// locks of its own.
type Orchestrator struct {
	ledger       ledger.System
	store        storage.System
	workspace    *workspace.Manager
	runners      []stages.Runner
	stagePolicy  retry.Policy
	uploadPolicy retry.Policy
	maxTimeout   time.Duration
	cleanup      bool
	logger       *slog.Logger
}

// New creates an Orchestrator. Runners must cover every pipeline stage in
// execution order.
func New(
	cfg *Config,
	led ledger.System,
	store storage.System,
	ws *workspace.Manager,
	runners []stages.Runner,
	logger *slog.Logger,
) (*Orchestrator, error) {
	if len(runners) != len(stages.Order) {
		return nil, fmt.Errorf("expected %d stage runners, got %d", len(stages.Order), len(runners))
	}
	for i, runner := range runners {
		if runner.Stage() != stages.Order[i] {
			return nil, fmt.Errorf("runner %d: expected stage %s, got %s", i, stages.Order[i], runner.Stage())
		}
	}

	return &Orchestrator{
		ledger:       led,
		store:        store,
		workspace:    ws,
		runners:      runners,
		stagePolicy:  cfg.Policy(stages.Retryable),
		uploadPolicy: cfg.Policy(nil),
		maxTimeout:   cfg.MaxTimeoutDuration(),
		cleanup:      cfg.CleanupAfterUpload,
		logger:       logger.With("system", "pipeline"),
	}, nil
}

// Run executes the full pipeline for a document in the raw state. On success
// the document lands in processed with all artifacts checkpointed; on any
// terminal failure the document rolls back to raw. A losing compare-and-swap
// at the start returns ErrAlreadyProcessing without touching anything.
func (o *Orchestrator) Run(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	if err := o.ledger.Transition(ctx, id, ledger.StateRaw, ledger.StateProcessing, actorOrchestrator); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessing, id)
		}
		return nil, err
	}

	o.logger.Info("pipeline run started", "id", id)
	rec := newRunRecord(id)

	meta, err := o.workspace.ReadMetadata(id)
	if err != nil {
		if !errors.Is(err, workspace.ErrNoMetadata) {
			return o.fail(ctx, rec, meta, err)
		}
		meta = workspace.NewMetadata(id)
	}
	meta.State = ledger.StateProcessing
	if err := o.workspace.WriteMetadata(meta); err != nil {
		return o.fail(ctx, rec, meta, err)
	}

	source, err := o.fetchSource(ctx, id)
	if err != nil {
		return o.fail(ctx, rec, meta, err)
	}

	input := &stages.Artifact{
		DocumentID:  id,
		Content:     source,
		ContentType: "application/pdf",
	}

	artifacts := make([]*stages.Artifact, 0, len(o.runners))
	for _, runner := range o.runners {
		started := time.Now().UTC()

		output, attempts, err := o.runStage(ctx, runner, id, input)
		if err != nil {
			rec.record(runner.Stage(), OutcomeFailed, attempts, started, err)
			rec.skipAfter(runner.Stage())
			stageErr := &Error{Stage: runner.Stage(), Cause: err}
			return o.fail(ctx, rec, meta, stageErr)
		}

		output.Version = meta.RecordStage(output.Stage)
		if output.Summary != "" {
			meta.Summary = output.Summary
		}
		if _, err := o.workspace.WriteArtifact(output); err != nil {
			rec.record(runner.Stage(), OutcomeFailed, attempts, started, err)
			rec.skipAfter(runner.Stage())
			return o.fail(ctx, rec, meta, err)
		}

		rec.record(runner.Stage(), OutcomeSucceeded, attempts, started, nil)
		artifacts = append(artifacts, output)
		input = output
	}
	if err := o.workspace.WriteMetadata(meta); err != nil {
		return o.fail(ctx, rec, meta, err)
	}

	if err := o.uploadCheckpoints(ctx, id, artifacts, meta); err != nil {
		return o.fail(ctx, rec, meta, fmt.Errorf("%w: %v", ErrUploadFailed, err))
	}
	if err := o.workspace.WriteMetadata(meta); err != nil {
		return o.fail(ctx, rec, meta, err)
	}

	if err := o.ledger.Transition(ctx, id, ledger.StateProcessing, ledger.StateProcessed, actorOrchestrator); err != nil {
		rec.finish(err)
		return rec, err
	}
	o.mirror(ctx, meta, ledger.StateProcessed)

	if o.cleanup {
		if err := o.workspace.Cleanup(id); err != nil {
			o.logger.Warn("workspace cleanup failed", "id", id, "error", err)
		}
	}

	rec.finish(nil)
	o.logger.Info("pipeline run complete", "id", id)
	return rec, nil
}

// ApproveFinal promotes a processed document to final, uploading the
// reviewer-approved content before the state transition. The current state is
// checked first so nothing is written for documents outside processed.
func (o *Orchestrator) ApproveFinal(ctx context.Context, id uuid.UUID, content []byte, actor string) error {
	state, err := o.ledger.State(ctx, id)
	if err != nil {
		return err
	}
	if state != ledger.StateProcessed {
		return fmt.Errorf("%w: approval requires processed, document is %s", ledger.ErrInvalidTransition, state)
	}

	key := stages.Key(stages.TagFinal, id, stages.StageFormat)
	err = o.uploadPolicy.Do(ctx, func(ctx context.Context) error {
		return o.store.Put(ctx, key, bytes.NewReader(content), stages.StageFormat.ContentType())
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	if err := o.ledger.Transition(ctx, id, ledger.StateProcessed, ledger.StateFinal, actor); err != nil {
		return err
	}

	if meta, metaErr := o.workspace.ReadMetadata(id); metaErr == nil {
		o.mirror(ctx, meta, ledger.StateFinal)
	}

	o.logger.Info("document approved", "id", id, "actor", actor)
	return nil
}

func (o *Orchestrator) fetchSource(ctx context.Context, id uuid.UUID) ([]byte, error) {
	reader, err := o.store.Get(ctx, stages.SourceKey(id))
	if err != nil {
		return nil, fmt.Errorf("fetch source document: %w", err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	return content, nil
}

// runStage executes one stage under the retry policy and a per-stage timeout.
func (o *Orchestrator) runStage(ctx context.Context, runner stages.Runner, id uuid.UUID, input *stages.Artifact) (*stages.Artifact, int, error) {
	var (
		output   *stages.Artifact
		attempts int
	)

	err := o.stagePolicy.Do(ctx, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			o.logger.Info("retrying stage", "id", id, "stage", runner.Stage(), "attempt", attempts)
		}

		stageCtx := ctx
		if o.maxTimeout > 0 {
			var cancel context.CancelFunc
			stageCtx, cancel = context.WithTimeout(ctx, o.maxTimeout)
			defer cancel()
		}

		result, err := runner.Run(stageCtx, id, input)
		if err != nil {
			return err
		}
		output = result
		return nil
	})
	if err != nil {
		return nil, attempts, err
	}

	return output, attempts, nil
}

// uploadCheckpoints pushes every stage artifact to its processed key, each
// under the upload retry policy. Successful uploads are recorded even when a
// sibling fails, so a later run only re-uploads what is missing.
func (o *Orchestrator) uploadCheckpoints(ctx context.Context, id uuid.UUID, artifacts []*stages.Artifact, meta *workspace.Metadata) error {
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentUploads)

	for _, artifact := range artifacts {
		g.Go(func() error {
			key := stages.Key(stages.TagProcessed, id, artifact.Stage)
			err := o.uploadPolicy.Do(ctx, func(ctx context.Context) error {
				return o.store.Put(ctx, key, bytes.NewReader(artifact.Content), artifact.ContentType)
			})
			if err != nil {
				return fmt.Errorf("upload %s: %w", key, err)
			}

			mu.Lock()
			meta.RecordUpload(artifact.Stage)
			mu.Unlock()
			return nil
		})
	}

	return g.Wait()
}

// fail rolls the document back to raw. Rollback runs on a context detached
// from cancellation so an aborted run still lands in a retryable state.
func (o *Orchestrator) fail(ctx context.Context, rec *RunRecord, meta *workspace.Metadata, cause error) (*RunRecord, error) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := o.ledger.Transition(rollbackCtx, rec.DocumentID, ledger.StateProcessing, ledger.StateRaw, actorOrchestrator); err != nil {
		o.logger.Error("rollback to raw failed", "id", rec.DocumentID, "error", err)
	} else if meta != nil {
		o.mirror(rollbackCtx, meta, ledger.StateRaw)
	}

	rec.finish(cause)
	o.logger.Error("pipeline run failed", "id", rec.DocumentID, "error", cause)
	return rec, cause
}

// mirror updates the workspace metadata copy of the ledger state and history.
// The ledger is authoritative; mirror failures are logged, not propagated.
func (o *Orchestrator) mirror(ctx context.Context, meta *workspace.Metadata, state ledger.State) {
	meta.State = state
	if history, err := o.ledger.History(ctx, meta.DocumentID); err == nil {
		meta.History = history
	}
	if err := o.workspace.WriteMetadata(meta); err != nil {
		o.logger.Warn("metadata mirror update failed", "id", meta.DocumentID, "error", err)
	}
}
