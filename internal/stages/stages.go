// Package stages defines the fixed pipeline stage sequence, the stage artifact
// model, and the runner contract implemented by each stage. Stages run in the
// order parse → enhance → structure → format; each consumes its predecessor's
// artifact.
package stages

import (
	"fmt"

	"github.com/google/uuid"
)

// Stage identifies one pipeline step.
type Stage string

// Pipeline stages in execution order.
const (
	StageParse     Stage = "parse"
	StageEnhance   Stage = "enhance"
	StageStructure Stage = "structure"
	StageFormat    Stage = "format"
)

// Order lists all stages in execution order.
var Order = []Stage{StageParse, StageEnhance, StageStructure, StageFormat}

// Index returns the stage's position in the pipeline order, or -1 for unknown stages.
func (s Stage) Index() int {
	for i, stage := range Order {
		if stage == s {
			return i
		}
	}
	return -1
}

// Downstream returns the stages that depend on s, in order.
func (s Stage) Downstream() []Stage {
	i := s.Index()
	if i < 0 || i+1 >= len(Order) {
		return nil
	}
	return Order[i+1:]
}

// Filename returns the workspace file name for the stage's artifact.
func (s Stage) Filename() string {
	switch s {
	case StageParse:
		return "parse.md"
	case StageEnhance:
		return "enhance.md"
	case StageStructure:
		return "structure.json"
	case StageFormat:
		return "format.json"
	default:
		return string(s)
	}
}

// ContentType returns the MIME type of the stage's artifact.
func (s Stage) ContentType() string {
	switch s {
	case StageParse, StageEnhance:
		return "text/markdown"
	case StageStructure, StageFormat:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// ParseStage converts a string into a Stage, or fails for unknown values.
func ParseStage(s string) (Stage, error) {
	for _, stage := range Order {
		if s == string(stage) {
			return stage, nil
		}
	}
	return "", fmt.Errorf("unknown stage: %q", s)
}

// Artifact is the output of one stage for one document. Version counts how
// many times the stage has produced output for the document; re-running a
// stage bumps the version and marks downstream artifacts stale.
type Artifact struct {
	DocumentID  uuid.UUID `json:"document_id"`
	Stage       Stage     `json:"stage"`
	Content     []byte    `json:"-"`
	ContentType string    `json:"content_type"`
	Version     int       `json:"version"`

	// Summary is an optional human-readable digest of the artifact. Only the
	// format stage produces one; it is mirrored into the workspace metadata.
	Summary string `json:"summary,omitempty"`
}
