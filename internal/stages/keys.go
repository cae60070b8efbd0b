package stages

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Tag is the storage key segment indicating approval status.
type Tag string

// Storage state tags.
const (
	TagRaw       Tag = "raw"
	TagProcessed Tag = "processed"
	TagFinal     Tag = "final"
)

// Key builds the deterministic storage key for a stage artifact. The same
// document, tag, and stage always map to the same key, which is what makes
// checkpoint uploads idempotent.
func Key(tag Tag, id uuid.UUID, stage Stage) string {
	return fmt.Sprintf("%s/%s/%s", tag, id, stage)
}

// SourceKey returns the storage key of the original uploaded document.
func SourceKey(id uuid.UUID) string {
	return fmt.Sprintf("%s/%s/source.pdf", TagRaw, id)
}

// DocumentFromKey extracts the document id segment from a storage key of the
// form tag/{id}/..., or fails for keys outside the scheme.
func DocumentFromKey(key string) (uuid.UUID, error) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) < 3 {
		return uuid.Nil, fmt.Errorf("key outside artifact scheme: %q", key)
	}
	return uuid.Parse(parts[1])
}
