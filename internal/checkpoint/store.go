package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is the capability interface for the checkpoint/blob backend.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// Meta is stored alongside checkpoint bytes.
type Meta struct {
	NamespaceID  string    `json:"namespace_id"`
	FMVersion    string    `json:"fm_version"`
	VersionCount int       `json:"version_count"`
	SizeBytes    int64     `json:"size_bytes"`
	CreatedAt    time.Time `json:"created_at"`
}

// Marker is the "verified" integrity record. Verification is a presence
// check on an unexpired marker, not a recomputation of the checkpoint
// bytes; the hash itself is an identifier, not a content digest.
type Marker struct {
	Verified  bool      `json:"verified"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Hash derives the checkpoint identifier from the namespace, the model
// version, the merge counter, and creation time. Including wall-clock time
// makes it unique per merge rather than reproducible from inputs.
func Hash(namespaceID uuid.UUID, fmVersion string, versionCount int, at time.Time) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d", namespaceID, fmVersion, versionCount, at.UnixNano())))
	return hex.EncodeToString(h[:])
}

func DataKey(nsUID, hash string) string {
	return fmt.Sprintf("checkpoints/%s/%s", nsUID, hash)
}

func MetaKey(nsUID, hash string) string {
	return fmt.Sprintf("checkpoints/%s/%s.meta", nsUID, hash)
}

func MarkerKey(nsUID, hash string) string {
	return fmt.Sprintf("checkpoints/%s/%s.verified", nsUID, hash)
}

func AdapterKey(nsUID, subject string) string {
	return fmt.Sprintf("adapters/%s/%s", nsUID, subject)
}

func BaseModelKey(version, subject string) string {
	return fmt.Sprintf("base-models/%s/%s", version, subject)
}
