package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veloria-ai/fmcore/internal/logger"
)

// Manager concentrates checkpoint write, integrity verification, and
// marker expiry on top of a Store.
type Manager struct {
	store     Store
	markerTTL time.Duration
	log       *logger.Logger
}

func NewManager(store Store, markerTTL time.Duration, baseLog *logger.Logger) *Manager {
	return &Manager{
		store:     store,
		markerTTL: markerTTL,
		log:       baseLog.With("service", "CheckpointManager"),
	}
}

func (m *Manager) Store() Store { return m.store }

// Write persists checkpoint bytes with metadata and a fresh verified
// marker, returning the derived hash.
func (m *Manager) Write(ctx context.Context, namespaceID uuid.UUID, nsUID string, fmVersion string, versionCount int, data []byte) (string, error) {
	now := time.Now()
	hash := Hash(namespaceID, fmVersion, versionCount, now)

	if err := m.store.Put(ctx, DataKey(nsUID, hash), data); err != nil {
		return "", fmt.Errorf("put checkpoint data: %w", err)
	}

	meta := Meta{
		NamespaceID:  namespaceID.String(),
		FMVersion:    fmVersion,
		VersionCount: versionCount,
		SizeBytes:    int64(len(data)),
		CreatedAt:    now,
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint meta: %w", err)
	}
	if err := m.store.Put(ctx, MetaKey(nsUID, hash), metaBytes); err != nil {
		return "", fmt.Errorf("put checkpoint meta: %w", err)
	}

	marker := Marker{Verified: true, ExpiresAt: now.Add(m.markerTTL)}
	markerBytes, err := json.Marshal(marker)
	if err != nil {
		return "", fmt.Errorf("marshal integrity marker: %w", err)
	}
	if err := m.store.Put(ctx, MarkerKey(nsUID, hash), markerBytes); err != nil {
		return "", fmt.Errorf("put integrity marker: %w", err)
	}

	return hash, nil
}

// Verify reports whether the checkpoint's integrity marker is present,
// marked verified, and unexpired.
func (m *Manager) Verify(ctx context.Context, nsUID, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	raw, ok, err := m.store.Get(ctx, MarkerKey(nsUID, hash))
	if err != nil {
		return false, fmt.Errorf("get integrity marker: %w", err)
	}
	if !ok {
		return false, nil
	}
	var marker Marker
	if err := json.Unmarshal(raw, &marker); err != nil {
		return false, nil
	}
	if !marker.Verified {
		return false, nil
	}
	if !marker.ExpiresAt.IsZero() && marker.ExpiresAt.Before(time.Now()) {
		return false, nil
	}
	return true, nil
}

func (m *Manager) ReadData(ctx context.Context, nsUID, hash string) ([]byte, bool, error) {
	if hash == "" {
		return nil, false, nil
	}
	return m.store.Get(ctx, DataKey(nsUID, hash))
}

// ExpireStaleMarkers deletes verified markers whose expiry has passed.
// Called by the cleanup sweep.
func (m *Manager) ExpireStaleMarkers(ctx context.Context) (int, error) {
	keys, err := m.store.ListKeys(ctx, "checkpoints/")
	if err != nil {
		return 0, fmt.Errorf("list checkpoint keys: %w", err)
	}
	deleted := 0
	now := time.Now()
	for _, key := range keys {
		if !strings.HasSuffix(key, ".verified") {
			continue
		}
		raw, ok, err := m.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var marker Marker
		if err := json.Unmarshal(raw, &marker); err != nil {
			continue
		}
		if marker.ExpiresAt.IsZero() || marker.ExpiresAt.After(now) {
			continue
		}
		if err := m.store.Delete(ctx, key); err != nil {
			m.log.Warn("Failed to delete expired integrity marker", "key", key, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}
