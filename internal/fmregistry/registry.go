package fmregistry

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/veloria-ai/fmcore/internal/apperr"
	"github.com/veloria-ai/fmcore/internal/checkpoint"
	"github.com/veloria-ai/fmcore/internal/logger"
)

// Registry is the foundation-model registry contract: the latest known
// version, and base-model weights for a (version, subject) pair.
type Registry interface {
	LatestVersion(ctx context.Context) (string, error)
	GetBaseModel(ctx context.Context, version string, subject string) ([]byte, error)
}

// storeRegistry reads base-model blobs from the checkpoint store under
// base-models/<version>/<subject>; the latest version is configured.
type storeRegistry struct {
	store         checkpoint.Store
	latestVersion string
	log           *logger.Logger
}

func NewStoreRegistry(store checkpoint.Store, latestVersion string, baseLog *logger.Logger) Registry {
	return &storeRegistry{
		store:         store,
		latestVersion: latestVersion,
		log:           baseLog.With("service", "FMRegistry"),
	}
}

func (r *storeRegistry) LatestVersion(ctx context.Context) (string, error) {
	if r.latestVersion == "" {
		return "", apperr.Fatal("fm_version_unconfigured", "no latest foundation-model version configured")
	}
	return r.latestVersion, nil
}

func (r *storeRegistry) GetBaseModel(ctx context.Context, version string, subject string) ([]byte, error) {
	key := checkpoint.BaseModelKey(version, subject)
	data, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, apperr.New(apperr.KindTransient, "base_model_unavailable", fmt.Errorf("get base model %s: %w", key, err))
	}
	if !ok {
		return nil, apperr.Transient("base_model_missing", "base model not found for version=%s subject=%s", version, subject)
	}
	return data, nil
}

// staticRegistry synthesizes deterministic weights, used in local mode and
// tests where no model artifacts are provisioned.
type staticRegistry struct {
	latestVersion string
}

func NewStaticRegistry(latestVersion string) Registry {
	return &staticRegistry{latestVersion: latestVersion}
}

func (r *staticRegistry) LatestVersion(ctx context.Context) (string, error) {
	if r.latestVersion == "" {
		return "", apperr.Fatal("fm_version_unconfigured", "no latest foundation-model version configured")
	}
	return r.latestVersion, nil
}

func (r *staticRegistry) GetBaseModel(ctx context.Context, version string, subject string) ([]byte, error) {
	if version == "" || subject == "" {
		return nil, apperr.Validation("bad_model_ref", "version and subject required")
	}
	return []byte(fmt.Sprintf("base-model:%s:%s", version, subject)), nil
}

var versionNumbers = regexp.MustCompile(`(\d+)(?:\.(\d+))?`)

// VersionOrdinal maps a version string like "fm-v1.2" onto a monotonic
// ordinal (major*100 + minor). Unparseable versions map to 0.
func VersionOrdinal(version string) int {
	m := versionNumbers.FindStringSubmatch(version)
	if m == nil {
		return 0
	}
	major, _ := strconv.Atoi(m[1])
	minor := 0
	if m[2] != "" {
		minor, _ = strconv.Atoi(m[2])
	}
	return major*100 + minor
}

// VersionLag is how many version steps current trails latest, never
// negative.
func VersionLag(current, latest string) int {
	lag := VersionOrdinal(latest) - VersionOrdinal(current)
	if lag < 0 {
		return 0
	}
	return lag
}
