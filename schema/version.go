// Package schema routes store-facing calls to the implementation
// matching the currently active storage schema version. The active
// version is an external, infrequently-changing signal held in the
// control bucket; implementations are registered per version and the
// resolution is cached until the signal changes.
package schema

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sroyama/dicom-server/errors"
	"github.com/sroyama/dicom-server/natsclient"
)

// Version is a storage schema version number.
type Version int

// String returns the decimal representation of the version.
func (v Version) String() string {
	return strconv.Itoa(int(v))
}

// VersionSource provides the currently active schema version.
type VersionSource interface {
	Active(ctx context.Context) (Version, error)
}

// KVVersionSource reads the active version from a control bucket key.
type KVVersionSource struct {
	kv  *natsclient.KVStore
	key string
}

// NewKVVersionSource creates a version source backed by the given
// control bucket key.
func NewKVVersionSource(kv *natsclient.KVStore, key string) *KVVersionSource {
	return &KVVersionSource{kv: kv, key: key}
}

// Active reads and parses the active version. A missing key is a
// deployment defect, not a transient condition.
func (s *KVVersionSource) Active(ctx context.Context) (Version, error) {
	entry, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return 0, errors.WrapFatal(errors.ErrConfiguration, "KVVersionSource", "Active",
				fmt.Sprintf("active version key %s is not set", s.key))
		}
		return 0, errors.WrapTransient(err, "KVVersionSource", "Active", "read active version")
	}

	v, err := ParseVersion(string(entry.Value))
	if err != nil {
		return 0, errors.WrapFatal(err, "KVVersionSource", "Active", "parse active version")
	}

	return v, nil
}

// Set writes the active version. Used by deployment tooling and tests.
func (s *KVVersionSource) Set(ctx context.Context, v Version) error {
	if _, err := s.kv.Put(ctx, s.key, []byte(v.String())); err != nil {
		return errors.WrapTransient(err, "KVVersionSource", "Set", "write active version")
	}
	return nil
}

// ParseVersion parses a decimal version string.
func ParseVersion(s string) (Version, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid schema version %q", s)
	}
	return Version(n), nil
}
