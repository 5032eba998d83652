// Package testutil provides in-memory collaborator implementations for
// pipeline tests: an index store, a blob store and a static schema
// version source.
package testutil

import (
	"context"

	"github.com/sroyama/dicom-server/schema"
)

// StaticVersionSource reports a fixed active schema version.
type StaticVersionSource struct {
	Version schema.Version
	Err     error
}

// Active implements schema.VersionSource.
func (s *StaticVersionSource) Active(_ context.Context) (schema.Version, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	return s.Version, nil
}
