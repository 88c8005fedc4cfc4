package storage

import "github.com/google/uuid"

// newSnapshotID returns a lexicographically sortable, time-ordered id,
// the same uuid package the gateway uses for session ids but at the v7
// variant.
func newSnapshotID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the OS entropy source is broken; fall
		// back to v4 rather than panic a persistence call.
		return uuid.NewString()
	}
	return id.String()
}
