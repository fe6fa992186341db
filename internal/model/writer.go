package model

import "time"

// SnapshotLayout formats the timestamp passed to Writer.Write.
const SnapshotLayout = "2006-01-02_15-04-05"

// Writer defines a generic interface for persisting registry snapshots.
type Writer interface {
	// Write persists one snapshot. timestamp names the snapshot.
	Write(snapshot Snapshot, timestamp string) error

	// GetInterval returns the configured snapshot interval for this writer.
	GetInterval() time.Duration
}
