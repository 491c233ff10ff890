package ingest

import (
	"time"

	"github.com/r3e-network/rebuildverify/internal/store"
)

// RebuildReport is a worker's account of one completed (or failed) rebuild
// attempt, submitted against the queue entry it claimed.
type RebuildReport struct {
	QueueID   int64                   `json:"queue_id"`
	BuiltAt   time.Time               `json:"built_at"`
	BuildLog  []byte                  `json:"build_log"`
	Status    store.RebuildStatus     `json:"status"`
	Artifacts []RebuildArtifactReport `json:"artifacts"`
}

// RebuildArtifactReport is the per-binary-package verdict within a
// RebuildReport.
type RebuildArtifactReport struct {
	Name        string             `json:"name"`
	Diffoscope  []byte             `json:"diffoscope,omitempty"` // nil if not produced
	Attestation []byte             `json:"attestation,omitempty"` // nil if not produced
	Status      store.ArtifactStatus `json:"status"`
}
