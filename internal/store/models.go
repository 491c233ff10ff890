package store

import "time"

// SourcePackage is a distribution's published source package at one
// (distribution, release, component) scope.
type SourcePackage struct {
	ID             int64     `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Version        string    `db:"version" json:"version"`
	Distribution   string    `db:"distribution" json:"distribution"`
	Release        *string   `db:"release" json:"release,omitempty"`
	Component      *string   `db:"component" json:"component,omitempty"`
	LastSeen       time.Time `db:"last_seen" json:"last_seen"`
	SeenInLastSync bool      `db:"seen_in_last_sync" json:"seen_in_last_sync"`
}

// BuildInput is one buildable unit of a source package: a URL plus the
// backend/architecture pair that identify which workers may claim it.
type BuildInput struct {
	ID              int64      `db:"id" json:"id"`
	SourcePackageID int64      `db:"source_package_id" json:"source_package_id"`
	URL             string     `db:"url" json:"url"`
	Backend         string     `db:"backend" json:"backend"`
	Architecture    string     `db:"architecture" json:"architecture"`
	Retries         int        `db:"retries" json:"retries"`
	NextRetry       *time.Time `db:"next_retry" json:"next_retry,omitempty"`
}

// BinaryPackage is one artifact a BuildInput is expected to produce.
type BinaryPackage struct {
	ID              int64  `db:"id" json:"id"`
	SourcePackageID int64  `db:"source_package_id" json:"source_package_id"`
	BuildInputID    int64  `db:"build_input_id" json:"build_input_id"`
	Name            string `db:"name" json:"name"`
	Version         string `db:"version" json:"version"`
	Architecture    string `db:"architecture" json:"architecture"`
	ArtifactURL     string `db:"artifact_url" json:"artifact_url"`
}

// Queued is a pending or claimed job against a BuildInput. At most one row
// exists per build_input_id.
type Queued struct {
	ID           int64      `db:"id" json:"id"`
	BuildInputID int64      `db:"build_input_id" json:"build_input_id"`
	Priority     int        `db:"priority" json:"priority"`
	QueuedAt     time.Time  `db:"queued_at" json:"queued_at"`
	WorkerID     *int64     `db:"worker_id" json:"worker_id,omitempty"`
	StartedAt    *time.Time `db:"started_at" json:"started_at,omitempty"`
	LastPing     *time.Time `db:"last_ping" json:"last_ping,omitempty"`
}

// RebuildStatus is the verdict of one rebuild attempt.
type RebuildStatus string

const (
	StatusGood    RebuildStatus = "GOOD"
	StatusBad     RebuildStatus = "BAD"
	StatusFail    RebuildStatus = "FAIL"
	StatusUnknown RebuildStatus = "UNKNOWN"
)

// Rebuild is one append-only attempt at rebuilding a BuildInput.
type Rebuild struct {
	ID           int64          `db:"id" json:"id"`
	BuildInputID int64          `db:"build_input_id" json:"build_input_id"`
	StartedAt    *time.Time     `db:"started_at" json:"started_at,omitempty"`
	BuiltAt      *time.Time     `db:"built_at" json:"built_at,omitempty"`
	BuildLogID   int64          `db:"build_log_id" json:"build_log_id"`
	Status       *RebuildStatus `db:"status" json:"status,omitempty"`
}

// ArtifactStatus is the verdict of one artifact within a rebuild.
type ArtifactStatus string

const (
	ArtifactGood    ArtifactStatus = "GOOD"
	ArtifactBad     ArtifactStatus = "BAD"
	ArtifactUnknown ArtifactStatus = "UNKNOWN"
)

// RebuildArtifact is the per-binary-package verdict within a Rebuild.
type RebuildArtifact struct {
	ID               int64           `db:"id" json:"id"`
	RebuildID        int64           `db:"rebuild_id" json:"rebuild_id"`
	Name             string          `db:"name" json:"name"`
	DiffoscopeLogID  *int64          `db:"diffoscope_log_id" json:"diffoscope_log_id,omitempty"`
	AttestationLogID *int64          `db:"attestation_log_id" json:"attestation_log_id,omitempty"`
	Status           *ArtifactStatus `db:"status" json:"status,omitempty"`
}

// Worker is a registered rebuild agent.
type Worker struct {
	ID                     int64      `db:"id" json:"id"`
	Key                    string     `db:"key" json:"-"`
	Name                   string     `db:"name" json:"name"`
	Address                string     `db:"address" json:"address"`
	Status                 *string    `db:"status" json:"status,omitempty"`
	LastPing               *time.Time `db:"last_ping" json:"last_ping,omitempty"`
	IsOnline               bool       `db:"is_online" json:"is_online"`
	SupportedBackends      string     `db:"supported_backends" json:"supported_backends"`
	SupportedArchitectures string     `db:"supported_architectures" json:"supported_architectures"`
}

// Tag is an auxiliary classification label.
type Tag struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// WorkerTag assigns a Tag to a Worker.
type WorkerTag struct {
	WorkerID int64 `db:"worker_id" json:"worker_id"`
	TagID    int64 `db:"tag_id" json:"tag_id"`
}

// SourcePackageTagRule assigns a Tag to every source package whose name
// matches name_pattern (and, if set, distribution).
type SourcePackageTagRule struct {
	ID           int64   `db:"id" json:"id"`
	TagID        int64   `db:"tag_id" json:"tag_id"`
	NamePattern  string  `db:"name_pattern" json:"name_pattern"`
	Distribution *string `db:"distribution" json:"distribution,omitempty"`
}
