package store

import (
	"context"
	"fmt"
	"strings"
)

// OriginFilter narrows a list query to a distribution scope. Nil fields are
// wildcards.
type OriginFilter struct {
	Distribution *string
	Release      *string
	Component    *string
	Architecture *string
}

// IdentityFilter narrows a list query by package name/version. Nil fields
// are wildcards.
type IdentityFilter struct {
	Name    *string
	Version *string
}

// buildListSortColumns whitelists the columns a build-list query may sort
// by. Anything outside this set is rejected before it reaches SQL, per
// spec.md's "safe identifier" pagination defence.
var buildListSortColumns = map[string]string{
	"id":           "bi.id",
	"name":         "sp.name",
	"version":      "sp.version",
	"distribution": "sp.distribution",
	"architecture": "bi.architecture",
	"retries":      "bi.retries",
}

// IsSafeBuildSortField reports whether field is an allowed sort column.
func IsSafeBuildSortField(field string) bool {
	_, ok := buildListSortColumns[field]
	return ok
}

// BuildSummary is one row of the builds list endpoint: a BuildInput joined
// with its source package identity and current rebuild status.
type BuildSummary struct {
	BuildInputID    int64          `db:"id" json:"id"`
	SourcePackageID int64          `db:"source_package_id" json:"source_package_id"`
	Name            string         `db:"name" json:"name"`
	Version         string         `db:"version" json:"version"`
	Distribution    string         `db:"distribution" json:"distribution"`
	Release         *string        `db:"release" json:"release,omitempty"`
	Component       *string        `db:"component" json:"component,omitempty"`
	URL             string         `db:"url" json:"url"`
	Backend         string         `db:"backend" json:"backend"`
	Architecture    string         `db:"architecture" json:"architecture"`
	Retries         int            `db:"retries" json:"retries"`
	CurrentStatus   *RebuildStatus `db:"current_status" json:"current_status,omitempty"`
}

// BuildListPage is a page of ListBuilds results plus the cursor to pass as
// `after`/`before` on the next request.
type BuildListPage struct {
	Items      []BuildSummary `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ListBuilds returns a page of build inputs matching origin, identity, and
// freshness filters, ordered by (sort, id) per spec.md §4.8's cursor
// pagination contract. sort must already be validated by
// IsSafeBuildSortField; this function re-validates defensively since it
// composes the ORDER BY clause by string concatenation.
func (s *Store) ListBuilds(ctx context.Context, origin OriginFilter, identity IdentityFilter, includeUnseen bool, sort, direction, after, before string, limit int) (*BuildListPage, error) {
	if sort == "" {
		sort = "id"
	}
	col, ok := buildListSortColumns[sort]
	if !ok {
		return nil, fmt.Errorf("unsafe sort field %q", sort)
	}
	if direction != "desc" {
		direction = "asc"
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var where []string
	var args []interface{}

	if origin.Distribution != nil {
		where = append(where, "sp.distribution = ?")
		args = append(args, *origin.Distribution)
	}
	if origin.Release != nil {
		where = append(where, "COALESCE(sp.release, '') = ?")
		args = append(args, *origin.Release)
	}
	if origin.Component != nil {
		where = append(where, "COALESCE(sp.component, '') = ?")
		args = append(args, *origin.Component)
	}
	if origin.Architecture != nil {
		where = append(where, "bi.architecture = ?")
		args = append(args, *origin.Architecture)
	}
	if identity.Name != nil {
		where = append(where, "sp.name = ?")
		args = append(args, *identity.Name)
	}
	if identity.Version != nil {
		where = append(where, "sp.version = ?")
		args = append(args, *identity.Version)
	}
	if !includeUnseen {
		where = append(where, "sp.seen_in_last_sync = 1")
	}
	if after != "" {
		op := ">"
		if direction == "desc" {
			op = "<"
		}
		where = append(where, fmt.Sprintf("(%s, bi.id) %s (?, ?)", col, op))
		args = append(args, after, after)
	}
	if before != "" {
		op := "<"
		if direction == "desc" {
			op = ">"
		}
		where = append(where, fmt.Sprintf("(%s, bi.id) %s (?, ?)", col, op))
		args = append(args, before, before)
	}

	query := fmt.Sprintf(`
		SELECT
			bi.id, bi.source_package_id, sp.name, sp.version, sp.distribution,
			sp.release, sp.component, bi.url, bi.backend, bi.architecture, bi.retries,
			(SELECT r.status FROM rebuilds r
			 WHERE r.build_input_id = bi.id
			   AND NOT EXISTS (
			       SELECT 1 FROM rebuilds r2
			       WHERE r2.build_input_id = r.build_input_id
			         AND (r2.built_at > r.built_at OR (r2.built_at = r.built_at AND r2.id > r.id))
			   )
			 ORDER BY r.built_at DESC, r.id DESC LIMIT 1) AS current_status
		FROM build_inputs bi
		JOIN source_packages sp ON sp.id = bi.source_package_id`)

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s %s, bi.id %s LIMIT ?", col, direction, direction)
	args = append(args, limit)

	var rows []BuildSummary
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}

	page := &BuildListPage{Items: rows}
	if len(rows) == limit {
		page.NextCursor = sortValueForCursor(rows[len(rows)-1], sort)
	}
	return page, nil
}

func sortValueForCursor(b BuildSummary, sort string) string {
	switch sort {
	case "name":
		return b.Name
	case "version":
		return b.Version
	case "distribution":
		return b.Distribution
	case "architecture":
		return b.Architecture
	case "retries":
		return fmt.Sprintf("%d", b.Retries)
	default:
		return fmt.Sprintf("%d", b.BuildInputID)
	}
}

// sourcePackageSortColumns whitelists the columns a source-package list query
// may sort by, mirroring buildListSortColumns.
var sourcePackageSortColumns = map[string]string{
	"id":           "sp.id",
	"name":         "sp.name",
	"version":      "sp.version",
	"distribution": "sp.distribution",
}

// IsSafeSourcePackageSortField reports whether field is an allowed sort column.
func IsSafeSourcePackageSortField(field string) bool {
	_, ok := sourcePackageSortColumns[field]
	return ok
}

// SourcePackageListPage is a page of ListSourcePackages results plus the
// cursor to pass as `after`/`before` on the next request.
type SourcePackageListPage struct {
	Items      []SourcePackage `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// ListSourcePackages returns a page of source packages matching origin and
// identity filters, using the same cursor pagination contract as ListBuilds
// (spec.md §4.8). The architecture filter joins to build_inputs since
// architecture is a build-input property, not a source-package one.
func (s *Store) ListSourcePackages(ctx context.Context, origin OriginFilter, identity IdentityFilter, includeUnseen bool, sort, direction, after, before string, limit int) (*SourcePackageListPage, error) {
	if sort == "" {
		sort = "id"
	}
	col, ok := sourcePackageSortColumns[sort]
	if !ok {
		return nil, fmt.Errorf("unsafe sort field %q", sort)
	}
	if direction != "desc" {
		direction = "asc"
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var where []string
	var args []interface{}
	joinBuildInputs := origin.Architecture != nil

	if origin.Distribution != nil {
		where = append(where, "sp.distribution = ?")
		args = append(args, *origin.Distribution)
	}
	if origin.Release != nil {
		where = append(where, "COALESCE(sp.release, '') = ?")
		args = append(args, *origin.Release)
	}
	if origin.Component != nil {
		where = append(where, "COALESCE(sp.component, '') = ?")
		args = append(args, *origin.Component)
	}
	if origin.Architecture != nil {
		where = append(where, "bi.architecture = ?")
		args = append(args, *origin.Architecture)
	}
	if identity.Name != nil {
		where = append(where, "sp.name = ?")
		args = append(args, *identity.Name)
	}
	if identity.Version != nil {
		where = append(where, "sp.version = ?")
		args = append(args, *identity.Version)
	}
	if !includeUnseen {
		where = append(where, "sp.seen_in_last_sync = 1")
	}
	if after != "" {
		op := ">"
		if direction == "desc" {
			op = "<"
		}
		where = append(where, fmt.Sprintf("(%s, sp.id) %s (?, ?)", col, op))
		args = append(args, after, after)
	}
	if before != "" {
		op := "<"
		if direction == "desc" {
			op = ">"
		}
		where = append(where, fmt.Sprintf("(%s, sp.id) %s (?, ?)", col, op))
		args = append(args, before, before)
	}

	query := "SELECT DISTINCT sp.* FROM source_packages sp"
	if joinBuildInputs {
		query += " JOIN build_inputs bi ON bi.source_package_id = sp.id"
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s %s, sp.id %s LIMIT ?", col, direction, direction)
	args = append(args, limit)

	var rows []SourcePackage
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list source packages: %w", err)
	}

	page := &SourcePackageListPage{Items: rows}
	if len(rows) == limit {
		page.NextCursor = sourcePackageCursor(rows[len(rows)-1], sort)
	}
	return page, nil
}

func sourcePackageCursor(sp SourcePackage, sort string) string {
	switch sort {
	case "name":
		return sp.Name
	case "version":
		return sp.Version
	case "distribution":
		return sp.Distribution
	default:
		return fmt.Sprintf("%d", sp.ID)
	}
}

// binaryPackageSortColumns whitelists the columns a binary-package list
// query may sort by.
var binaryPackageSortColumns = map[string]string{
	"id":           "bp.id",
	"name":         "bp.name",
	"version":      "bp.version",
	"architecture": "bp.architecture",
}

// IsSafeBinaryPackageSortField reports whether field is an allowed sort column.
func IsSafeBinaryPackageSortField(field string) bool {
	_, ok := binaryPackageSortColumns[field]
	return ok
}

// BinaryPackageListPage is a page of ListBinaryPackages results plus the
// cursor to pass as `after`/`before` on the next request.
type BinaryPackageListPage struct {
	Items      []BinaryPackage `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// GetBinaryPackage fetches a binary package by id.
func (s *Store) GetBinaryPackage(ctx context.Context, id int64) (*BinaryPackage, error) {
	var bp BinaryPackage
	if err := s.db.GetContext(ctx, &bp, `SELECT * FROM binary_packages WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("get binary package %d: %w", id, err)
	}
	return &bp, nil
}

// ListBinaryPackages returns a page of binary packages matching origin and
// identity filters. distribution/release/component join through the owning
// source package; architecture is a binary-package column directly.
func (s *Store) ListBinaryPackages(ctx context.Context, origin OriginFilter, identity IdentityFilter, sort, direction, after, before string, limit int) (*BinaryPackageListPage, error) {
	if sort == "" {
		sort = "id"
	}
	col, ok := binaryPackageSortColumns[sort]
	if !ok {
		return nil, fmt.Errorf("unsafe sort field %q", sort)
	}
	if direction != "desc" {
		direction = "asc"
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var where []string
	var args []interface{}

	if origin.Distribution != nil {
		where = append(where, "sp.distribution = ?")
		args = append(args, *origin.Distribution)
	}
	if origin.Release != nil {
		where = append(where, "COALESCE(sp.release, '') = ?")
		args = append(args, *origin.Release)
	}
	if origin.Component != nil {
		where = append(where, "COALESCE(sp.component, '') = ?")
		args = append(args, *origin.Component)
	}
	if origin.Architecture != nil {
		where = append(where, "bp.architecture = ?")
		args = append(args, *origin.Architecture)
	}
	if identity.Name != nil {
		where = append(where, "bp.name = ?")
		args = append(args, *identity.Name)
	}
	if identity.Version != nil {
		where = append(where, "bp.version = ?")
		args = append(args, *identity.Version)
	}
	if after != "" {
		op := ">"
		if direction == "desc" {
			op = "<"
		}
		where = append(where, fmt.Sprintf("(%s, bp.id) %s (?, ?)", col, op))
		args = append(args, after, after)
	}
	if before != "" {
		op := "<"
		if direction == "desc" {
			op = ">"
		}
		where = append(where, fmt.Sprintf("(%s, bp.id) %s (?, ?)", col, op))
		args = append(args, before, before)
	}

	query := `
		SELECT bp.* FROM binary_packages bp
		JOIN source_packages sp ON sp.id = bp.source_package_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s %s, bp.id %s LIMIT ?", col, direction, direction)
	args = append(args, limit)

	var rows []BinaryPackage
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list binary packages: %w", err)
	}

	page := &BinaryPackageListPage{Items: rows}
	if len(rows) == limit {
		page.NextCursor = binaryPackageCursor(rows[len(rows)-1], sort)
	}
	return page, nil
}

func binaryPackageCursor(bp BinaryPackage, sort string) string {
	switch sort {
	case "name":
		return bp.Name
	case "version":
		return bp.Version
	case "architecture":
		return bp.Architecture
	default:
		return fmt.Sprintf("%d", bp.ID)
	}
}

// DashboardCounts is the §4.8 dashboard aggregation: rebuild verdicts
// grouped by current status, plus queue depth grouped by claim/retry state.
type DashboardCounts struct {
	StatusGood     int64 `json:"status_good"`
	StatusBad      int64 `json:"status_bad"`
	StatusFail     int64 `json:"status_fail"`
	StatusUnknown  int64 `json:"status_unknown"`
	QueueRunning   int64 `json:"queue_running"`
	QueueAvailable int64 `json:"queue_available"`
	QueuePending   int64 `json:"queue_pending"`
}

// Dashboard computes DashboardCounts for the given OriginFilter, restricted
// to packages with seen_in_last_sync = true per spec.md §4.8.
func (s *Store) Dashboard(ctx context.Context, origin OriginFilter) (*DashboardCounts, error) {
	var where []string
	var args []interface{}
	if origin.Distribution != nil {
		where = append(where, "sp.distribution = ?")
		args = append(args, *origin.Distribution)
	}
	if origin.Release != nil {
		where = append(where, "COALESCE(sp.release, '') = ?")
		args = append(args, *origin.Release)
	}
	if origin.Component != nil {
		where = append(where, "COALESCE(sp.component, '') = ?")
		args = append(args, *origin.Component)
	}
	if origin.Architecture != nil {
		where = append(where, "bi.architecture = ?")
		args = append(args, *origin.Architecture)
	}
	where = append(where, "sp.seen_in_last_sync = 1")

	query := `
		SELECT
			(SELECT r.status FROM rebuilds r
			 WHERE r.build_input_id = bi.id
			   AND NOT EXISTS (
			       SELECT 1 FROM rebuilds r2
			       WHERE r2.build_input_id = r.build_input_id
			         AND (r2.built_at > r.built_at OR (r2.built_at = r.built_at AND r2.id > r.id))
			   )
			 ORDER BY r.built_at DESC, r.id DESC LIMIT 1) AS current_status
		FROM build_inputs bi
		JOIN source_packages sp ON sp.id = bi.source_package_id
		WHERE ` + strings.Join(where, " AND ")

	var statuses []*RebuildStatus
	if err := s.db.SelectContext(ctx, &statuses, query, args...); err != nil {
		return nil, fmt.Errorf("dashboard status counts: %w", err)
	}

	counts := &DashboardCounts{}
	for _, st := range statuses {
		switch {
		case st == nil:
			counts.StatusUnknown++
		case *st == StatusGood:
			counts.StatusGood++
		case *st == StatusBad:
			counts.StatusBad++
		case *st == StatusFail:
			counts.StatusFail++
		default:
			counts.StatusUnknown++
		}
	}

	queueQuery := `
		SELECT
			SUM(CASE WHEN q.worker_id IS NOT NULL THEN 1 ELSE 0 END) AS running,
			SUM(CASE WHEN q.worker_id IS NULL AND (q.id IS NOT NULL) AND
				NOT EXISTS (SELECT 1 FROM build_inputs bi2 WHERE bi2.id = q.build_input_id AND bi2.next_retry IS NOT NULL AND bi2.next_retry > CURRENT_TIMESTAMP)
				THEN 1 ELSE 0 END) AS available,
			SUM(CASE WHEN q.worker_id IS NULL AND
				EXISTS (SELECT 1 FROM build_inputs bi2 WHERE bi2.id = q.build_input_id AND bi2.next_retry IS NOT NULL AND bi2.next_retry > CURRENT_TIMESTAMP)
				THEN 1 ELSE 0 END) AS pending
		FROM queued q
		JOIN build_inputs bi ON bi.id = q.build_input_id
		JOIN source_packages sp ON sp.id = bi.source_package_id
		WHERE ` + strings.Join(where, " AND ")

	var queueRow struct {
		Running   *int64 `db:"running"`
		Available *int64 `db:"available"`
		Pending   *int64 `db:"pending"`
	}
	if err := s.db.GetContext(ctx, &queueRow, queueQuery, args...); err != nil {
		return nil, fmt.Errorf("dashboard queue counts: %w", err)
	}
	if queueRow.Running != nil {
		counts.QueueRunning = *queueRow.Running
	}
	if queueRow.Available != nil {
		counts.QueueAvailable = *queueRow.Available
	}
	if queueRow.Pending != nil {
		counts.QueuePending = *queueRow.Pending
	}

	return counts, nil
}
