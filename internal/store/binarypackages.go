package store

import (
	"context"
	"fmt"
)

// UpsertBinaryPackage inserts or updates a BinaryPackage by its identity key
// (source_package_id, build_input_id, name, version, architecture).
func (t *Tx) UpsertBinaryPackage(ctx context.Context, bp *BinaryPackage) error {
	var existingID int64
	err := t.tx.GetContext(ctx, &existingID, `
		SELECT id FROM binary_packages
		WHERE source_package_id = ? AND build_input_id = ? AND name = ? AND version = ? AND architecture = ?`,
		bp.SourcePackageID, bp.BuildInputID, bp.Name, bp.Version, bp.Architecture)

	switch {
	case err == nil:
		bp.ID = existingID
		_, execErr := t.tx.ExecContext(ctx, `
			UPDATE binary_packages SET artifact_url = ? WHERE id = ?`, bp.ArtifactURL, existingID)
		return execErr
	case isNoRows(err):
		res, execErr := t.tx.ExecContext(ctx, `
			INSERT INTO binary_packages
				(source_package_id, build_input_id, name, version, architecture, artifact_url)
			VALUES (?, ?, ?, ?, ?, ?)`,
			bp.SourcePackageID, bp.BuildInputID, bp.Name, bp.Version, bp.Architecture, bp.ArtifactURL)
		if execErr != nil {
			return fmt.Errorf("insert binary package: %w", execErr)
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			return idErr
		}
		bp.ID = id
		return nil
	default:
		return fmt.Errorf("look up binary package identity: %w", err)
	}
}

// BinaryPackagesForBuildInput lists every BinaryPackage a build input is
// expected to produce. The Report Ingester does not call it and does not
// check artifact names against this list.
func (t *Tx) BinaryPackagesForBuildInput(ctx context.Context, buildInputID int64) ([]BinaryPackage, error) {
	var rows []BinaryPackage
	if err := t.tx.SelectContext(ctx, &rows, `
		SELECT * FROM binary_packages WHERE build_input_id = ?`, buildInputID); err != nil {
		return nil, fmt.Errorf("list binary packages: %w", err)
	}
	return rows, nil
}
