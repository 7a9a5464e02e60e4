package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	v1 "github.com/kilnworks/tilemetry/internal/api/v1"
	"github.com/kilnworks/tilemetry/internal/core/storage"
)

// DeviceAdapter implements storage.DeviceDirectory for PostgreSQL.
// Shares the connection owned by the main Adapter.
type DeviceAdapter struct {
	stmtFind *sql.Stmt
	stmtList *sql.Stmt
}

// NewDeviceAdapter prepares the directory statements on an existing
// connection.
func NewDeviceAdapter(db *sql.DB) (*DeviceAdapter, error) {
	stmtFind, err := db.Prepare(queryFindDeviceByExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare findDevice statement: %w", err)
	}

	stmtList, err := db.Prepare(queryListDeviceIDs)
	if err != nil {
		stmtFind.Close()
		return nil, fmt.Errorf("failed to prepare listDeviceIDs statement: %w", err)
	}

	return &DeviceAdapter{stmtFind: stmtFind, stmtList: stmtList}, nil
}

// FindByExternalID resolves the external device id to its directory
// record. Returns storage.ErrNotFound for unregistered devices.
func (a *DeviceAdapter) FindByExternalID(ctx context.Context, deviceID string) (*v1.Device, error) {
	var dev v1.Device
	var positionID, lineID, workshopID sql.NullInt64

	err := a.stmtFind.QueryRowContext(ctx, deviceID).Scan(
		&dev.ID,
		&dev.DeviceID,
		&positionID,
		&lineID,
		&workshopID,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find device %s: %w", deviceID, err)
	}

	dev.PositionID = int64Ptr(positionID)
	dev.ProductionLineID = int64Ptr(lineID)
	dev.WorkshopID = int64Ptr(workshopID)
	return &dev, nil
}

// ListDeviceIDs returns the external ids of all registered devices.
func (a *DeviceAdapter) ListDeviceIDs(ctx context.Context) ([]string, error) {
	rows, err := a.stmtList.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query device ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan device id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device ids: %w", err)
	}

	return ids, nil
}

// Close closes the prepared statements. The shared connection is closed
// by the main Adapter.
func (a *DeviceAdapter) Close() error {
	var firstErr error

	if err := a.stmtFind.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close findDevice statement: %w", err)
	}

	if err := a.stmtList.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close listDeviceIDs statement: %w", err)
	}

	if firstErr != nil {
		return firstErr
	}

	slog.Debug("[Postgres] Device adapter closed")
	return nil
}

var _ storage.DeviceDirectory = (*DeviceAdapter)(nil)
