package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/kilnworks/tilemetry/internal/api/v1"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert collides with an existing
	// row on its unique period key.
	ErrDuplicate = errors.New("row already exists")
)

// DeviceDirectory resolves external device identifiers to directory
// records. Owned by the surrounding record-management system; consumed
// here read-only.
type DeviceDirectory interface {
	// FindByExternalID returns the device record, or ErrNotFound.
	FindByExternalID(ctx context.Context, deviceID string) (*v1.Device, error)

	// ListDeviceIDs returns the external ids of all registered devices.
	ListDeviceIDs(ctx context.Context) ([]string, error)
}

// TelemetryStore is the append-only raw telemetry log.
type TelemetryStore interface {
	// InsertLog appends one accepted message. Populates log.ID.
	InsertLog(ctx context.Context, log *v1.TelemetryLog) error

	// LogsForShift returns all raw rows of one (device, shift),
	// ascending by recorded_at.
	LogsForShift(ctx context.Context, deviceID, shiftDate, shiftType string) ([]*v1.TelemetryLog, error)

	// DeviceIDsWithLogs returns the devices that produced at least one
	// row in the given shift.
	DeviceIDsWithLogs(ctx context.Context, shiftDate, shiftType string) ([]string, error)
}

// SummaryStore holds the immutable-once-closed shift and daily rollups.
// Inserts are insert-if-absent: re-running a closure for an already
// summarized period must not duplicate or overwrite rows.
type SummaryStore interface {
	// GetShiftSummary returns the summary for one (device, shift) key,
	// or ErrNotFound.
	GetShiftSummary(ctx context.Context, deviceID, shiftDate, shiftType string) (*v1.ShiftSummary, error)

	// InsertShiftSummary appends a new summary. Returns ErrDuplicate
	// when the (device, shift) key already exists.
	InsertShiftSummary(ctx context.Context, s *v1.ShiftSummary) error

	// GetDailySummary returns the summary for one (device, day) key,
	// or ErrNotFound.
	GetDailySummary(ctx context.Context, deviceID, summaryDate string) (*v1.DailySummary, error)

	// InsertDailySummary appends a new daily summary. Returns
	// ErrDuplicate when the (device, day) key already exists.
	InsertDailySummary(ctx context.Context, s *v1.DailySummary) error
}

// PartitionStore creates physical storage partitions ahead of need.
// Creation is idempotent; nothing here ever drops or shrinks a range.
type PartitionStore interface {
	EnsurePartition(ctx context.Context, name string, from, to time.Time) error
}
