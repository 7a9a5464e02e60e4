package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	v1 "github.com/kilnworks/tilemetry/internal/api/v1"
)

// marshalRawPayload marshals a log's raw payload to JSON for the jsonb
// column. Nil payload produces nil (SQL NULL) rather than the JSON
// "null" string.
func marshalRawPayload(log *v1.TelemetryLog) ([]byte, error) {
	if len(log.RawPayload) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(log.RawPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw payload: %w", err)
	}
	return raw, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanLogRow scans a database row into a TelemetryLog.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanLogRow(row scanner) (*v1.TelemetryLog, error) {
	var log v1.TelemetryLog
	var positionID, uptime, deltaCount, deltaErrCount, secondsSince sql.NullInt64
	var battery, temperature sql.NullInt64
	var rawJSON []byte

	err := row.Scan(
		&log.ID,
		&log.DeviceID,
		&positionID,
		&log.Count,
		&log.ErrCount,
		&log.RSSI,
		&log.Status,
		&battery,
		&temperature,
		&uptime,
		&log.ShiftDate,
		&log.ShiftType,
		&log.ShiftNumber,
		&log.RecordedAt,
		&log.ReceivedAt,
		&rawJSON,
		&deltaCount,
		&deltaErrCount,
		&secondsSince,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan telemetry log row: %w", err)
	}

	log.PositionID = int64Ptr(positionID)
	log.Battery = intPtr(battery)
	log.Temperature = intPtr(temperature)
	log.Uptime = int64Ptr(uptime)
	log.DeltaCount = int64Ptr(deltaCount)
	log.DeltaErrCount = int64Ptr(deltaErrCount)
	log.SecondsSince = int64Ptr(secondsSince)

	if len(rawJSON) > 0 {
		if err := json.Unmarshal(rawJSON, &log.RawPayload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal raw payload: %w", err)
		}
	}

	return &log, nil
}

// nullInt64 converts *int64 to its driver value, mapping nil to SQL NULL.
func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
