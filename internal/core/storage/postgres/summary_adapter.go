package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	v1 "github.com/kilnworks/tilemetry/internal/api/v1"
	"github.com/kilnworks/tilemetry/internal/core/storage"
)

// SummaryAdapter implements storage.SummaryStore for PostgreSQL.
// Shares the connection owned by the main Adapter.
type SummaryAdapter struct {
	stmtGetShift    *sql.Stmt
	stmtInsertShift *sql.Stmt
	stmtGetDaily    *sql.Stmt
	stmtInsertDaily *sql.Stmt
}

// NewSummaryAdapter prepares the summary statements on an existing
// connection.
func NewSummaryAdapter(db *sql.DB) (*SummaryAdapter, error) {
	stmtGetShift, err := db.Prepare(queryGetShiftSummary)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare getShiftSummary statement: %w", err)
	}

	stmtInsertShift, err := db.Prepare(queryInsertShiftSummary)
	if err != nil {
		stmtGetShift.Close()
		return nil, fmt.Errorf("failed to prepare insertShiftSummary statement: %w", err)
	}

	stmtGetDaily, err := db.Prepare(queryGetDailySummary)
	if err != nil {
		stmtGetShift.Close()
		stmtInsertShift.Close()
		return nil, fmt.Errorf("failed to prepare getDailySummary statement: %w", err)
	}

	stmtInsertDaily, err := db.Prepare(queryInsertDailySummary)
	if err != nil {
		stmtGetShift.Close()
		stmtInsertShift.Close()
		stmtGetDaily.Close()
		return nil, fmt.Errorf("failed to prepare insertDailySummary statement: %w", err)
	}

	return &SummaryAdapter{
		stmtGetShift:    stmtGetShift,
		stmtInsertShift: stmtInsertShift,
		stmtGetDaily:    stmtGetDaily,
		stmtInsertDaily: stmtInsertDaily,
	}, nil
}

// GetShiftSummary returns one (device, shift) rollup, or storage.ErrNotFound.
func (a *SummaryAdapter) GetShiftSummary(ctx context.Context, deviceID, shiftDate, shiftType string) (*v1.ShiftSummary, error) {
	var s v1.ShiftSummary
	var positionID, lineID, workshopID sql.NullInt64
	var avgRSSI, minRSSI, maxRSSI, avgBattery, avgTemperature sql.NullInt64

	err := a.stmtGetShift.QueryRowContext(ctx, deviceID, shiftDate, shiftType).Scan(
		&s.ID,
		&s.DeviceID,
		&s.ShiftDate,
		&s.ShiftType,
		&s.ShiftNumber,
		&s.ShiftStartAt,
		&s.ShiftEndAt,
		&positionID,
		&lineID,
		&workshopID,
		&s.StartCount,
		&s.EndCount,
		&s.TotalCount,
		&s.StartErrCount,
		&s.EndErrCount,
		&s.TotalErrCount,
		&s.ErrorRate,
		&avgRSSI,
		&minRSSI,
		&maxRSSI,
		&avgBattery,
		&avgTemperature,
		&s.MessageCount,
		&s.ResetCount,
		&s.Status,
		&s.ClosedAt,
		&s.ClosedBy,
		&s.Notes,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shift summary: %w", err)
	}

	s.PositionID = int64Ptr(positionID)
	s.ProductionLineID = int64Ptr(lineID)
	s.WorkshopID = int64Ptr(workshopID)
	s.AvgRSSI = intPtr(avgRSSI)
	s.MinRSSI = intPtr(minRSSI)
	s.MaxRSSI = intPtr(maxRSSI)
	s.AvgBattery = intPtr(avgBattery)
	s.AvgTemperature = intPtr(avgTemperature)
	return &s, nil
}

// InsertShiftSummary appends a new shift summary and populates s.ID.
// Returns storage.ErrDuplicate when the (device, shift) key already
// exists: closures are insert-once, never overwrite.
func (a *SummaryAdapter) InsertShiftSummary(ctx context.Context, s *v1.ShiftSummary) error {
	var id int64
	err := a.stmtInsertShift.QueryRowContext(ctx,
		s.DeviceID,
		s.ShiftDate,
		s.ShiftType,
		s.ShiftNumber,
		s.ShiftStartAt,
		s.ShiftEndAt,
		nullInt64(s.PositionID),
		nullInt64(s.ProductionLineID),
		nullInt64(s.WorkshopID),
		s.StartCount,
		s.EndCount,
		s.TotalCount,
		s.StartErrCount,
		s.EndErrCount,
		s.TotalErrCount,
		s.ErrorRate,
		nullInt(s.AvgRSSI),
		nullInt(s.MinRSSI),
		nullInt(s.MaxRSSI),
		nullInt(s.AvgBattery),
		nullInt(s.AvgTemperature),
		s.MessageCount,
		s.ResetCount,
		s.Status,
		s.ClosedAt,
		s.ClosedBy,
		s.Notes,
	).Scan(&id)

	if err == sql.ErrNoRows {
		// ON CONFLICT DO NOTHING - this shift was already summarized
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert shift summary: %w", err)
	}

	s.ID = id

	slog.Debug("[Postgres] Inserted shift summary",
		"device_id", s.DeviceID,
		"shift_date", s.ShiftDate,
		"shift_type", s.ShiftType,
		"status", s.Status)
	return nil
}

// GetDailySummary returns one (device, day) rollup, or storage.ErrNotFound.
func (a *SummaryAdapter) GetDailySummary(ctx context.Context, deviceID, summaryDate string) (*v1.DailySummary, error) {
	var s v1.DailySummary
	var positionID, lineID, workshopID sql.NullInt64
	var avgRSSI, avgBattery, avgTemperature sql.NullInt64

	err := a.stmtGetDaily.QueryRowContext(ctx, deviceID, summaryDate).Scan(
		&s.ID,
		&s.DeviceID,
		&s.SummaryDate,
		&s.Year,
		&s.Month,
		&s.Day,
		&positionID,
		&lineID,
		&workshopID,
		&s.DayShiftCount,
		&s.NightShiftCount,
		&s.TotalCount,
		&s.DayShiftErrCount,
		&s.NightShiftErrCount,
		&s.TotalErrCount,
		&s.ErrorRate,
		&avgRSSI,
		&avgBattery,
		&avgTemperature,
		&s.MessageCount,
		&s.Status,
		&s.ClosedAt,
		&s.ClosedBy,
		&s.Notes,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily summary: %w", err)
	}

	s.PositionID = int64Ptr(positionID)
	s.ProductionLineID = int64Ptr(lineID)
	s.WorkshopID = int64Ptr(workshopID)
	s.AvgRSSI = intPtr(avgRSSI)
	s.AvgBattery = intPtr(avgBattery)
	s.AvgTemperature = intPtr(avgTemperature)
	return &s, nil
}

// InsertDailySummary appends a new daily summary and populates s.ID.
// Returns storage.ErrDuplicate when the (device, day) key already exists.
func (a *SummaryAdapter) InsertDailySummary(ctx context.Context, s *v1.DailySummary) error {
	var id int64
	err := a.stmtInsertDaily.QueryRowContext(ctx,
		s.DeviceID,
		s.SummaryDate,
		s.Year,
		s.Month,
		s.Day,
		nullInt64(s.PositionID),
		nullInt64(s.ProductionLineID),
		nullInt64(s.WorkshopID),
		s.DayShiftCount,
		s.NightShiftCount,
		s.TotalCount,
		s.DayShiftErrCount,
		s.NightShiftErrCount,
		s.TotalErrCount,
		s.ErrorRate,
		nullInt(s.AvgRSSI),
		nullInt(s.AvgBattery),
		nullInt(s.AvgTemperature),
		s.MessageCount,
		s.Status,
		s.ClosedAt,
		s.ClosedBy,
		s.Notes,
	).Scan(&id)

	if err == sql.ErrNoRows {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert daily summary: %w", err)
	}

	s.ID = id

	slog.Debug("[Postgres] Inserted daily summary",
		"device_id", s.DeviceID,
		"summary_date", s.SummaryDate,
		"status", s.Status)
	return nil
}

// Close closes the prepared statements. The shared connection is closed
// by the main Adapter.
func (a *SummaryAdapter) Close() error {
	var firstErr error

	for name, stmt := range map[string]*sql.Stmt{
		"getShiftSummary":    a.stmtGetShift,
		"insertShiftSummary": a.stmtInsertShift,
		"getDailySummary":    a.stmtGetDaily,
		"insertDailySummary": a.stmtInsertDaily,
	} {
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s statement: %w", name, err)
		}
	}

	return firstErr
}

var _ storage.SummaryStore = (*SummaryAdapter)(nil)
