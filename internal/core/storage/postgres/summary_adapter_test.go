package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	v1 "github.com/kilnworks/tilemetry/internal/api/v1"
	"github.com/kilnworks/tilemetry/internal/core/storage"
	"github.com/stretchr/testify/require"
)

func TestSummaryAdapter_InsertShiftSummary(t *testing.T) {
	adapter, mock, db := newMockSummaryAdapter(t)
	defer db.Close()

	s := sampleShiftSummary()

	mock.ExpectQuery(regexp.QuoteMeta(queryInsertShiftSummary)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	err := adapter.InsertShiftSummary(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, int64(9), s.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSummaryAdapter_InsertShiftSummary_Duplicate(t *testing.T) {
	adapter, mock, db := newMockSummaryAdapter(t)
	defer db.Close()

	s := sampleShiftSummary()

	// ON CONFLICT DO NOTHING yields no rows for an already-closed shift.
	mock.ExpectQuery(regexp.QuoteMeta(queryInsertShiftSummary)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := adapter.InsertShiftSummary(context.Background(), s)
	require.ErrorIs(t, err, storage.ErrDuplicate)
	require.Equal(t, int64(0), s.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSummaryAdapter_GetShiftSummary(t *testing.T) {
	adapter, mock, db := newMockSummaryAdapter(t)
	defer db.Close()

	startAt := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	endAt := startAt.Add(12 * time.Hour)
	closedAt := endAt.Add(time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta(queryGetShiftSummary)).
		WithArgs("TILE-001", "2026-03-10", "day").
		WillReturnRows(sqlmock.NewRows(shiftSummaryColumns()).
			AddRow(
				int64(9), "TILE-001",
				"2026-03-10", "day", 137, startAt, endAt,
				int64(7), int64(2), nil,
				int64(100), int64(1500), int64(1400),
				int64(0), int64(3), int64(3), 0.21,
				-61, -70, -55, nil, nil,
				240, 0,
				v1.SummaryStatusCompleted, closedAt, "system", "",
			),
		)

	s, err := adapter.GetShiftSummary(context.Background(), "TILE-001", "2026-03-10", "day")
	require.NoError(t, err)
	require.Equal(t, int64(1400), s.TotalCount)
	require.Equal(t, v1.SummaryStatusCompleted, s.Status)
	require.NotNil(t, s.PositionID)
	require.Equal(t, int64(7), *s.PositionID)
	require.Nil(t, s.WorkshopID)
	require.NotNil(t, s.AvgRSSI)
	require.Equal(t, -61, *s.AvgRSSI)
	require.Nil(t, s.AvgBattery)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSummaryAdapter_GetShiftSummary_NotFound(t *testing.T) {
	adapter, mock, db := newMockSummaryAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryGetShiftSummary)).
		WithArgs("TILE-404", "2026-03-10", "day").
		WillReturnRows(sqlmock.NewRows(shiftSummaryColumns()))

	_, err := adapter.GetShiftSummary(context.Background(), "TILE-404", "2026-03-10", "day")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSummaryAdapter_InsertDailySummary_Duplicate(t *testing.T) {
	adapter, mock, db := newMockSummaryAdapter(t)
	defer db.Close()

	s := &v1.DailySummary{
		DeviceID:    "TILE-001",
		SummaryDate: "2026-03-10",
		Year:        2026,
		Month:       3,
		Day:         10,
		Status:      v1.SummaryStatusCompleted,
		ClosedAt:    time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC),
		ClosedBy:    "system",
	}

	mock.ExpectQuery(regexp.QuoteMeta(queryInsertDailySummary)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := adapter.InsertDailySummary(context.Background(), s)
	require.ErrorIs(t, err, storage.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSummaryAdapter_GetDailySummary_NotFound(t *testing.T) {
	adapter, mock, db := newMockSummaryAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryGetDailySummary)).
		WithArgs("TILE-001", "2026-03-10").
		WillReturnRows(sqlmock.NewRows(dailySummaryColumns()))

	_, err := adapter.GetDailySummary(context.Background(), "TILE-001", "2026-03-10")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func sampleShiftSummary() *v1.ShiftSummary {
	positionID := int64(7)
	avgRSSI := -61
	return &v1.ShiftSummary{
		DeviceID:     "TILE-001",
		ShiftDate:    "2026-03-10",
		ShiftType:    "day",
		ShiftNumber:  137,
		ShiftStartAt: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC),
		ShiftEndAt:   time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC),
		PositionID:   &positionID,
		StartCount:   100,
		EndCount:     1500,
		TotalCount:   1400,
		ErrorRate:    0.21,
		AvgRSSI:      &avgRSSI,
		MessageCount: 240,
		Status:       v1.SummaryStatusCompleted,
		ClosedAt:     time.Date(2026, 3, 10, 18, 1, 0, 0, time.UTC),
		ClosedBy:     "system",
	}
}

func newMockSummaryAdapter(t *testing.T) (*SummaryAdapter, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	adapter := &SummaryAdapter{
		stmtGetShift:    mustPrepareStmt(t, db, mock, queryGetShiftSummary),
		stmtInsertShift: mustPrepareStmt(t, db, mock, queryInsertShiftSummary),
		stmtGetDaily:    mustPrepareStmt(t, db, mock, queryGetDailySummary),
		stmtInsertDaily: mustPrepareStmt(t, db, mock, queryInsertDailySummary),
	}

	return adapter, mock, db
}

func shiftSummaryColumns() []string {
	return []string{
		"id", "device_id",
		"shift_date", "shift_type", "shift_number", "shift_start_at", "shift_end_at",
		"position_id", "production_line_id", "workshop_id",
		"start_count", "end_count", "total_count",
		"start_err_count", "end_err_count", "total_err_count", "error_rate",
		"avg_rssi", "min_rssi", "max_rssi", "avg_battery", "avg_temperature",
		"message_count", "reset_count",
		"status", "closed_at", "closed_by", "notes",
	}
}

func dailySummaryColumns() []string {
	return []string{
		"id", "device_id",
		"summary_date", "year", "month", "day",
		"position_id", "production_line_id", "workshop_id",
		"day_shift_count", "night_shift_count", "total_count",
		"day_shift_err_count", "night_shift_err_count", "total_err_count", "error_rate",
		"avg_rssi", "avg_battery", "avg_temperature",
		"message_count",
		"status", "closed_at", "closed_by", "notes",
	}
}
