package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestPartitionAdapter_EnsurePartition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewPartitionAdapter(db)

	from := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "telemetry_logs_20260310_1400" PARTITION OF telemetry_logs FOR VALUES FROM \('2026-03-10 14:00:00\+00'\) TO \('2026-03-10 15:00:00\+00'\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = adapter.EnsurePartition(context.Background(), "telemetry_logs_20260310_1400", from, to)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPartitionAdapter_EnsurePartition_NormalizesToUTC(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewPartitionAdapter(db)

	// Bounds in a non-UTC zone render as their UTC instant.
	loc := time.FixedZone("UTC+8", 8*3600)
	from := time.Date(2026, 3, 10, 22, 0, 0, 0, loc) // 14:00 UTC
	to := from.Add(time.Hour)

	mock.ExpectExec(`FROM \('2026-03-10 14:00:00\+00'\) TO \('2026-03-10 15:00:00\+00'\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = adapter.EnsurePartition(context.Background(), "telemetry_logs_20260310_1400", from, to)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPartitionAdapter_EnsurePartition_ExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewPartitionAdapter(db)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).
		WillReturnError(errors.New("permission denied"))

	err = adapter.EnsurePartition(context.Background(), "telemetry_logs_20260310_1400",
		time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC))
	require.Error(t, err)
	require.ErrorContains(t, err, "failed to ensure partition")
	require.NoError(t, mock.ExpectationsWereMet())
}
