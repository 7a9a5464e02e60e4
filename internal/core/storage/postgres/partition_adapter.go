package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/kilnworks/tilemetry/internal/core/storage"
)

// partitionBoundFormat is how range bounds are rendered in the DDL.
// Bounds are always whole minutes in UTC, so second precision suffices.
const partitionBoundFormat = "2006-01-02 15:04:05+00"

// PartitionAdapter implements storage.PartitionStore for PostgreSQL.
// Shares the connection owned by the main Adapter.
//
// DDL cannot be parameterized, so the statement is assembled with
// pq.QuoteIdentifier and fixed-format timestamps. Partition names are
// generated internally by the lifecycle manager, never taken from input.
type PartitionAdapter struct {
	db *sql.DB
}

func NewPartitionAdapter(db *sql.DB) *PartitionAdapter {
	return &PartitionAdapter{db: db}
}

// EnsurePartition creates one range partition of telemetry_logs if it
// does not already exist. Idempotent: an existing partition of the same
// name is left untouched.
func (a *PartitionAdapter) EnsurePartition(ctx context.Context, name string, from, to time.Time) error {
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF telemetry_logs FOR VALUES FROM ('%s') TO ('%s')`,
		pq.QuoteIdentifier(name),
		from.UTC().Format(partitionBoundFormat),
		to.UTC().Format(partitionBoundFormat),
	)

	if _, err := a.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure partition %s: %w", name, err)
	}

	slog.Debug("[Postgres] Partition ensured",
		"partition", name,
		"from", from.UTC().Format(time.RFC3339),
		"to", to.UTC().Format(time.RFC3339))
	return nil
}

var _ storage.PartitionStore = (*PartitionAdapter)(nil)
