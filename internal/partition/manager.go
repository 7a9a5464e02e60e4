// Package partition keeps physical storage partitions provisioned ahead
// of the data that will land in them. Running out of partitions makes
// inserts fail, so the manager always maintains a safety margin of
// future windows and treats creation errors as retryable rather than
// fatal.
package partition

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kilnworks/tilemetry/internal/core/storage"
)

// nameFormat renders a window start into the partition's table name
// suffix, e.g. telemetry_logs_20260310_1400.
const nameFormat = "20060102_1504"

// Options tunes the lifecycle manager. Zero values fall back to the
// defaults below.
type Options struct {
	// Granularity is the width of one partition window. Hourly in
	// production; tests use minutes.
	Granularity time.Duration

	// Ahead is how many windows beyond the current one are kept
	// provisioned.
	Ahead int

	// CheckInterval is how often the manager re-checks. Defaults to the
	// granularity so every new window is covered before it opens.
	CheckInterval time.Duration
}

func (o Options) normalized() Options {
	n := o
	if n.Granularity <= 0 {
		n.Granularity = time.Hour
	}
	if n.Ahead <= 0 {
		n.Ahead = 3
	}
	if n.CheckInterval <= 0 {
		n.CheckInterval = n.Granularity
	}
	return n
}

// Manager provisions time-range partitions for the telemetry log.
type Manager struct {
	store storage.PartitionStore
	opts  Options

	now func() time.Time
}

func NewManager(store storage.PartitionStore, opts Options) *Manager {
	return &Manager{
		store: store,
		opts:  opts.normalized(),
		now:   time.Now,
	}
}

// Name returns the partition table name for the window starting at from.
func Name(from time.Time) string {
	return "telemetry_logs_" + from.UTC().Format(nameFormat)
}

// EnsureUpcoming provisions the current window plus the configured
// number of future windows. Idempotent; already-existing partitions are
// untouched. The first failure aborts the sweep: later windows will be
// retried on the next check anyway.
func (m *Manager) EnsureUpcoming(ctx context.Context) error {
	current := m.now().UTC().Truncate(m.opts.Granularity)

	for i := 0; i <= m.opts.Ahead; i++ {
		from := current.Add(time.Duration(i) * m.opts.Granularity)
		to := from.Add(m.opts.Granularity)

		if err := m.store.EnsurePartition(ctx, Name(from), from, to); err != nil {
			return fmt.Errorf("ensure partition for window %s: %w", from.Format(time.RFC3339), err)
		}
	}
	return nil
}

// Start provisions partitions immediately, then re-checks on every
// interval until the context is cancelled. Creation failures are logged
// and retried on the next tick; a transient database error must not
// take the ingestion path down with it.
func (m *Manager) Start(ctx context.Context) error {
	slog.Info("[Partition] Starting lifecycle manager",
		"granularity", m.opts.Granularity,
		"ahead", m.opts.Ahead,
		"check_interval", m.opts.CheckInterval)

	if err := m.EnsureUpcoming(ctx); err != nil {
		slog.Error("[Partition] Initial provisioning failed, will retry",
			"error", err)
	}

	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.EnsureUpcoming(ctx); err != nil {
				slog.Error("[Partition] Provisioning failed, will retry",
					"error", err)
			}
		case <-ctx.Done():
			slog.Info("[Partition] Stopping (context cancelled)")
			return nil
		}
	}
}
