package summary

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilnworks/tilemetry/internal/core/shift"
	"github.com/kilnworks/tilemetry/internal/core/storage"
)

// systemCloser is recorded as closed_by on scheduler-driven closures;
// manual closures carry the operator's identity instead.
const systemCloser = "system"

// Options tunes the closure scheduler. Zero values fall back to the
// defaults below.
type Options struct {
	// WorkerCount bounds concurrent per-device closures.
	WorkerCount int

	// GraceDelay is how long past the shift boundary the scheduler
	// waits before closing, letting in-flight messages land.
	GraceDelay time.Duration

	// Location is the factory's civil time zone.
	Location *time.Location
}

func (o Options) normalized() Options {
	n := o
	if n.WorkerCount <= 0 {
		n.WorkerCount = 10
	}
	if n.GraceDelay <= 0 {
		n.GraceDelay = time.Minute
	}
	if n.Location == nil {
		n.Location = time.UTC
	}
	return n
}

// Scheduler fires shift closures at shift boundaries and the daily
// closure each morning, fanning out across reporting devices with a
// bounded worker pool.
type Scheduler struct {
	closer *Closer
	logs   storage.TelemetryStore
	opts   Options

	now func() time.Time
}

func NewScheduler(closer *Closer, logs storage.TelemetryStore, opts Options) *Scheduler {
	return &Scheduler{
		closer: closer,
		logs:   logs,
		opts:   opts.normalized(),
		now:    time.Now,
	}
}

// CloseShiftForAll closes the given shift for every device that
// reported during it. Per-device failures are logged and do not stop
// the fan-out; the first error is returned for visibility.
func (s *Scheduler) CloseShiftForAll(ctx context.Context, sh shift.Info) error {
	ids, err := s.logs.DeviceIDsWithLogs(ctx, sh.Date, sh.Type)
	if err != nil {
		return err
	}

	slog.Info("[Summary] Closing shift for all reporting devices",
		"shift_date", sh.Date,
		"shift_type", sh.Type,
		"devices", len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.WorkerCount)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := s.closer.CloseShift(ctx, id, sh, systemCloser)
			if errors.Is(err, ErrAlreadyClosed) {
				return nil
			}
			if err != nil {
				slog.Error("[Summary] Shift closure failed",
					"device_id", id,
					"shift_date", sh.Date,
					"shift_type", sh.Type,
					"error", err)
			}
			return err
		})
	}

	return g.Wait()
}

// CloseDayForAll closes the given business date for every device that
// reported in either of its shifts.
func (s *Scheduler) CloseDayForAll(ctx context.Context, date string) error {
	parsed, err := shift.ParseDate(date, s.opts.Location)
	if err != nil {
		return err
	}

	ids, err := s.reportingDevices(ctx, parsed.Format(time.DateOnly))
	if err != nil {
		return err
	}

	slog.Info("[Summary] Closing day for all reporting devices",
		"summary_date", date,
		"devices", len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.WorkerCount)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := s.closer.CloseDay(ctx, id, date, systemCloser)
			if errors.Is(err, ErrAlreadyClosed) {
				return nil
			}
			if err != nil {
				slog.Error("[Summary] Daily closure failed",
					"device_id", id,
					"summary_date", date,
					"error", err)
			}
			return err
		})
	}

	return g.Wait()
}

// reportingDevices returns the devices with logs in either shift of the
// date, deduplicated.
func (s *Scheduler) reportingDevices(ctx context.Context, date string) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string

	for _, typ := range []string{shift.TypeDay, shift.TypeNight} {
		shiftIDs, err := s.logs.DeviceIDsWithLogs(ctx, date, typ)
		if err != nil {
			return nil, err
		}
		for _, id := range shiftIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// Start sleeps until each shift boundary plus the grace delay, then
// closes the shift that just ended. The morning boundary additionally
// closes the previous business date. Runs until the context is
// cancelled. Closure errors are logged; the loop never dies on them.
func (s *Scheduler) Start(ctx context.Context) error {
	slog.Info("[Summary] Starting closure scheduler",
		"workers", s.opts.WorkerCount,
		"grace_delay", s.opts.GraceDelay,
		"timezone", s.opts.Location.String())

	for {
		fireAt := s.nextFire()
		timer := time.NewTimer(fireAt.Sub(s.now()))

		select {
		case <-timer.C:
			s.runClosures(ctx)
		case <-ctx.Done():
			timer.Stop()
			slog.Info("[Summary] Stopping (context cancelled)")
			return nil
		}
	}
}

// nextFire returns the next shift boundary plus grace delay, strictly
// after now. Just past a boundary the grace of the previous shift is
// still pending and fires first.
func (s *Scheduler) nextFire() time.Time {
	now := s.now().In(s.opts.Location)
	cur := shift.Of(now)
	if fire := cur.StartAt.Add(s.opts.GraceDelay); fire.After(now) {
		return fire
	}
	return cur.EndAt.Add(s.opts.GraceDelay)
}

// runClosures closes the shift that just ended, and after a night shift
// (the morning boundary) also the business date it completed.
func (s *Scheduler) runClosures(ctx context.Context) {
	now := s.now().In(s.opts.Location)
	ended := shift.Previous(shift.Of(now))

	if err := s.CloseShiftForAll(ctx, ended); err != nil {
		slog.Error("[Summary] Scheduled shift closure finished with errors",
			"shift_date", ended.Date,
			"shift_type", ended.Type,
			"error", err)
	}

	if ended.Type == shift.TypeNight {
		if err := s.CloseDayForAll(ctx, ended.Date); err != nil {
			slog.Error("[Summary] Scheduled daily closure finished with errors",
				"summary_date", ended.Date,
				"error", err)
		}
	}
}
