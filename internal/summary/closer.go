// Package summary closes shifts and days into immutable rollup rows.
//
// Totals are reset-aware: device counters restart from zero after a
// power cycle, so a shift's production is summed per monotonic segment
// of the counter rather than taken as last-minus-first. Rates are
// computed with exact decimal arithmetic and rounded once at the end.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	v1 "github.com/kilnworks/tilemetry/internal/api/v1"
	"github.com/kilnworks/tilemetry/internal/core/shift"
	"github.com/kilnworks/tilemetry/internal/core/storage"
)

// ErrAlreadyClosed is returned when the period was summarized before.
// Closed summaries are immutable; re-closing is a no-op, not an update.
var ErrAlreadyClosed = errors.New("period already closed")

// maxToleratedResets is the number of counter resets a shift can absorb
// and still be marked completed. More resets than this means the totals
// are suspect and the row is flagged partial for manual review.
const maxToleratedResets = 1

type Closer struct {
	logs      storage.TelemetryStore
	summaries storage.SummaryStore
	devices   storage.DeviceDirectory
	loc       *time.Location

	now func() time.Time
}

// NewCloser wires the closure logic. loc is the factory's civil time
// zone; it must match the one ingestion attributes shifts in, or
// closures would look up (date, type) labels no row carries.
func NewCloser(logs storage.TelemetryStore, summaries storage.SummaryStore, devices storage.DeviceDirectory, loc *time.Location) *Closer {
	if loc == nil {
		loc = time.UTC
	}
	return &Closer{
		logs:      logs,
		summaries: summaries,
		devices:   devices,
		loc:       loc,
		now:       time.Now,
	}
}

// CloseShift computes and persists the rollup of one (device, shift).
// A device with no readings in the shift gets a zeroed completed row,
// so downstream reports can tell "no production" from "not yet closed".
// Returns ErrAlreadyClosed if a summary for the key exists.
func (c *Closer) CloseShift(ctx context.Context, deviceID string, sh shift.Info, closedBy string) (*v1.ShiftSummary, error) {
	if _, err := c.summaries.GetShiftSummary(ctx, deviceID, sh.Date, sh.Type); err == nil {
		return nil, ErrAlreadyClosed
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check existing shift summary: %w", err)
	}

	logs, err := c.logs.LogsForShift(ctx, deviceID, sh.Date, sh.Type)
	if err != nil {
		return nil, fmt.Errorf("load shift logs: %w", err)
	}

	s := c.buildShiftSummary(deviceID, sh, logs, closedBy)

	if dev, err := c.devices.FindByExternalID(ctx, deviceID); err == nil {
		s.PositionID = dev.PositionID
		s.ProductionLineID = dev.ProductionLineID
		s.WorkshopID = dev.WorkshopID
	}

	if err := c.summaries.InsertShiftSummary(ctx, s); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Another instance closed it between our check and insert.
			return nil, ErrAlreadyClosed
		}
		return nil, fmt.Errorf("persist shift summary: %w", err)
	}

	slog.Info("[Summary] Shift closed",
		"device_id", deviceID,
		"shift_date", sh.Date,
		"shift_type", sh.Type,
		"total_count", s.TotalCount,
		"reset_count", s.ResetCount,
		"status", s.Status)
	return s, nil
}

func (c *Closer) buildShiftSummary(deviceID string, sh shift.Info, logs []*v1.TelemetryLog, closedBy string) *v1.ShiftSummary {
	s := &v1.ShiftSummary{
		DeviceID:     deviceID,
		ShiftDate:    sh.Date,
		ShiftType:    sh.Type,
		ShiftNumber:  sh.Number,
		ShiftStartAt: sh.StartAt,
		ShiftEndAt:   sh.EndAt,
		MessageCount: len(logs),
		Status:       v1.SummaryStatusCompleted,
		ClosedAt:     c.now().UTC(),
		ClosedBy:     closedBy,
	}

	if len(logs) == 0 {
		return s
	}

	s.StartCount = logs[0].Count
	s.EndCount = logs[len(logs)-1].Count
	s.StartErrCount = logs[0].ErrCount
	s.EndErrCount = logs[len(logs)-1].ErrCount

	s.TotalCount, s.ResetCount = resetAwareTotal(logs, func(l *v1.TelemetryLog) int64 { return l.Count })
	s.TotalErrCount, _ = resetAwareTotal(logs, func(l *v1.TelemetryLog) int64 { return l.ErrCount })

	s.ErrorRate = errorRate(s.TotalErrCount, s.TotalCount)

	s.AvgRSSI, s.MinRSSI, s.MaxRSSI = rssiStats(logs)
	s.AvgBattery = avgOptional(logs, func(l *v1.TelemetryLog) *int { return l.Battery })
	s.AvgTemperature = avgOptional(logs, func(l *v1.TelemetryLog) *int { return l.Temperature })

	if s.ResetCount > maxToleratedResets {
		s.Status = v1.SummaryStatusPartial
		s.Notes = fmt.Sprintf("%d counter resets during shift; totals may undercount", s.ResetCount)
	}

	return s
}

// resetAwareTotal sums production across monotonic counter segments.
// The first segment contributes end-start (the counter existed before
// the shift); a segment opened by a reset contributes its full end
// value, since the counter restarted from zero.
func resetAwareTotal(logs []*v1.TelemetryLog, value func(*v1.TelemetryLog) int64) (total int64, resets int) {
	segStart := value(logs[0])
	prev := segStart

	for _, l := range logs[1:] {
		cur := value(l)
		if cur < prev {
			total += prev - segStart
			segStart = 0
			resets++
		}
		prev = cur
	}
	total += prev - segStart
	return total, resets
}

// errorRate returns errors as a percentage of total production, rounded
// to two decimal places. Zero production yields a zero rate.
func errorRate(errCount, total int64) float64 {
	if total <= 0 {
		return 0
	}
	rate := decimal.NewFromInt(errCount).
		Div(decimal.NewFromInt(total)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
	return rate.InexactFloat64()
}

func rssiStats(logs []*v1.TelemetryLog) (avg, min, max *int) {
	sum := decimal.Zero
	n := 0
	lo, hi := 0, 0

	for _, l := range logs {
		if l.RSSI == 0 {
			// Zero RSSI means the reading carried no radio sample.
			continue
		}
		if n == 0 || l.RSSI < lo {
			lo = l.RSSI
		}
		if n == 0 || l.RSSI > hi {
			hi = l.RSSI
		}
		sum = sum.Add(decimal.NewFromInt(int64(l.RSSI)))
		n++
	}
	if n == 0 {
		return nil, nil, nil
	}

	a := int(sum.Div(decimal.NewFromInt(int64(n))).Round(0).IntPart())
	return &a, &lo, &hi
}

func avgOptional(logs []*v1.TelemetryLog, value func(*v1.TelemetryLog) *int) *int {
	sum := decimal.Zero
	n := 0
	for _, l := range logs {
		if v := value(l); v != nil {
			sum = sum.Add(decimal.NewFromInt(int64(*v)))
			n++
		}
	}
	if n == 0 {
		return nil
	}
	a := int(sum.Div(decimal.NewFromInt(int64(n))).Round(0).IntPart())
	return &a
}

// CloseDay derives the daily rollup of one device from its two shift
// summaries, closing any shift not yet closed. The day's summary covers
// the business date: its day shift plus the night shift that runs into
// the next morning.
func (c *Closer) CloseDay(ctx context.Context, deviceID, date string, closedBy string) (*v1.DailySummary, error) {
	if _, err := c.summaries.GetDailySummary(ctx, deviceID, date); err == nil {
		return nil, ErrAlreadyClosed
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check existing daily summary: %w", err)
	}

	parsed, err := shift.ParseDate(date, c.loc)
	if err != nil {
		return nil, err
	}

	day, err := c.shiftSummaryClosing(ctx, deviceID, shiftInfoFor(parsed, shift.TypeDay), closedBy)
	if err != nil {
		return nil, err
	}
	night, err := c.shiftSummaryClosing(ctx, deviceID, shiftInfoFor(parsed, shift.TypeNight), closedBy)
	if err != nil {
		return nil, err
	}

	s := buildDailySummary(deviceID, date, parsed, day, night)
	s.ClosedAt = c.now().UTC()
	s.ClosedBy = closedBy

	if err := c.summaries.InsertDailySummary(ctx, s); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrAlreadyClosed
		}
		return nil, fmt.Errorf("persist daily summary: %w", err)
	}

	slog.Info("[Summary] Day closed",
		"device_id", deviceID,
		"summary_date", date,
		"total_count", s.TotalCount,
		"status", s.Status)
	return s, nil
}

// shiftSummaryClosing returns the shift's summary, closing it first if
// it has not been closed yet.
func (c *Closer) shiftSummaryClosing(ctx context.Context, deviceID string, sh shift.Info, closedBy string) (*v1.ShiftSummary, error) {
	s, err := c.CloseShift(ctx, deviceID, sh, closedBy)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrAlreadyClosed) {
		return nil, err
	}
	s, err = c.summaries.GetShiftSummary(ctx, deviceID, sh.Date, sh.Type)
	if err != nil {
		return nil, fmt.Errorf("load closed shift summary: %w", err)
	}
	return s, nil
}

func shiftInfoFor(date time.Time, typ string) shift.Info {
	start, end := shift.Boundaries(date, typ)
	return shift.Info{
		Type:    typ,
		Date:    date.Format(time.DateOnly),
		Number:  shift.Number(date, typ),
		StartAt: start,
		EndAt:   end,
	}
}

func buildDailySummary(deviceID, date string, parsed time.Time, day, night *v1.ShiftSummary) *v1.DailySummary {
	s := &v1.DailySummary{
		DeviceID:    deviceID,
		SummaryDate: date,
		Year:        parsed.Year(),
		Month:       int(parsed.Month()),
		Day:         parsed.Day(),

		DayShiftCount:      day.TotalCount,
		NightShiftCount:    night.TotalCount,
		TotalCount:         day.TotalCount + night.TotalCount,
		DayShiftErrCount:   day.TotalErrCount,
		NightShiftErrCount: night.TotalErrCount,
		TotalErrCount:      day.TotalErrCount + night.TotalErrCount,

		MessageCount: day.MessageCount + night.MessageCount,
		Status:       v1.SummaryStatusCompleted,
	}

	s.ErrorRate = errorRate(s.TotalErrCount, s.TotalCount)

	// Location comes from whichever shift has it; devices rarely move
	// within a day.
	s.PositionID = firstInt64(day.PositionID, night.PositionID)
	s.ProductionLineID = firstInt64(day.ProductionLineID, night.ProductionLineID)
	s.WorkshopID = firstInt64(day.WorkshopID, night.WorkshopID)

	s.AvgRSSI = weightedAvg(day.AvgRSSI, day.MessageCount, night.AvgRSSI, night.MessageCount)
	s.AvgBattery = weightedAvg(day.AvgBattery, day.MessageCount, night.AvgBattery, night.MessageCount)
	s.AvgTemperature = weightedAvg(day.AvgTemperature, day.MessageCount, night.AvgTemperature, night.MessageCount)

	if day.Status == v1.SummaryStatusPartial || night.Status == v1.SummaryStatusPartial {
		s.Status = v1.SummaryStatusPartial
		s.Notes = "one or more shifts closed partial"
	}

	return s
}

func firstInt64(a, b *int64) *int64 {
	if a != nil {
		return a
	}
	return b
}

// weightedAvg averages two per-shift averages weighted by their message
// counts. A shift without the measurement contributes nothing.
func weightedAvg(a *int, aN int, b *int, bN int) *int {
	sum := decimal.Zero
	n := 0
	if a != nil && aN > 0 {
		sum = sum.Add(decimal.NewFromInt(int64(*a)).Mul(decimal.NewFromInt(int64(aN))))
		n += aN
	}
	if b != nil && bN > 0 {
		sum = sum.Add(decimal.NewFromInt(int64(*b)).Mul(decimal.NewFromInt(int64(bN))))
		n += bN
	}
	if n == 0 {
		return nil
	}
	avg := int(sum.Div(decimal.NewFromInt(int64(n))).Round(0).IntPart())
	return &avg
}
