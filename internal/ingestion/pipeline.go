package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/kilnworks/tilemetry/internal/api/v1"
	"github.com/kilnworks/tilemetry/internal/broadcast"
	"github.com/kilnworks/tilemetry/internal/core/shift"
	"github.com/kilnworks/tilemetry/internal/core/storage"
)

var (
	// ErrUnknownDevice is returned for messages from devices absent from
	// the directory. Such messages are rejected, never stored.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrCountOutOfRange is returned when a counter exceeds the sanity
	// ceiling. Values that large are corrupt payloads, not production.
	ErrCountOutOfRange = fmt.Errorf("counter exceeds sanity ceiling %d", v1.CountSanityCeiling)
)

// ProcessTelemetry runs the accept path for one counter report: device
// resolution, timestamp resolution, the ordering gate, validation,
// delta computation, persistence and the rate-limited live broadcast.
//
// Shift attribution uses the ingestion clock, not the device clock:
// device clocks drift, and a late-synced clock must not move a reading
// into a different shift than the one it arrived in.
func (s *Service) ProcessTelemetry(ctx context.Context, msg *v1.TelemetryMessage) (*v1.TelemetryLog, error) {
	dev, err := s.resolveDevice(ctx, msg.DeviceID)
	if err != nil {
		return nil, err
	}

	receivedAt := s.now().UTC()
	recordedAt := receivedAt
	if !msg.Timestamp.IsZero() {
		recordedAt = msg.Timestamp.UTC()
	}

	var log *v1.TelemetryLog
	err = s.gate.ProcessOrdered(ctx, msg.DeviceID, "telemetry", recordedAt, func(ctx context.Context) error {
		accepted, err := s.acceptTelemetry(ctx, dev, msg, recordedAt, receivedAt)
		if err != nil {
			return err
		}
		log = accepted
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.broadcastSample(ctx, dev, log, true)
	return log, nil
}

// acceptTelemetry runs inside the ordering gate: by the time it
// executes, no other instance is processing this device and the
// timestamp is known to be in order.
func (s *Service) acceptTelemetry(ctx context.Context, dev *v1.Device, msg *v1.TelemetryMessage, recordedAt, receivedAt time.Time) (*v1.TelemetryLog, error) {
	count := msg.Metrics.Count
	errCount := msg.Metrics.ErrCount
	if count > v1.CountSanityCeiling || errCount > v1.CountSanityCeiling {
		slog.Warn("[Ingestion] Counter beyond sanity ceiling rejected",
			"device_id", msg.DeviceID,
			"count", count,
			"err_count", errCount)
		return nil, ErrCountOutOfRange
	}
	if count < 0 || errCount < 0 {
		slog.Warn("[Ingestion] Negative counter clamped to zero",
			"device_id", msg.DeviceID,
			"count", count,
			"err_count", errCount)
		count = max(count, 0)
		errCount = max(errCount, 0)
	}

	// Shift labels are civil factory time; stored timestamps stay UTC.
	sh := shift.Of(receivedAt.In(s.loc))

	log := &v1.TelemetryLog{
		DeviceID:    dev.DeviceID,
		PositionID:  dev.PositionID,
		Count:       count,
		ErrCount:    errCount,
		RSSI:        msg.Quality.RSSI,
		Status:      "online",
		ShiftDate:   sh.Date,
		ShiftType:   sh.Type,
		ShiftNumber: sh.Number,
		RecordedAt:  recordedAt,
		ReceivedAt:  receivedAt,
		RawPayload:  msg.Raw,
	}

	// Deltas against the previous cached sample. Negative deltas are
	// kept as-is: the aggregator uses them to detect counter resets.
	if prev, ok := s.samples.Lookup(dev.DeviceID); ok {
		dc := count - prev.Count
		dec := errCount - prev.ErrCount
		secs := int64(recordedAt.Sub(prev.At).Seconds())
		log.DeltaCount = &dc
		log.DeltaErrCount = &dec
		log.SecondsSince = &secs
	}

	if err := s.logs.InsertLog(ctx, log); err != nil {
		return nil, fmt.Errorf("persist telemetry for %s: %w", dev.DeviceID, err)
	}

	s.samples.Set(dev.DeviceID, Sample{
		Count:    count,
		ErrCount: errCount,
		RSSI:     msg.Quality.RSSI,
		Status:   "online",
		At:       recordedAt,
	})

	return log, nil
}

// ProcessHealth runs the accept path for one health report. Health
// messages carry no counters; the last cached counters are persisted
// alongside the new status so the log stays self-contained.
func (s *Service) ProcessHealth(ctx context.Context, msg *v1.HealthMessage) (*v1.TelemetryLog, error) {
	dev, err := s.resolveDevice(ctx, msg.DeviceID)
	if err != nil {
		return nil, err
	}

	receivedAt := s.now().UTC()
	recordedAt := receivedAt
	if !msg.Timestamp.IsZero() {
		recordedAt = msg.Timestamp.UTC()
	}

	status := msg.Status
	if status == "" {
		status = "online"
	}

	var log *v1.TelemetryLog
	err = s.gate.ProcessOrdered(ctx, msg.DeviceID, "health", recordedAt, func(ctx context.Context) error {
		prev, _ := s.samples.Lookup(dev.DeviceID)
		sh := shift.Of(receivedAt.In(s.loc))

		log = &v1.TelemetryLog{
			DeviceID:    dev.DeviceID,
			PositionID:  dev.PositionID,
			Count:       prev.Count,
			ErrCount:    prev.ErrCount,
			RSSI:        prev.RSSI,
			Status:      status,
			Battery:     msg.Battery,
			Temperature: msg.Temperature,
			Uptime:      msg.Uptime,
			ShiftDate:   sh.Date,
			ShiftType:   sh.Type,
			ShiftNumber: sh.Number,
			RecordedAt:  recordedAt,
			ReceivedAt:  receivedAt,
		}

		if err := s.logs.InsertLog(ctx, log); err != nil {
			return fmt.Errorf("persist health report for %s: %w", dev.DeviceID, err)
		}

		prev.Status = status
		prev.At = recordedAt
		s.samples.Set(dev.DeviceID, prev)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Status changes go out immediately; a degraded device must not wait
	// behind the counter-update throttle.
	s.broadcastSample(ctx, dev, log, false)
	return log, nil
}

// DeviceSample is one entry of the live device list.
type DeviceSample struct {
	DeviceID string    `json:"device_id"`
	Count    int64     `json:"count"`
	ErrCount int64     `json:"err_count"`
	RSSI     int       `json:"rssi"`
	Status   string    `json:"status"`
	At       time.Time `json:"at"`
}

// LatestSamples returns the last cached reading of every registered
// device that has reported within the cache TTL. Served entirely from
// memory; devices silent beyond the TTL drop off the list.
func (s *Service) LatestSamples(ctx context.Context) ([]DeviceSample, error) {
	ids, err := s.devices.ListDeviceIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	samples := make([]DeviceSample, 0, len(ids))
	for _, id := range ids {
		sample, ok := s.samples.Lookup(id)
		if !ok {
			continue
		}
		samples = append(samples, DeviceSample{
			DeviceID: id,
			Count:    sample.Count,
			ErrCount: sample.ErrCount,
			RSSI:     sample.RSSI,
			Status:   sample.Status,
			At:       sample.At,
		})
	}
	return samples, nil
}

func (s *Service) resolveDevice(ctx context.Context, deviceID string) (*v1.Device, error) {
	dev, err := s.devices.FindByExternalID(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		slog.Warn("[Ingestion] Message from unregistered device rejected", "device_id", deviceID)
		return nil, ErrUnknownDevice
	}
	if err != nil {
		return nil, fmt.Errorf("resolve device %s: %w", deviceID, err)
	}
	return dev, nil
}

// broadcastSample pushes the accepted reading to live subscribers,
// throttled per device. Unthrottled sends still stamp the limiter so a
// counter update right after does not double-fire. Failures are
// swallowed: ingestion has already succeeded and a missed dashboard
// update is acceptable.
func (s *Service) broadcastSample(ctx context.Context, dev *v1.Device, log *v1.TelemetryLog, throttled bool) {
	if throttled {
		if !s.limiter.ShouldBroadcast(dev.DeviceID) {
			return
		}
	} else {
		s.limiter.ForceStamp(dev.DeviceID)
	}

	rooms := []string{broadcast.DeviceRoom(dev.DeviceID)}
	if dev.ProductionLineID != nil {
		rooms = append(rooms, broadcast.LineRoom(*dev.ProductionLineID))
	}
	if dev.PositionID != nil {
		rooms = append(rooms, broadcast.PositionRoom(*dev.PositionID))
	}

	payload := &v1.BroadcastPayload{
		DeviceID:  dev.DeviceID,
		Count:     log.Count,
		ErrCount:  log.ErrCount,
		RSSI:      log.RSSI,
		Status:    log.Status,
		Timestamp: log.RecordedAt.Format(time.RFC3339),
	}

	if err := s.sink.Publish(ctx, rooms, payload); err != nil {
		slog.Debug("[Ingestion] Broadcast skipped",
			"device_id", dev.DeviceID,
			"error", err)
	}
}
