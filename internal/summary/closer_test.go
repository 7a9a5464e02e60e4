package summary

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/kilnworks/tilemetry/internal/api/v1"
	"github.com/kilnworks/tilemetry/internal/core/shift"
	"github.com/kilnworks/tilemetry/internal/core/storage"
)

type memLogStore struct {
	mu   sync.Mutex
	logs []*v1.TelemetryLog
}

func (s *memLogStore) InsertLog(_ context.Context, log *v1.TelemetryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.ID = int64(len(s.logs) + 1)
	s.logs = append(s.logs, log)
	return nil
}

func (s *memLogStore) LogsForShift(_ context.Context, deviceID, shiftDate, shiftType string) ([]*v1.TelemetryLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*v1.TelemetryLog
	for _, l := range s.logs {
		if l.DeviceID == deviceID && l.ShiftDate == shiftDate && l.ShiftType == shiftType {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *memLogStore) DeviceIDsWithLogs(_ context.Context, shiftDate, shiftType string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for _, l := range s.logs {
		if l.ShiftDate == shiftDate && l.ShiftType == shiftType && !seen[l.DeviceID] {
			seen[l.DeviceID] = true
			ids = append(ids, l.DeviceID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type memSummaryStore struct {
	mu     sync.Mutex
	shifts map[string]*v1.ShiftSummary
	days   map[string]*v1.DailySummary
}

func newMemSummaryStore() *memSummaryStore {
	return &memSummaryStore{
		shifts: make(map[string]*v1.ShiftSummary),
		days:   make(map[string]*v1.DailySummary),
	}
}

func shiftKey(deviceID, date, typ string) string { return deviceID + "|" + date + "|" + typ }

func (s *memSummaryStore) GetShiftSummary(_ context.Context, deviceID, shiftDate, shiftType string) (*v1.ShiftSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.shifts[shiftKey(deviceID, shiftDate, shiftType)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return sum, nil
}

func (s *memSummaryStore) InsertShiftSummary(_ context.Context, sum *v1.ShiftSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := shiftKey(sum.DeviceID, sum.ShiftDate, sum.ShiftType)
	if _, exists := s.shifts[key]; exists {
		return storage.ErrDuplicate
	}
	sum.ID = int64(len(s.shifts) + 1)
	s.shifts[key] = sum
	return nil
}

func (s *memSummaryStore) GetDailySummary(_ context.Context, deviceID, summaryDate string) (*v1.DailySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.days[deviceID+"|"+summaryDate]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return sum, nil
}

func (s *memSummaryStore) InsertDailySummary(_ context.Context, sum *v1.DailySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sum.DeviceID + "|" + sum.SummaryDate
	if _, exists := s.days[key]; exists {
		return storage.ErrDuplicate
	}
	sum.ID = int64(len(s.days) + 1)
	s.days[key] = sum
	return nil
}

type memDirectory struct {
	devices map[string]*v1.Device
}

func (d *memDirectory) FindByExternalID(_ context.Context, deviceID string) (*v1.Device, error) {
	dev, ok := d.devices[deviceID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return dev, nil
}

func (d *memDirectory) ListDeviceIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(d.devices))
	for id := range d.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func i64(v int64) *int64 { return &v }

func dayShift(date string) shift.Info {
	parsed, _ := shift.ParseDate(date, time.UTC)
	return shiftInfoFor(parsed, shift.TypeDay)
}

func nightShift(date string) shift.Info {
	parsed, _ := shift.ParseDate(date, time.UTC)
	return shiftInfoFor(parsed, shift.TypeNight)
}

// seedLogs appends counter readings spaced one minute apart within the
// given shift.
func seedLogs(t *testing.T, logs *memLogStore, deviceID string, sh shift.Info, counts []int64, errCounts []int64, rssi []int) {
	t.Helper()
	for i, count := range counts {
		var ec int64
		if errCounts != nil {
			ec = errCounts[i]
		}
		var r int
		if rssi != nil {
			r = rssi[i]
		}
		at := sh.StartAt.Add(time.Duration(i) * time.Minute)
		require.NoError(t, logs.InsertLog(context.Background(), &v1.TelemetryLog{
			DeviceID:    deviceID,
			Count:       count,
			ErrCount:    ec,
			RSSI:        r,
			Status:      "online",
			ShiftDate:   sh.Date,
			ShiftType:   sh.Type,
			ShiftNumber: sh.Number,
			RecordedAt:  at,
			ReceivedAt:  at,
		}))
	}
}

func newTestCloser() (*Closer, *memLogStore, *memSummaryStore) {
	logs := &memLogStore{}
	summaries := newMemSummaryStore()
	dir := &memDirectory{devices: map[string]*v1.Device{
		"TILE-001": {ID: 1, DeviceID: "TILE-001", PositionID: i64(7), ProductionLineID: i64(2)},
		"TILE-002": {ID: 2, DeviceID: "TILE-002"},
	}}

	c := NewCloser(logs, summaries, dir, time.UTC)
	c.now = func() time.Time { return time.Date(2026, 3, 10, 18, 1, 0, 0, time.UTC) }
	return c, logs, summaries
}

func TestCloseShift_MonotonicCounter(t *testing.T) {
	c, logs, _ := newTestCloser()
	sh := dayShift("2026-03-10")
	seedLogs(t, logs, "TILE-001", sh,
		[]int64{100, 400, 900, 1500},
		[]int64{0, 1, 2, 3},
		[]int{-60, -62, -58, -64})

	s, err := c.CloseShift(context.Background(), "TILE-001", sh, "system")
	require.NoError(t, err)

	assert.Equal(t, int64(100), s.StartCount)
	assert.Equal(t, int64(1500), s.EndCount)
	assert.Equal(t, int64(1400), s.TotalCount)
	assert.Equal(t, int64(3), s.TotalErrCount)
	assert.Equal(t, 0, s.ResetCount)
	assert.Equal(t, 4, s.MessageCount)
	assert.Equal(t, v1.SummaryStatusCompleted, s.Status)
	assert.Equal(t, "system", s.ClosedBy)

	require.NotNil(t, s.AvgRSSI)
	assert.Equal(t, -61, *s.AvgRSSI)
	require.NotNil(t, s.MinRSSI)
	assert.Equal(t, -64, *s.MinRSSI)
	require.NotNil(t, s.MaxRSSI)
	assert.Equal(t, -58, *s.MaxRSSI)

	require.NotNil(t, s.PositionID, "location comes from the directory")
	assert.Equal(t, int64(7), *s.PositionID)

	// 3 errors out of 1400 units, rounded to two decimals.
	assert.InDelta(t, 0.21, s.ErrorRate, 0.001)
}

func TestCloseShift_SingleResetTolerated(t *testing.T) {
	c, logs, _ := newTestCloser()
	sh := dayShift("2026-03-10")

	// Counter resets once mid-shift: 100→500, then restarts 20→300.
	seedLogs(t, logs, "TILE-001", sh, []int64{100, 500, 20, 300}, nil, nil)

	s, err := c.CloseShift(context.Background(), "TILE-001", sh, "system")
	require.NoError(t, err)

	// First segment produced 400; post-reset segment counts in full.
	assert.Equal(t, int64(700), s.TotalCount)
	assert.Equal(t, 1, s.ResetCount)
	assert.Equal(t, v1.SummaryStatusCompleted, s.Status, "one reset is business as usual")
}

func TestCloseShift_MultipleResetsMarkPartial(t *testing.T) {
	c, logs, _ := newTestCloser()
	sh := dayShift("2026-03-10")
	seedLogs(t, logs, "TILE-001", sh, []int64{100, 500, 20, 300, 10, 50}, nil, nil)

	s, err := c.CloseShift(context.Background(), "TILE-001", sh, "system")
	require.NoError(t, err)

	assert.Equal(t, int64(400+300+50), s.TotalCount)
	assert.Equal(t, 2, s.ResetCount)
	assert.Equal(t, v1.SummaryStatusPartial, s.Status)
	assert.Contains(t, s.Notes, "counter resets")
}

func TestCloseShift_NoLogsYieldsZeroedRow(t *testing.T) {
	c, _, summaries := newTestCloser()
	sh := dayShift("2026-03-10")

	s, err := c.CloseShift(context.Background(), "TILE-001", sh, "system")
	require.NoError(t, err)

	assert.Equal(t, int64(0), s.TotalCount)
	assert.Equal(t, 0, s.MessageCount)
	assert.Equal(t, v1.SummaryStatusCompleted, s.Status)
	assert.Nil(t, s.AvgRSSI)

	stored, err := summaries.GetShiftSummary(context.Background(), "TILE-001", sh.Date, sh.Type)
	require.NoError(t, err)
	assert.Equal(t, s.ID, stored.ID)
}

func TestCloseShift_AlreadyClosed(t *testing.T) {
	c, logs, _ := newTestCloser()
	sh := dayShift("2026-03-10")
	seedLogs(t, logs, "TILE-001", sh, []int64{10, 20}, nil, nil)

	_, err := c.CloseShift(context.Background(), "TILE-001", sh, "system")
	require.NoError(t, err)

	_, err = c.CloseShift(context.Background(), "TILE-001", sh, "operator-7")
	require.ErrorIs(t, err, ErrAlreadyClosed)
}

func TestCloseShift_ManualClosedByRecorded(t *testing.T) {
	c, logs, _ := newTestCloser()
	sh := dayShift("2026-03-10")
	seedLogs(t, logs, "TILE-001", sh, []int64{10, 20}, nil, nil)

	s, err := c.CloseShift(context.Background(), "TILE-001", sh, "operator-7")
	require.NoError(t, err)
	assert.Equal(t, "operator-7", s.ClosedBy)
}

func TestCloseDay_AggregatesBothShifts(t *testing.T) {
	c, logs, _ := newTestCloser()
	day := dayShift("2026-03-10")
	night := nightShift("2026-03-10")

	seedLogs(t, logs, "TILE-001", day, []int64{0, 600}, []int64{0, 6}, []int{-60, -60})
	seedLogs(t, logs, "TILE-001", night, []int64{600, 1000}, []int64{6, 10}, []int{-70, -70})

	s, err := c.CloseDay(context.Background(), "TILE-001", "2026-03-10", "system")
	require.NoError(t, err)

	assert.Equal(t, int64(600), s.DayShiftCount)
	assert.Equal(t, int64(400), s.NightShiftCount)
	assert.Equal(t, int64(1000), s.TotalCount)
	assert.Equal(t, int64(10), s.TotalErrCount)
	assert.Equal(t, 4, s.MessageCount)
	assert.Equal(t, 2026, s.Year)
	assert.Equal(t, 3, s.Month)
	assert.Equal(t, 10, s.Day)
	assert.Equal(t, v1.SummaryStatusCompleted, s.Status)
	assert.InDelta(t, 1.0, s.ErrorRate, 0.001)

	// Equal message counts: weighted average is the midpoint.
	require.NotNil(t, s.AvgRSSI)
	assert.Equal(t, -65, *s.AvgRSSI)
}

func TestCloseDay_ClosesOpenShiftsFirst(t *testing.T) {
	c, logs, summaries := newTestCloser()
	day := dayShift("2026-03-10")
	seedLogs(t, logs, "TILE-001", day, []int64{0, 500}, nil, nil)

	_, err := c.CloseDay(context.Background(), "TILE-001", "2026-03-10", "system")
	require.NoError(t, err)

	for _, typ := range []string{shift.TypeDay, shift.TypeNight} {
		_, err := summaries.GetShiftSummary(context.Background(), "TILE-001", "2026-03-10", typ)
		require.NoError(t, err, "%s shift must be closed as part of the day", typ)
	}
}

func TestCloseDay_PartialShiftPropagates(t *testing.T) {
	c, logs, _ := newTestCloser()
	day := dayShift("2026-03-10")
	seedLogs(t, logs, "TILE-001", day, []int64{100, 500, 20, 300, 10, 50}, nil, nil)

	s, err := c.CloseDay(context.Background(), "TILE-001", "2026-03-10", "system")
	require.NoError(t, err)
	assert.Equal(t, v1.SummaryStatusPartial, s.Status)
}

func TestCloseDay_AlreadyClosed(t *testing.T) {
	c, _, _ := newTestCloser()

	_, err := c.CloseDay(context.Background(), "TILE-001", "2026-03-10", "system")
	require.NoError(t, err)

	_, err = c.CloseDay(context.Background(), "TILE-001", "2026-03-10", "system")
	require.ErrorIs(t, err, ErrAlreadyClosed)
}

func TestErrorRate_Rounding(t *testing.T) {
	assert.InDelta(t, 33.33, errorRate(1, 3), 0.001)
	assert.InDelta(t, 0.0, errorRate(0, 100), 0.001)
	assert.InDelta(t, 0.0, errorRate(5, 0), 0.001, "zero production yields zero rate")
}
