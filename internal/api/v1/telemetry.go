package v1

import (
	"fmt"
	"time"
)

// CountSanityCeiling is the largest counter value accepted from a device.
// Anything above it is treated as a corrupt payload and rejected outright.
const CountSanityCeiling = 10_000_000

// TelemetryMessage is the wire shape of one device counter report.
// It is transient: validated, enriched and persisted as a TelemetryLog,
// never stored as-is.
type TelemetryMessage struct {
	// DeviceID is the external identifier the device reports itself as.
	DeviceID string `json:"device_id"`

	// Timestamp is the device-reported clock. Optional: when zero the
	// ingestion clock is used instead.
	Timestamp time.Time `json:"ts,omitzero"`

	Metrics TelemetryMetrics `json:"metrics"`
	Quality TelemetryQuality `json:"quality"`

	// Raw carries the original payload for audit purposes.
	Raw map[string]interface{} `json:"raw,omitempty"`
}

type TelemetryMetrics struct {
	Count    int64 `json:"count"`
	ErrCount int64 `json:"err_count"`
}

type TelemetryQuality struct {
	RSSI int `json:"rssi"`
}

// Validate checks the message envelope. Field-level clamping and the
// sanity ceiling are handled by the ingestion pipeline, not here.
func (m *TelemetryMessage) Validate() error {
	if m.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	return nil
}

// HealthMessage is the wire shape of one device health report.
type HealthMessage struct {
	DeviceID    string    `json:"device_id"`
	Timestamp   time.Time `json:"ts,omitzero"`
	Status      string    `json:"status"`
	Battery     *int      `json:"battery,omitempty"`
	Temperature *int      `json:"temperature,omitempty"`
	Uptime      *int64    `json:"uptime,omitempty"`
}

func (m *HealthMessage) Validate() error {
	if m.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	return nil
}

// Device is the directory record for a known device, resolved by the
// relational store from the external device id.
type Device struct {
	ID               int64
	DeviceID         string
	PositionID       *int64
	ProductionLineID *int64
	WorkshopID       *int64
}

// TelemetryLog is one accepted message, append-only.
// Shift attribution is computed from the ingestion clock at insert time;
// device clocks are not trusted for shift bookkeeping.
type TelemetryLog struct {
	ID         int64
	DeviceID   string
	PositionID *int64

	Count    int64
	ErrCount int64
	RSSI     int

	Status      string
	Battery     *int
	Temperature *int
	Uptime      *int64

	ShiftDate   string // YYYY-MM-DD
	ShiftType   string // "day" | "night"
	ShiftNumber int

	// RecordedAt is the accepted timestamp (device-reported when present,
	// ingestion clock otherwise). ReceivedAt is always the ingestion clock.
	RecordedAt time.Time
	ReceivedAt time.Time

	RawPayload map[string]interface{}

	// Deltas against the previous cached sample for this device.
	// Nil when no previous sample was cached.
	DeltaCount    *int64
	DeltaErrCount *int64
	SecondsSince  *int64
}

// Summary statuses. A period moves pending → completed when closed by the
// aggregator; partial marks a shift with more than one counter reset, and
// verified is reserved for manual sign-off by an operator.
const (
	SummaryStatusPending   = "pending"
	SummaryStatusPartial   = "partial"
	SummaryStatusCompleted = "completed"
	SummaryStatusVerified  = "verified"
)

// ShiftSummary is the immutable-once-closed rollup of one (device, shift).
type ShiftSummary struct {
	ID       int64  `json:"id"`
	DeviceID string `json:"device_id"`

	ShiftDate    string    `json:"shift_date"`
	ShiftType    string    `json:"shift_type"`
	ShiftNumber  int       `json:"shift_number"`
	ShiftStartAt time.Time `json:"shift_start_at"`
	ShiftEndAt   time.Time `json:"shift_end_at"`

	PositionID       *int64 `json:"position_id,omitempty"`
	ProductionLineID *int64 `json:"production_line_id,omitempty"`
	WorkshopID       *int64 `json:"workshop_id,omitempty"`

	StartCount    int64   `json:"start_count"`
	EndCount      int64   `json:"end_count"`
	TotalCount    int64   `json:"total_count"`
	StartErrCount int64   `json:"start_err_count"`
	EndErrCount   int64   `json:"end_err_count"`
	TotalErrCount int64   `json:"total_err_count"`
	ErrorRate     float64 `json:"error_rate"` // percent

	AvgRSSI *int `json:"avg_rssi,omitempty"`
	MinRSSI *int `json:"min_rssi,omitempty"`
	MaxRSSI *int `json:"max_rssi,omitempty"`

	AvgBattery     *int `json:"avg_battery,omitempty"`
	AvgTemperature *int `json:"avg_temperature,omitempty"`

	MessageCount int `json:"message_count"`
	ResetCount   int `json:"reset_count"`

	Status   string    `json:"status"`
	ClosedAt time.Time `json:"closed_at"`
	ClosedBy string    `json:"closed_by"`
	Notes    string    `json:"notes,omitempty"`
}

// DailySummary is the rollup of one (device, calendar day), derived from
// the two shift summaries of that day.
type DailySummary struct {
	ID       int64  `json:"id"`
	DeviceID string `json:"device_id"`

	SummaryDate string `json:"summary_date"`
	Year        int    `json:"year"`
	Month       int    `json:"month"`
	Day         int    `json:"day"`

	PositionID       *int64 `json:"position_id,omitempty"`
	ProductionLineID *int64 `json:"production_line_id,omitempty"`
	WorkshopID       *int64 `json:"workshop_id,omitempty"`

	DayShiftCount      int64   `json:"day_shift_count"`
	NightShiftCount    int64   `json:"night_shift_count"`
	TotalCount         int64   `json:"total_count"`
	DayShiftErrCount   int64   `json:"day_shift_err_count"`
	NightShiftErrCount int64   `json:"night_shift_err_count"`
	TotalErrCount      int64   `json:"total_err_count"`
	ErrorRate          float64 `json:"error_rate"`

	AvgRSSI        *int `json:"avg_rssi,omitempty"`
	AvgBattery     *int `json:"avg_battery,omitempty"`
	AvgTemperature *int `json:"avg_temperature,omitempty"`

	MessageCount int `json:"message_count"`

	Status   string    `json:"status"`
	ClosedAt time.Time `json:"closed_at"`
	ClosedBy string    `json:"closed_by"`
	Notes    string    `json:"notes,omitempty"`
}

// BroadcastPayload is the rate-limited live update pushed to subscribers.
type BroadcastPayload struct {
	DeviceID  string `json:"deviceId"`
	Count     int64  `json:"count"`
	ErrCount  int64  `json:"errCount"`
	RSSI      int    `json:"rssi"`
	Status    string `json:"status,omitempty"`
	Timestamp string `json:"timestamp"` // ISO-8601
}
