package postgres

// SQL for telemetry persistence. telemetry_logs is range-partitioned on
// recorded_at; the planner routes inserts to the right child, so the
// statements here never name a partition directly.

const (
	// queryInsertLog appends one accepted telemetry row.
	// RETURNING retrieves the auto-generated id.
	queryInsertLog = `
		INSERT INTO telemetry_logs (
			device_id, position_id,
			count, err_count, rssi,
			status, battery, temperature, uptime,
			shift_date, shift_type, shift_number,
			recorded_at, received_at, raw_payload,
			delta_count, delta_err_count, seconds_since
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id
	`

	// queryLogsForShift fetches every raw row of one (device, shift),
	// chronological. The secondary id ordering breaks recorded_at ties
	// deterministically.
	queryLogsForShift = `
		SELECT
			id, device_id, position_id,
			count, err_count, rssi,
			status, battery, temperature, uptime,
			shift_date, shift_type, shift_number,
			recorded_at, received_at, raw_payload,
			delta_count, delta_err_count, seconds_since
		FROM telemetry_logs
		WHERE device_id = $1 AND shift_date = $2 AND shift_type = $3
		ORDER BY recorded_at ASC, id ASC
	`

	// queryDeviceIDsWithLogs lists the devices that reported at least
	// once during a shift. Drives the aggregator fan-out.
	queryDeviceIDsWithLogs = `
		SELECT DISTINCT device_id
		FROM telemetry_logs
		WHERE shift_date = $1 AND shift_type = $2
		ORDER BY device_id ASC
	`

	queryFindDeviceByExternalID = `
		SELECT id, device_id, position_id, production_line_id, workshop_id
		FROM devices
		WHERE device_id = $1
	`

	queryListDeviceIDs = `
		SELECT device_id
		FROM devices
		ORDER BY device_id ASC
	`

	queryGetShiftSummary = `
		SELECT
			id, device_id,
			shift_date, shift_type, shift_number, shift_start_at, shift_end_at,
			position_id, production_line_id, workshop_id,
			start_count, end_count, total_count,
			start_err_count, end_err_count, total_err_count, error_rate,
			avg_rssi, min_rssi, max_rssi, avg_battery, avg_temperature,
			message_count, reset_count,
			status, closed_at, closed_by, notes
		FROM shift_summaries
		WHERE device_id = $1 AND shift_date = $2 AND shift_type = $3
	`

	// queryInsertShiftSummary inserts one closed shift rollup.
	// ON CONFLICT DO NOTHING returns no rows (sql.ErrNoRows) when the
	// (device, shift) key was already summarized.
	queryInsertShiftSummary = `
		INSERT INTO shift_summaries (
			device_id,
			shift_date, shift_type, shift_number, shift_start_at, shift_end_at,
			position_id, production_line_id, workshop_id,
			start_count, end_count, total_count,
			start_err_count, end_err_count, total_err_count, error_rate,
			avg_rssi, min_rssi, max_rssi, avg_battery, avg_temperature,
			message_count, reset_count,
			status, closed_at, closed_by, notes
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27
		)
		ON CONFLICT (device_id, shift_date, shift_type) DO NOTHING
		RETURNING id
	`

	queryGetDailySummary = `
		SELECT
			id, device_id,
			summary_date, year, month, day,
			position_id, production_line_id, workshop_id,
			day_shift_count, night_shift_count, total_count,
			day_shift_err_count, night_shift_err_count, total_err_count, error_rate,
			avg_rssi, avg_battery, avg_temperature,
			message_count,
			status, closed_at, closed_by, notes
		FROM daily_summaries
		WHERE device_id = $1 AND summary_date = $2
	`

	queryInsertDailySummary = `
		INSERT INTO daily_summaries (
			device_id,
			summary_date, year, month, day,
			position_id, production_line_id, workshop_id,
			day_shift_count, night_shift_count, total_count,
			day_shift_err_count, night_shift_err_count, total_err_count, error_rate,
			avg_rssi, avg_battery, avg_temperature,
			message_count,
			status, closed_at, closed_by, notes
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23
		)
		ON CONFLICT (device_id, summary_date) DO NOTHING
		RETURNING id
	`
)
