package sqlite

import (
	"database/sql"
	"time"

	"github.com/sentinel-ci/sentinel/internal/domain"
)

// ─── Event Repository ───────────────────────────────────────────────────────

// InsertEvent appends an execution event to the durable log.
func (d *DB) InsertEvent(e domain.Event) error {
	_, err := d.db.Exec(
		`INSERT INTO test_execution_event
			(event_type, framework, test_id, timestamp, status, duration_ms,
			 error_message, stack_trace, metadata, schema_version,
			 application_version, product_name, environment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Type), e.Framework, e.TestID, e.Timestamp.UnixMilli(),
		nullableStr(e.Status), nullableFloat(e.DurationMS),
		nullableStr(e.ErrorMessage), nullableStr(e.StackTrace),
		marshalMeta(e.Metadata), e.SchemaVersion,
		nullableStr(e.AppVersion), nullableStr(e.ProductName),
		nullableStr(e.Environment), time.Now().Unix(),
	)
	return err
}

// CountEventsForTest returns how many events exist for a test id.
// Used by new-test detection: a count of one means the event being
// processed is the first the store has ever seen for this test.
func (d *DB) CountEventsForTest(testID string) (int64, error) {
	var n int64
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM test_execution_event WHERE test_id = ?`, testID,
	).Scan(&n)
	return n, err
}

// CountEvents returns the total size of the event log.
func (d *DB) CountEvents() (int64, error) {
	var n int64
	err := d.db.QueryRow(`SELECT COUNT(*) FROM test_execution_event`).Scan(&n)
	return n, err
}

// RecentDurations returns the most recent test_end durations for a test,
// newest first, up to limit.
func (d *DB) RecentDurations(testID string, limit int) ([]float64, error) {
	rows, err := d.db.Query(
		`SELECT duration_ms FROM test_execution_event
		 WHERE test_id = ? AND event_type = ? AND duration_ms IS NOT NULL
		 ORDER BY timestamp DESC LIMIT ?`,
		testID, string(domain.EventTestEnd), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// RecentStatuses returns the most recent test_end statuses for a test,
// newest first, up to limit.
func (d *DB) RecentStatuses(testID string, limit int) ([]string, error) {
	rows, err := d.db.Query(
		`SELECT status FROM test_execution_event
		 WHERE test_id = ? AND event_type = ? AND status IS NOT NULL
		 ORDER BY timestamp DESC LIMIT ?`,
		testID, string(domain.EventTestEnd), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LastEventTimes returns the newest event timestamp per test id.
// The removed-test sweep compares these against its cutoff.
func (d *DB) LastEventTimes() (map[string]time.Time, error) {
	rows, err := d.db.Query(
		`SELECT test_id, MAX(timestamp) FROM test_execution_event GROUP BY test_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var ms int64
		if err := rows.Scan(&id, &ms); err != nil {
			return nil, err
		}
		out[id] = time.UnixMilli(ms)
	}
	return out, rows.Err()
}

// DistinctTestIDs returns every test id ever observed, sorted.
func (d *DB) DistinctTestIDs() ([]string, error) {
	rows, err := d.db.Query(
		`SELECT DISTINCT test_id FROM test_execution_event ORDER BY test_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nullableStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableFloat(f float64) sql.NullFloat64 {
	if f == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
