package sqlite

import (
	"database/sql"
	"time"

	"github.com/sentinel-ci/sentinel/internal/domain"
)

// ─── Drift Signal Repository ────────────────────────────────────────────────

// InsertSignal appends a drift signal. Signals are append-only: a recurring
// condition produces a new row each time it is detected.
func (d *DB) InsertSignal(s domain.DriftSignal) error {
	_, err := d.db.Exec(
		`INSERT INTO drift_signals
			(id, signal_type, test_id, severity, description, metadata, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, string(s.Type), s.TestID, string(s.Severity),
		s.Description, marshalMeta(s.Metadata), s.DetectedAt.Unix(),
	)
	return err
}

// SignalFilter narrows ListSignals. Zero values mean "no constraint".
type SignalFilter struct {
	Type    domain.SignalType
	TestID  string
	Since   time.Time
	Unacked bool
	Limit   int
}

// ListSignals returns signals matching the filter, newest first.
func (d *DB) ListSignals(f SignalFilter) ([]domain.DriftSignal, error) {
	query := `SELECT id, signal_type, test_id, severity, description, metadata,
			detected_at, acknowledged, acknowledged_at, acknowledged_by
		 FROM drift_signals WHERE 1=1`
	var args []any

	if f.Type != "" {
		query += ` AND signal_type = ?`
		args = append(args, string(f.Type))
	}
	if f.TestID != "" {
		query += ` AND test_id = ?`
		args = append(args, f.TestID)
	}
	if !f.Since.IsZero() {
		query += ` AND detected_at >= ?`
		args = append(args, f.Since.Unix())
	}
	if f.Unacked {
		query += ` AND acknowledged = 0`
	}
	query += ` ORDER BY detected_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DriftSignal
	for rows.Next() {
		var s domain.DriftSignal
		var sigType, severity, meta string
		var detected int64
		var ackedAt sql.NullInt64
		var ackedBy sql.NullString
		if err := rows.Scan(&s.ID, &sigType, &s.TestID, &severity, &s.Description,
			&meta, &detected, &s.Acknowledged, &ackedAt, &ackedBy); err != nil {
			return nil, err
		}
		s.Type = domain.SignalType(sigType)
		s.Severity = domain.Severity(severity)
		s.Metadata = unmarshalMeta(meta)
		s.DetectedAt = time.Unix(detected, 0)
		s.AcknowledgedAt = unixOrZero(ackedAt)
		if ackedBy.Valid {
			s.AcknowledgedBy = ackedBy.String
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AcknowledgeSignal marks a signal as handled by an operator.
func (d *DB) AcknowledgeSignal(id, by string, at time.Time) error {
	res, err := d.db.Exec(
		`UPDATE drift_signals SET acknowledged = 1, acknowledged_at = ?, acknowledged_by = ?
		 WHERE id = ?`,
		at.Unix(), by, id,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrSignalNotFound
	}
	return nil
}
