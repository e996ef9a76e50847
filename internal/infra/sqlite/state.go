package sqlite

import (
	"database/sql"

	"github.com/sentinel-ci/sentinel/internal/domain"
)

// ─── Lifecycle State Repository ─────────────────────────────────────────────

// GetState retrieves a project's lifecycle record, or nil when the project
// has never been touched.
func (d *DB) GetState(projectID string) (*domain.LifecycleState, error) {
	row := d.db.QueryRow(
		`SELECT project_id, mode, migration_completed_at, observer_enabled,
			hooks_registered, last_event_at, metadata
		 FROM migration_state WHERE project_id = ?`, projectID,
	)

	var st domain.LifecycleState
	var mode, meta string
	var completedAt, lastEventAt sql.NullInt64
	err := row.Scan(&st.ProjectID, &mode, &completedAt, &st.ObserverEnabled,
		&st.HooksRegistered, &lastEventAt, &meta)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	st.Mode = domain.Mode(mode)
	st.MigrationCompletedAt = unixOrZero(completedAt)
	st.LastEventAt = unixOrZero(lastEventAt)
	st.Metadata = unmarshalMeta(meta)
	return &st, nil
}

// SaveState upserts a project's lifecycle record.
func (d *DB) SaveState(st domain.LifecycleState) error {
	_, err := d.db.Exec(
		`INSERT INTO migration_state
			(project_id, mode, migration_completed_at, observer_enabled,
			 hooks_registered, last_event_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id) DO UPDATE SET
			mode                   = excluded.mode,
			migration_completed_at = excluded.migration_completed_at,
			observer_enabled       = excluded.observer_enabled,
			hooks_registered       = excluded.hooks_registered,
			last_event_at          = excluded.last_event_at,
			metadata               = excluded.metadata`,
		st.ProjectID, string(st.Mode), nullableUnix(st.MigrationCompletedAt),
		st.ObserverEnabled, st.HooksRegistered, nullableUnix(st.LastEventAt),
		marshalMeta(st.Metadata),
	)
	return err
}

// ListStates returns all known project lifecycle records.
func (d *DB) ListStates() ([]domain.LifecycleState, error) {
	rows, err := d.db.Query(
		`SELECT project_id, mode, migration_completed_at, observer_enabled,
			hooks_registered, last_event_at, metadata
		 FROM migration_state ORDER BY project_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LifecycleState
	for rows.Next() {
		var st domain.LifecycleState
		var mode, meta string
		var completedAt, lastEventAt sql.NullInt64
		if err := rows.Scan(&st.ProjectID, &mode, &completedAt, &st.ObserverEnabled,
			&st.HooksRegistered, &lastEventAt, &meta); err != nil {
			return nil, err
		}
		st.Mode = domain.Mode(mode)
		st.MigrationCompletedAt = unixOrZero(completedAt)
		st.LastEventAt = unixOrZero(lastEventAt)
		st.Metadata = unmarshalMeta(meta)
		out = append(out, st)
	}
	return out, rows.Err()
}
