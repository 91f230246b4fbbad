package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/driftkit/driftsync/internal/event"
)

// ErrNotFound is returned when an event id does not exist in the log.
var ErrNotFound = errors.New("event not found")

const selectColumns = `
	id, kind, payload, timestamp, status, created_at,
	synced_at, error, retry_count, failed_at, device_id
`

// Pending returns up to limit pending events ordered by timestamp
// ascending, oldest first, so syncs process events in occurrence order.
// limit <= 0 means no bound.
func (l *Log) Pending(ctx context.Context, limit int) ([]*event.Event, error) {
	return l.byStatus(ctx, event.StatusPending, limit)
}

// Failed returns up to limit failed events ordered by timestamp
// ascending. limit <= 0 means no bound.
func (l *Log) Failed(ctx context.Context, limit int) ([]*event.Event, error) {
	return l.byStatus(ctx, event.StatusFailed, limit)
}

func (l *Log) byStatus(ctx context.Context, status event.Status, limit int) ([]*event.Event, error) {
	q := `SELECT ` + selectColumns + ` FROM events WHERE status = ? ORDER BY timestamp ASC, id ASC`
	argv := []any{string(status)}
	if limit > 0 {
		q += ` LIMIT ?`
		argv = append(argv, limit)
	}
	rows, err := l.db.QueryContext(ctx, q, argv...)
	if err != nil {
		return nil, fmt.Errorf("query %s events: %w", status, err)
	}
	defer rows.Close()

	var evs []*event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}

// Get returns one event by id, or ErrNotFound.
func (l *Log) Get(ctx context.Context, id string) (*event.Event, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get event %s: %w", id, ErrNotFound)
	}
	return ev, err
}

// CountByStatus returns the number of events per status.
func (l *Log) CountByStatus(ctx context.Context) (map[event.Status]int, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[event.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count events: %w", err)
		}
		counts[event.Status(status)] = n
	}
	return counts, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*event.Event, error) {
	var (
		ev        event.Event
		kind      string
		payload   string
		status    string
		createdAt string
		syncedAt  sql.NullString
		failedAt  sql.NullString
	)
	err := row.Scan(&ev.ID, &kind, &payload, &ev.Timestamp, &status,
		&createdAt, &syncedAt, &ev.Error, &ev.RetryCount, &failedAt, &ev.DeviceID)
	if err != nil {
		return nil, err
	}
	ev.Kind = event.Kind(kind)
	ev.Status = event.Status(status)
	ev.Payload, err = event.DecodePayload(ev.Kind, []byte(payload))
	if err != nil {
		return nil, fmt.Errorf("scan event %s: %w", ev.ID, err)
	}
	if ev.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("scan event %s: %w", ev.ID, err)
	}
	if syncedAt.Valid {
		t, err := parseTime(syncedAt.String)
		if err != nil {
			return nil, fmt.Errorf("scan event %s: %w", ev.ID, err)
		}
		ev.SyncedAt = &t
	}
	if failedAt.Valid {
		t, err := parseTime(failedAt.String)
		if err != nil {
			return nil, fmt.Errorf("scan event %s: %w", ev.ID, err)
		}
		ev.FailedAt = &t
	}
	return &ev, nil
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
