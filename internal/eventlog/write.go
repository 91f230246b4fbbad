package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driftkit/driftsync/internal/event"
)

// CreateInput describes a new event. The payload is stored as given;
// the log assigns id, created_at and the pending status.
type CreateInput struct {
	Payload event.Payload
	// Timestamp is the logical occurrence time in ms since epoch.
	// Zero means "now".
	Timestamp int64
	DeviceID  string
}

// Create appends one event with status pending. Storage I/O failures
// surface synchronously and leave no event behind.
func (l *Log) Create(ctx context.Context, in CreateInput) (*event.Event, error) {
	evs, err := l.CreateBatch(ctx, []CreateInput{in})
	if err != nil {
		return nil, err
	}
	return evs[0], nil
}

// CreateBatch appends events in one atomic write: on failure none of
// the batch is visible.
func (l *Log) CreateBatch(ctx context.Context, ins []CreateInput) ([]*event.Event, error) {
	if len(ins) == 0 {
		return nil, nil
	}
	now := time.Now()
	evs := make([]*event.Event, 0, len(ins))
	for _, in := range ins {
		if in.Payload == nil {
			return nil, fmt.Errorf("create event: nil payload")
		}
		ts := in.Timestamp
		if ts == 0 {
			ts = now.UnixMilli()
		}
		evs = append(evs, &event.Event{
			ID:        uuid.New().String(),
			Kind:      in.Payload.Kind(),
			Payload:   in.Payload,
			Timestamp: ts,
			Status:    event.StatusPending,
			CreatedAt: now,
			DeviceID:  in.DeviceID,
		})
	}

	err := l.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO events (id, kind, payload, timestamp, status, created_at, device_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("create events: %w", err)
		}
		defer stmt.Close()
		for _, ev := range evs {
			data, err := event.EncodePayload(ev.Payload)
			if err != nil {
				return fmt.Errorf("create events: %w", err)
			}
			_, err = stmt.ExecContext(ctx,
				ev.ID, string(ev.Kind), string(data), ev.Timestamp,
				string(ev.Status), formatTime(ev.CreatedAt), ev.DeviceID,
			)
			if err != nil {
				return fmt.Errorf("create event %s: %w", ev.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.subs.notify(Change{Op: OpCreated, Status: event.StatusPending, Events: evs, IDs: eventIDs(evs)})
	return evs, nil
}

// MarkSynced atomically sets status=synced and synced_at for the given
// ids. Unknown ids are ignored and re-marking an already-synced id is a
// no-op, so the call is idempotent.
func (l *Log) MarkSynced(ctx context.Context, ids []string, syncedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	var updated []string
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
			UPDATE events
			SET status = 'synced', synced_at = ?, error = '', failed_at = NULL
			WHERE id IN (%s) AND status <> 'synced'
			RETURNING id
		`, placeholders(len(ids))), args(formatTime(syncedAt), ids)...)
		if err != nil {
			return fmt.Errorf("mark synced: %w", err)
		}
		defer rows.Close()
		updated, err = scanIDs(rows)
		return err
	})
	if err != nil {
		return err
	}
	if len(updated) > 0 {
		l.subs.notify(Change{Op: OpStatusChanged, Status: event.StatusSynced, IDs: updated})
	}
	return nil
}

// FailedUpdate records one event's failure disposition.
type FailedUpdate struct {
	ID         string
	Error      string
	RetryCount int
}

// MarkFailed atomically sets status=failed with the given error and
// retry count per id, stamping failed_at for backoff bookkeeping.
func (l *Log) MarkFailed(ctx context.Context, updates []FailedUpdate, failedAt time.Time) error {
	if len(updates) == 0 {
		return nil
	}
	ids := make([]string, 0, len(updates))
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE events
			SET status = 'failed', error = ?, retry_count = ?, failed_at = ?
			WHERE id = ?
		`)
		if err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		defer stmt.Close()
		for _, u := range updates {
			if _, err := stmt.ExecContext(ctx, u.Error, u.RetryCount, formatTime(failedAt), u.ID); err != nil {
				return fmt.Errorf("mark failed %s: %w", u.ID, err)
			}
			ids = append(ids, u.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.subs.notify(Change{Op: OpStatusChanged, Status: event.StatusFailed, IDs: ids})
	return nil
}

// StatusOpts tunes a generic status transition.
type StatusOpts struct {
	// ResetRetry zeroes retry_count and clears error/failed_at. Used by
	// explicit retry (failed -> pending).
	ResetRetry bool
	// Error annotates a failed transition.
	Error string
}

// UpdateStatus applies a generic status transition to one event.
func (l *Log) UpdateStatus(ctx context.Context, id string, status event.Status, opts StatusOpts) error {
	return l.UpdateStatusBatch(ctx, []string{id}, status, opts)
}

// UpdateStatusBatch applies one status transition to all given ids
// atomically: all member events transition together or none do.
func (l *Log) UpdateStatusBatch(ctx context.Context, ids []string, status event.Status, opts StatusOpts) error {
	if len(ids) == 0 {
		return nil
	}
	if !status.Valid() {
		return fmt.Errorf("update status: invalid status %q", status)
	}
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		q := `UPDATE events SET status = ?, error = ?`
		argv := []any{string(status), opts.Error}
		if opts.ResetRetry {
			q += `, retry_count = 0, failed_at = NULL`
		}
		q += fmt.Sprintf(` WHERE id IN (%s)`, placeholders(len(ids)))
		for _, id := range ids {
			argv = append(argv, id)
		}
		if _, err := tx.ExecContext(ctx, q, argv...); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.subs.notify(Change{Op: OpStatusChanged, Status: status, IDs: ids})
	return nil
}

// Supersede rewrites an event with a conflict-resolved version. This is
// the single sanctioned path that may replace payload, timestamp and
// device of an existing event; ev.Status decides whether the result is
// re-queued (pending) or accepted as the remote's copy (synced).
func (l *Log) Supersede(ctx context.Context, ev *event.Event) error {
	if !ev.Status.Valid() {
		return fmt.Errorf("supersede %s: invalid status %q", ev.ID, ev.Status)
	}
	data, err := event.EncodePayload(ev.Payload)
	if err != nil {
		return fmt.Errorf("supersede %s: %w", ev.ID, err)
	}
	var syncedAt any
	if ev.SyncedAt != nil {
		syncedAt = formatTime(*ev.SyncedAt)
	}
	err = l.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE events
			SET kind = ?, payload = ?, timestamp = ?, device_id = ?,
			    status = ?, synced_at = ?, error = '', retry_count = 0, failed_at = NULL
			WHERE id = ?
		`, string(ev.Kind), string(data), ev.Timestamp, ev.DeviceID,
			string(ev.Status), syncedAt, ev.ID)
		if err != nil {
			return fmt.Errorf("supersede %s: %w", ev.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("supersede %s: %w", ev.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("supersede %s: %w", ev.ID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.subs.notify(Change{Op: OpStatusChanged, Status: ev.Status, IDs: []string{ev.ID}})
	return nil
}

// Purge deletes events with the given status older than cutoff
// (compared on the logical timestamp). Returns the number removed.
// Sync never purges; only explicit maintenance calls do.
func (l *Log) Purge(ctx context.Context, status event.Status, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		DELETE FROM events WHERE status = ? AND timestamp < ?
	`, string(status), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func args(first any, ids []string) []any {
	out := make([]any, 0, len(ids)+1)
	out = append(out, first)
	for _, id := range ids {
		out = append(out, id)
	}
	return out
}

func eventIDs(evs []*event.Event) []string {
	ids := make([]string, len(evs))
	for i, ev := range evs {
		ids[i] = ev.ID
	}
	return ids
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
