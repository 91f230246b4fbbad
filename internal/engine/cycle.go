package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/driftkit/driftsync/internal/config"
	"github.com/driftkit/driftsync/internal/event"
	"github.com/driftkit/driftsync/internal/eventlog"
	"github.com/driftkit/driftsync/internal/metrics"
)

// safeCycle runs one cycle and converts panics into an Error-state
// cycle failure instead of crashing the scheduler.
func (e *Engine) safeCycle(ctx context.Context, cfg config.SyncConf) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			if res == nil {
				res = &Result{}
			}
			res.Success = false
			err = fmt.Errorf("sync cycle panic: %v", r)
		}
	}()
	return e.runCycle(ctx, cfg)
}

// runCycle is the batch sync algorithm: drain up to batchSize eligible
// events, push them in one call, then apply the per-event dispositions
// back into the log atomically per disposition class.
func (e *Engine) runCycle(ctx context.Context, cfg config.SyncConf) (*Result, error) {
	start := e.now()
	res := &Result{Success: true}
	defer func() {
		res.DurationMs = e.now().Sub(start).Milliseconds()
		metrics.SyncDuration.Observe(float64(res.DurationMs))
	}()

	batch, err := e.collectBatch(ctx, cfg)
	if err != nil {
		res.Success = false
		return res, err
	}
	if len(batch) == 0 {
		metrics.SyncCycles.WithLabelValues("empty").Inc()
		return res, nil
	}

	pushed, pushErr := e.remote.Push(ctx, batch)
	completedAt := e.now()

	if pushErr != nil {
		// Whole-batch transport failure: every event in the attempted
		// batch fails with that error and stays retryable.
		updates := make([]eventlog.FailedUpdate, 0, len(batch))
		for _, ev := range batch {
			updates = append(updates, eventlog.FailedUpdate{
				ID:         ev.ID,
				Error:      pushErr.Error(),
				RetryCount: ev.RetryCount + 1,
			})
			res.FailedEvents = append(res.FailedEvents, FailedEvent{
				EventID:   ev.ID,
				Error:     pushErr.Error(),
				Retryable: true,
			})
		}
		res.Success = false
		if err := e.log.MarkFailed(ctx, updates, completedAt); err != nil {
			return res, err
		}
		metrics.EventsFailed.Add(float64(len(batch)))
		metrics.SyncCycles.WithLabelValues("transport_error").Inc()
		return res, fmt.Errorf("push batch of %d: %w", len(batch), pushErr)
	}

	byID := make(map[string]*event.Event, len(batch))
	for _, ev := range batch {
		byID[ev.ID] = ev
	}

	if len(pushed.SyncedIDs) > 0 {
		if err := e.log.MarkSynced(ctx, pushed.SyncedIDs, completedAt); err != nil {
			res.Success = false
			return res, err
		}
		res.SyncedIDs = pushed.SyncedIDs
		metrics.EventsSynced.Add(float64(len(pushed.SyncedIDs)))
	}

	if len(pushed.Errors) > 0 {
		updates := make([]eventlog.FailedUpdate, 0, len(pushed.Errors))
		for _, pe := range pushed.Errors {
			ev, ok := byID[pe.EventID]
			if !ok {
				// Remote reported an id we did not push; ignore.
				continue
			}
			newCount := ev.RetryCount + 1
			updates = append(updates, eventlog.FailedUpdate{
				ID:         pe.EventID,
				Error:      pe.Message,
				RetryCount: newCount,
			})
			res.FailedEvents = append(res.FailedEvents, FailedEvent{
				EventID:   pe.EventID,
				Error:     pe.Message,
				Retryable: newCount < cfg.MaxRetryAttempts,
			})
		}
		res.Success = false
		if err := e.log.MarkFailed(ctx, updates, completedAt); err != nil {
			return res, err
		}
		metrics.EventsFailed.Add(float64(len(updates)))
	}

	for _, c := range pushed.Conflicts {
		local, ok := byID[c.EventID]
		if !ok {
			continue
		}
		if err := e.handleConflict(ctx, local, c.Remote, cfg, res); err != nil {
			res.Success = false
			return res, err
		}
	}

	if res.Success {
		metrics.SyncCycles.WithLabelValues("ok").Inc()
	} else {
		metrics.SyncCycles.WithLabelValues("partial").Inc()
	}
	return res, nil
}

// collectBatch drains up to batchSize pending events, topping up with
// failed events whose backoff has elapsed and whose retry budget is not
// exhausted. Events parked behind a manual conflict are excluded. The
// batch is timestamp-ascending so retries and initial syncs go out in
// occurrence order.
func (e *Engine) collectBatch(ctx context.Context, cfg config.SyncConf) ([]*event.Event, error) {
	pending, err := e.log.Pending(ctx, cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("read pending: %w", err)
	}

	batch := make([]*event.Event, 0, len(pending))
	for _, ev := range pending {
		if e.isParked(ev.ID) {
			continue
		}
		batch = append(batch, ev)
	}

	if len(batch) < cfg.BatchSize {
		failed, err := e.log.Failed(ctx, cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("read failed: %w", err)
		}
		now := e.now()
		for _, ev := range failed {
			if len(batch) >= cfg.BatchSize {
				break
			}
			if ev.RetryCount >= cfg.MaxRetryAttempts {
				continue
			}
			if !retryEligible(ev, cfg, now) {
				continue
			}
			if e.isParked(ev.ID) {
				continue
			}
			batch = append(batch, ev)
		}
		sort.Slice(batch, func(i, j int) bool {
			if batch[i].Timestamp != batch[j].Timestamp {
				return batch[i].Timestamp < batch[j].Timestamp
			}
			return batch[i].ID < batch[j].ID
		})
	}
	return batch, nil
}
