package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/modflow/modflow/backend/history"
)

func insertPendingEvents(ctx context.Context, tx *sql.Tx, instanceID string, newEvents []*history.Event) error {
	return insertEvents(ctx, tx, "pending_events", instanceID, newEvents)
}

func insertHistoryEvents(ctx context.Context, tx *sql.Tx, instanceID string, historyEvents []*history.Event) error {
	return insertEvents(ctx, tx, "history", instanceID, historyEvents)
}

func insertEvents(ctx context.Context, tx *sql.Tx, tableName string, instanceID string, events []*history.Event) error {
	for _, event := range events {
		a, err := history.SerializeAttributes(event.Attributes)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO "+tableName+" (id, sequence_id, instance_id, event_type, timestamp, schedule_event_id, attributes, visible_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			event.ID,
			event.SequenceID,
			instanceID,
			event.Type,
			event.Timestamp,
			event.ScheduleEventID,
			string(a),
			event.VisibleAt,
		)
		if err != nil {
			return fmt.Errorf("inserting event into %s: %w", tableName, err)
		}
	}

	return nil
}

func removeDeliveredEvents(ctx context.Context, tx *sql.Tx, instanceID string, events []*history.Event) error {
	if len(events) == 0 {
		return nil
	}

	args := make([]any, 0, len(events)+1)
	args = append(args, instanceID)
	for _, event := range events {
		args = append(args, event.ID)
	}

	_, err := tx.ExecContext(
		ctx,
		fmt.Sprintf("DELETE FROM pending_events WHERE instance_id = ? AND id IN (?%s)", strings.Repeat(",?", len(events)-1)),
		args...,
	)

	return err
}

// removeFutureEvent deletes a not-yet-visible event, used when a timer is canceled.
func removeFutureEvent(ctx context.Context, tx *sql.Tx, instanceID string, scheduleEventID int64) error {
	_, err := tx.ExecContext(
		ctx,
		"DELETE FROM pending_events WHERE instance_id = ? AND schedule_event_id = ? AND visible_at IS NOT NULL",
		instanceID,
		scheduleEventID,
	)

	return err
}

// getPendingEvents returns the instance's visible pending events, ordered by
// effective time with signals before timers on ties.
func getPendingEvents(ctx context.Context, tx *sql.Tx, instanceID string, now time.Time) ([]*history.Event, error) {
	rows, err := tx.QueryContext(
		ctx,
		`SELECT id, sequence_id, event_type, timestamp, schedule_event_id, attributes, visible_at
			FROM pending_events
			WHERE instance_id = ? AND (visible_at IS NULL OR visible_at <= ?)
			ORDER BY
				COALESCE(visible_at, timestamp),
				CASE event_type WHEN ? THEN 0 WHEN ? THEN 2 ELSE 1 END,
				rowid`,
		instanceID,
		now,
		history.EventType_SignalReceived,
		history.EventType_TimerFired,
	)
	if err != nil {
		return nil, fmt.Errorf("getting pending events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func getHistory(ctx context.Context, tx *sql.Tx, instanceID string, lastSequenceID *int64) ([]*history.Event, error) {
	var rows *sql.Rows
	var err error
	if lastSequenceID != nil {
		rows, err = tx.QueryContext(
			ctx,
			"SELECT id, sequence_id, event_type, timestamp, schedule_event_id, attributes, visible_at FROM history WHERE instance_id = ? AND sequence_id > ? ORDER BY sequence_id",
			instanceID,
			*lastSequenceID,
		)
	} else {
		rows, err = tx.QueryContext(
			ctx,
			"SELECT id, sequence_id, event_type, timestamp, schedule_event_id, attributes, visible_at FROM history WHERE instance_id = ? ORDER BY sequence_id",
			instanceID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("getting history: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*history.Event, error) {
	var events []*history.Event

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*history.Event, error) {
	var attributes []byte
	event := &history.Event{}

	if err := row.Scan(
		&event.ID, &event.SequenceID, &event.Type, &event.Timestamp, &event.ScheduleEventID, &attributes, &event.VisibleAt,
	); err != nil {
		return nil, fmt.Errorf("scanning event: %w", err)
	}

	a, err := history.DeserializeAttributes(event.Type, attributes)
	if err != nil {
		return nil, fmt.Errorf("deserializing attributes: %w", err)
	}
	event.Attributes = a

	return event, nil
}
