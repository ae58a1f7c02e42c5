// Package sqlitestore provides a durable backend on top of SQLite. Instances,
// history, pending events, and queued tasks are persisted, so workflows survive
// process restarts. Pending timer events keep their visibility time in the database;
// after a restart they fire without any re-arming.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/modflow/modflow/backend"
	"github.com/modflow/modflow/backend/history"
	"github.com/modflow/modflow/core"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

type Option func(*sqliteBackend)

// WithClock overrides the clock, used by tests to control timer visibility.
func WithClock(c clock.Clock) Option {
	return func(sb *sqliteBackend) {
		sb.clock = c
	}
}

func WithBackendOptions(opts ...backend.BackendOption) Option {
	return func(sb *sqliteBackend) {
		sb.options = backend.ApplyOptions(opts...)
	}
}

// NewInMemoryBackend creates a backend backed by an in-memory SQLite database.
func NewInMemoryBackend(opts ...Option) backend.Backend {
	// Unique name per backend, multiple in-memory backends stay isolated
	dsn := fmt.Sprintf("file:%v?mode=memory&cache=shared", uuid.NewString())
	sb := newSqliteBackend(dsn, opts...)

	sb.db.SetMaxOpenConns(1)

	return sb
}

// NewSqliteBackend creates a backend backed by a SQLite database at the given path.
func NewSqliteBackend(path string, opts ...Option) backend.Backend {
	return newSqliteBackend(fmt.Sprintf("file:%v?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", path), opts...)
}

func newSqliteBackend(dsn string, opts ...Option) *sqliteBackend {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		panic(err)
	}

	sb := &sqliteBackend{
		db:         db,
		workerName: fmt.Sprintf("worker-%v", uuid.NewString()),
		options:    backend.ApplyOptions(),
		clock:      clock.New(),
	}

	for _, opt := range opts {
		opt(sb)
	}

	sb.logger = sb.options.Logger
	sb.tracer = sb.options.TracerProvider.Tracer(backend.TracerName)

	if err := sb.Migrate(); err != nil {
		panic(err)
	}

	return sb
}

type sqliteBackend struct {
	db         *sql.DB
	workerName string
	options    backend.Options
	clock      clock.Clock
	logger     *slog.Logger
	tracer     trace.Tracer
}

var _ backend.Backend = (*sqliteBackend)(nil)

// Migrate applies any pending database migrations.
func (sb *sqliteBackend) Migrate() error {
	dbi, err := migratesqlite.WithInstance(sb.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "sqlite", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	return nil
}

func (sb *sqliteBackend) Options() *backend.Options {
	return &sb.options
}

func (sb *sqliteBackend) Tracer() trace.Tracer {
	return sb.tracer
}

func (sb *sqliteBackend) Close() error {
	return sb.db.Close()
}

func (sb *sqliteBackend) CreateWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance, event *history.Event) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(
		ctx,
		"INSERT OR IGNORE INTO instances (id, execution_id, state, version, created_at) VALUES (?, ?, ?, 1, ?)",
		instance.InstanceID,
		instance.ExecutionID,
		core.InstanceStateRunning,
		sb.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("inserting workflow instance: %w", err)
	}

	if rows, err := res.RowsAffected(); err != nil {
		return err
	} else if rows != 1 {
		return backend.ErrInstanceAlreadyExists
	}

	if err := insertPendingEvents(ctx, tx, instance.InstanceID, []*history.Event{event}); err != nil {
		return fmt.Errorf("inserting start event: %w", err)
	}

	return tx.Commit()
}

func (sb *sqliteBackend) CancelWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance, cancelEvent *history.Event) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var state core.InstanceState
	row := tx.QueryRowContext(ctx, "SELECT state FROM instances WHERE id = ? LIMIT 1", instance.InstanceID)
	if err := row.Scan(&state); err != nil {
		if err == sql.ErrNoRows {
			return backend.ErrInstanceNotFound
		}

		return err
	}

	if state.Finished() {
		return backend.ErrInstanceNotFound
	}

	if err := insertPendingEvents(ctx, tx, instance.InstanceID, []*history.Event{cancelEvent}); err != nil {
		return fmt.Errorf("inserting cancellation event: %w", err)
	}

	if err := sb.bumpVersion(ctx, tx, instance.InstanceID); err != nil {
		return err
	}

	return tx.Commit()
}

func (sb *sqliteBackend) GetWorkflowInstanceState(ctx context.Context, instance *core.WorkflowInstance) (core.InstanceState, error) {
	row := sb.db.QueryRowContext(
		ctx,
		"SELECT state FROM instances WHERE id = ?",
		instance.InstanceID,
	)

	var state core.InstanceState
	if err := row.Scan(&state); err != nil {
		if err == sql.ErrNoRows {
			return core.InstanceStateRunning, backend.ErrInstanceNotFound
		}

		return core.InstanceStateRunning, err
	}

	return state, nil
}

func (sb *sqliteBackend) GetWorkflowInstanceHistory(ctx context.Context, instance *core.WorkflowInstance, lastSequenceID *int64) ([]*history.Event, error) {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	h, err := getHistory(ctx, tx, instance.InstanceID, lastSequenceID)
	if err != nil {
		return nil, err
	}

	return h, tx.Commit()
}

type instanceWait struct {
	signal     sql.NullString
	deadline   sql.NullTime
	resolvedAt sql.NullTime
}

func (sb *sqliteBackend) SignalWorkflow(ctx context.Context, instanceID string, event *history.Event) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	a := event.Attributes.(*history.SignalReceivedAttributes)

	var state core.InstanceState
	var w instanceWait
	row := tx.QueryRowContext(
		ctx,
		"SELECT state, wait_signal, wait_deadline, wait_resolved_at FROM instances WHERE id = ? LIMIT 1",
		instanceID,
	)
	if err := row.Scan(&state, &w.signal, &w.deadline, &w.resolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return backend.ErrInstanceNotFound
		}

		return err
	}

	if err := sb.checkWait(state, &w, a.Name); err != nil {
		return err
	}

	if err := sb.acceptSignal(ctx, tx, instanceID, event); err != nil {
		return err
	}

	return tx.Commit()
}

// checkWait decides whether a signal for the given name can be accepted.
func (sb *sqliteBackend) checkWait(state core.InstanceState, w *instanceWait, name string) error {
	if state.Finished() || !w.signal.Valid || w.signal.String != name {
		return backend.ErrNoWaitingInstance
	}

	now := sb.clock.Now()

	if w.resolvedAt.Valid {
		// The wait already resolved. If it resolved at or past its deadline the
		// timeout won, the signal is late. Otherwise an earlier signal was consumed.
		if w.deadline.Valid && !w.resolvedAt.Time.Before(w.deadline.Time) {
			return backend.ErrStaleSignal
		}

		return backend.ErrNoWaitingInstance
	}

	if w.deadline.Valid && now.After(w.deadline.Time.Add(sb.options.SignalGraceWindow)) {
		return backend.ErrStaleSignal
	}

	return nil
}

func (sb *sqliteBackend) acceptSignal(ctx context.Context, tx *sql.Tx, instanceID string, event *history.Event) error {
	if err := insertPendingEvents(ctx, tx, instanceID, []*history.Event{event}); err != nil {
		return fmt.Errorf("inserting signal event: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		"UPDATE instances SET wait_resolved_at = ?, version = version + 1 WHERE id = ?",
		sb.clock.Now(),
		instanceID,
	); err != nil {
		return fmt.Errorf("resolving wait: %w", err)
	}

	return nil
}

func (sb *sqliteBackend) BroadcastSignal(ctx context.Context, event *history.Event) (int, error) {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	a := event.Attributes.(*history.SignalReceivedAttributes)
	now := sb.clock.Now()

	rows, err := tx.QueryContext(
		ctx,
		`SELECT id FROM instances
			WHERE wait_signal = ? AND wait_resolved_at IS NULL AND completed_at IS NULL
				AND (wait_deadline IS NULL OR wait_deadline >= ?)`,
		a.Name,
		now.Add(-sb.options.SignalGraceWindow),
	)
	if err != nil {
		return 0, fmt.Errorf("finding waiting instances: %w", err)
	}

	var instanceIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		instanceIDs = append(instanceIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, instanceID := range instanceIDs {
		// Every instance receives its own copy of the event
		e := *event
		e.ID = uuid.NewString()

		if err := sb.acceptSignal(ctx, tx, instanceID, &e); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return len(instanceIDs), nil
}

func (sb *sqliteBackend) GetWorkflowTask(ctx context.Context) (*backend.WorkflowTask, error) {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Lock the next instance with visible pending events. The sub-query works around
	// the missing LIMIT support for UPDATE statements.
	now := sb.clock.Now()
	row := tx.QueryRowContext(
		ctx,
		`UPDATE instances
			SET locked_until = ?, worker = ?
			WHERE rowid = (
				SELECT rowid FROM instances i
					WHERE
						(locked_until IS NULL OR locked_until < ?)
						AND completed_at IS NULL
						AND EXISTS (
							SELECT 1
								FROM pending_events
								WHERE instance_id = i.id AND (visible_at IS NULL OR visible_at <= ?)
						)
					LIMIT 1
			) RETURNING id, execution_id, state, version`,
		now.Add(sb.options.WorkflowLockTimeout),
		sb.workerName,
		now,
		now,
	)

	var instanceID, executionID string
	var state core.InstanceState
	var version int64
	if err := row.Scan(&instanceID, &executionID, &state, &version); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, fmt.Errorf("locking workflow task: %w", err)
	}

	pendingEvents, err := getPendingEvents(ctx, tx, instanceID, now)
	if err != nil {
		return nil, err
	}

	if len(pendingEvents) == 0 {
		return nil, nil
	}

	t := &backend.WorkflowTask{
		ID:               uuid.NewString(),
		WorkflowInstance: core.NewWorkflowInstance(instanceID, executionID),
		State:            state,
		NewEvents:        pendingEvents,
		CustomData:       version,
	}

	row = tx.QueryRowContext(ctx, "SELECT sequence_id FROM history WHERE instance_id = ? ORDER BY rowid DESC LIMIT 1", instanceID)
	if err := row.Scan(&t.LastSequenceID); err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("getting most recent sequence id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return t, nil
}

func (sb *sqliteBackend) ExtendWorkflowTask(ctx context.Context, task *backend.WorkflowTask) error {
	res, err := sb.db.ExecContext(
		ctx,
		"UPDATE instances SET locked_until = ? WHERE id = ? AND worker = ?",
		sb.clock.Now().Add(sb.options.WorkflowLockTimeout),
		task.WorkflowInstance.InstanceID,
		sb.workerName,
	)
	if err != nil {
		return fmt.Errorf("extending workflow task lock: %w", err)
	}

	if rows, err := res.RowsAffected(); err != nil {
		return err
	} else if rows == 0 {
		return errors.New("could not extend workflow task lock")
	}

	return nil
}

func (sb *sqliteBackend) CompleteWorkflowTask(
	ctx context.Context, task *backend.WorkflowTask, state core.InstanceState,
	executedEvents, taskEvents, timerEvents []*history.Event, openWait *core.OpenWait,
) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	instanceID := task.WorkflowInstance.InstanceID
	now := sb.clock.Now()

	var completedAt *time.Time
	if state.Finished() {
		completedAt = &now
	}

	// Read the current wait so resolved waits stay around for stale-signal detection
	var w instanceWait
	row := tx.QueryRowContext(ctx, "SELECT wait_signal, wait_deadline, wait_resolved_at FROM instances WHERE id = ?", instanceID)
	if err := row.Scan(&w.signal, &w.deadline, &w.resolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return backend.ErrInstanceNotFound
		}

		return err
	}

	newWait := w
	if openWait != nil {
		newWait.signal = sql.NullString{String: openWait.Signal, Valid: true}
		newWait.deadline = sql.NullTime{}
		if openWait.Deadline != nil {
			newWait.deadline = sql.NullTime{Time: *openWait.Deadline, Valid: true}
		}
		newWait.resolvedAt = sql.NullTime{}
	} else if w.signal.Valid && !w.resolvedAt.Valid {
		// The open wait resolved during this task without a signal: the timeout won.
		newWait.resolvedAt = sql.NullTime{Time: now, Valid: true}
	}

	// Completing against a stale version fails; a signal that arrived while this
	// task executed bumped the version, and the task is redelivered including it.
	res, err := tx.ExecContext(
		ctx,
		`UPDATE instances
			SET locked_until = NULL, worker = NULL, state = ?, completed_at = ?,
				wait_signal = ?, wait_deadline = ?, wait_resolved_at = ?,
				version = version + 1
			WHERE id = ? AND worker = ? AND version = ?`,
		state,
		completedAt,
		newWait.signal,
		newWait.deadline,
		newWait.resolvedAt,
		instanceID,
		sb.workerName,
		task.CustomData.(int64),
	)
	if err != nil {
		return fmt.Errorf("unlocking workflow instance: %w", err)
	}

	if rows, err := res.RowsAffected(); err != nil {
		return err
	} else if rows != 1 {
		tx.Rollback()

		// Give up the lock so the task is redelivered right away, including the
		// events that invalidated this completion
		if _, err := sb.db.ExecContext(
			ctx,
			"UPDATE instances SET locked_until = NULL, worker = NULL WHERE id = ? AND worker = ?",
			instanceID,
			sb.workerName,
		); err != nil {
			return fmt.Errorf("unlocking workflow instance: %w", err)
		}

		return backend.ErrConcurrentModification
	}

	if err := removeDeliveredEvents(ctx, tx, instanceID, task.NewEvents); err != nil {
		return fmt.Errorf("removing delivered events: %w", err)
	}

	if err := insertHistoryEvents(ctx, tx, instanceID, executedEvents); err != nil {
		return fmt.Errorf("inserting history events: %w", err)
	}

	// Canceled timers remove their pending fired event
	for _, event := range executedEvents {
		if event.Type == history.EventType_TimerCanceled {
			if err := removeFutureEvent(ctx, tx, instanceID, event.ScheduleEventID); err != nil {
				return fmt.Errorf("removing future timer event: %w", err)
			}
		}
	}

	if err := insertPendingEvents(ctx, tx, instanceID, timerEvents); err != nil {
		return fmt.Errorf("%w: %v", backend.ErrTimerScheduling, err)
	}

	for _, event := range taskEvents {
		if err := scheduleTask(ctx, tx, task.WorkflowInstance, event); err != nil {
			return fmt.Errorf("scheduling task: %w", err)
		}
	}

	return tx.Commit()
}

func (sb *sqliteBackend) bumpVersion(ctx context.Context, tx *sql.Tx, instanceID string) error {
	_, err := tx.ExecContext(ctx, "UPDATE instances SET version = version + 1 WHERE id = ?", instanceID)
	return err
}

func scheduleTask(ctx context.Context, tx *sql.Tx, instance *core.WorkflowInstance, event *history.Event) error {
	a, err := history.SerializeAttributes(event.Attributes)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(
		ctx,
		"INSERT INTO tasks (id, instance_id, execution_id, event_type, timestamp, schedule_event_id, attributes) VALUES (?, ?, ?, ?, ?, ?, ?)",
		event.ID,
		instance.InstanceID,
		instance.ExecutionID,
		event.Type,
		event.Timestamp,
		event.ScheduleEventID,
		string(a),
	)

	return err
}

func (sb *sqliteBackend) GetTask(ctx context.Context) (*backend.Task, error) {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := sb.clock.Now()
	row := tx.QueryRowContext(
		ctx,
		`UPDATE tasks
			SET locked_until = ?, worker = ?
			WHERE rowid = (
				SELECT rowid FROM tasks
					WHERE locked_until IS NULL OR locked_until < ?
					LIMIT 1
			) RETURNING id, instance_id, execution_id, event_type, timestamp, schedule_event_id, attributes`,
		now.Add(sb.options.TaskLockTimeout),
		sb.workerName,
		now,
	)

	var id, instanceID, executionID string
	var attributes []byte
	event := &history.Event{}

	if err := row.Scan(&id, &instanceID, &executionID, &event.Type, &event.Timestamp, &event.ScheduleEventID, &attributes); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, fmt.Errorf("locking task: %w", err)
	}

	event.ID = id

	a, err := history.DeserializeAttributes(event.Type, attributes)
	if err != nil {
		return nil, fmt.Errorf("deserializing task attributes: %w", err)
	}
	event.Attributes = a

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &backend.Task{
		ID:               id,
		WorkflowInstance: core.NewWorkflowInstance(instanceID, executionID),
		Event:            event,
	}, nil
}

func (sb *sqliteBackend) ExtendTask(ctx context.Context, task *backend.Task) error {
	res, err := sb.db.ExecContext(
		ctx,
		"UPDATE tasks SET locked_until = ? WHERE id = ? AND worker = ?",
		sb.clock.Now().Add(sb.options.TaskLockTimeout),
		task.ID,
		sb.workerName,
	)
	if err != nil {
		return fmt.Errorf("extending task lock: %w", err)
	}

	if rows, err := res.RowsAffected(); err != nil {
		return err
	} else if rows == 0 {
		return errors.New("could not extend task lock")
	}

	return nil
}

func (sb *sqliteBackend) CompleteTask(ctx context.Context, task *backend.Task, result *history.Event) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(
		ctx,
		"DELETE FROM tasks WHERE id = ? AND worker = ?",
		task.ID,
		sb.workerName,
	)
	if err != nil {
		return fmt.Errorf("completing task: %w", err)
	}

	if rows, err := res.RowsAffected(); err != nil {
		return err
	} else if rows == 0 {
		return errors.New("could not find task to complete")
	}

	if err := insertPendingEvents(ctx, tx, task.WorkflowInstance.InstanceID, []*history.Event{result}); err != nil {
		return fmt.Errorf("inserting result event: %w", err)
	}

	if err := sb.bumpVersion(ctx, tx, task.WorkflowInstance.InstanceID); err != nil {
		return err
	}

	return tx.Commit()
}
