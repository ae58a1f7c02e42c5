// Package memory provides an in-memory backend, suitable for tests and samples. It
// implements the same semantics as the durable backends: locking, optimistic
// concurrency, visibility of future events, and open-wait tracking.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/modflow/modflow/backend"
	"github.com/modflow/modflow/backend/history"
	"github.com/modflow/modflow/core"
)

const staleWaitRetention = time.Minute * 5

type Option func(*memoryBackend)

// WithClock overrides the clock, used by tests to control timer visibility.
func WithClock(c clock.Clock) Option {
	return func(mb *memoryBackend) {
		mb.clock = c
	}
}

func WithBackendOptions(opts ...backend.BackendOption) Option {
	return func(mb *memoryBackend) {
		mb.options = backend.ApplyOptions(opts...)
	}
}

type instanceState struct {
	instance *core.WorkflowInstance
	state    core.InstanceState

	history       []*history.Event
	pendingEvents []*history.Event

	// version is incremented on every mutation. Workflow tasks remember the version
	// at handout; completing against a changed version fails.
	version int64

	lockedUntil *time.Time

	openWait *openWait
}

type openWait struct {
	signal     string
	deadline   *time.Time
	resolvedAt *time.Time
}

type workflowTaskState struct {
	instanceID string
	version    int64
	events     []*history.Event
}

type taskState struct {
	task        *backend.Task
	lockedUntil *time.Time
}

type memoryBackend struct {
	mu    sync.Mutex
	close sync.Once

	instances map[string]*instanceState

	// task queue, in scheduling order
	tasks []*taskState

	// workflow tasks handed out and not yet completed
	workflowTasks map[string]*workflowTaskState

	// recently timed-out waits, so late signals can be rejected as stale rather
	// than unknown
	staleWaits *ttlcache.Cache[string, string]

	options backend.Options
	clock   clock.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
}

var _ backend.Backend = (*memoryBackend)(nil)

func NewBackend(opts ...Option) backend.Backend {
	mb := &memoryBackend{
		instances:     make(map[string]*instanceState),
		workflowTasks: make(map[string]*workflowTaskState),
		staleWaits: ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](staleWaitRetention),
		),
		options: backend.ApplyOptions(),
		clock:   clock.New(),
	}

	for _, opt := range opts {
		opt(mb)
	}

	mb.logger = mb.options.Logger
	mb.tracer = mb.options.TracerProvider.Tracer(backend.TracerName)

	go mb.staleWaits.Start()

	return mb
}

func (mb *memoryBackend) Options() *backend.Options {
	return &mb.options
}

func (mb *memoryBackend) Tracer() trace.Tracer {
	return mb.tracer
}

func (mb *memoryBackend) Close() error {
	mb.close.Do(mb.staleWaits.Stop)
	return nil
}

func (mb *memoryBackend) CreateWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance, event *history.Event) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, ok := mb.instances[instance.InstanceID]; ok {
		return backend.ErrInstanceAlreadyExists
	}

	mb.instances[instance.InstanceID] = &instanceState{
		instance:      instance,
		state:         core.InstanceStateRunning,
		pendingEvents: []*history.Event{event},
		version:       1,
	}

	return nil
}

func (mb *memoryBackend) CancelWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance, cancelEvent *history.Event) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	i, ok := mb.instances[instance.InstanceID]
	if !ok {
		return backend.ErrInstanceNotFound
	}

	if i.state.Finished() {
		return backend.ErrInstanceNotFound
	}

	i.pendingEvents = append(i.pendingEvents, cancelEvent)
	i.version++

	return nil
}

func (mb *memoryBackend) GetWorkflowInstanceState(ctx context.Context, instance *core.WorkflowInstance) (core.InstanceState, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	i, ok := mb.instances[instance.InstanceID]
	if !ok {
		return core.InstanceStateRunning, backend.ErrInstanceNotFound
	}

	return i.state, nil
}

func (mb *memoryBackend) GetWorkflowInstanceHistory(ctx context.Context, instance *core.WorkflowInstance, lastSequenceID *int64) ([]*history.Event, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	i, ok := mb.instances[instance.InstanceID]
	if !ok {
		return nil, backend.ErrInstanceNotFound
	}

	var h []*history.Event
	for _, event := range i.history {
		if lastSequenceID != nil && event.SequenceID <= *lastSequenceID {
			continue
		}

		h = append(h, event)
	}

	return h, nil
}

func (mb *memoryBackend) SignalWorkflow(ctx context.Context, instanceID string, event *history.Event) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	i, ok := mb.instances[instanceID]
	if !ok {
		return backend.ErrInstanceNotFound
	}

	a := event.Attributes.(*history.SignalReceivedAttributes)

	return mb.deliverSignal(i, a.Name, event)
}

func (mb *memoryBackend) BroadcastSignal(ctx context.Context, event *history.Event) (int, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	a := event.Attributes.(*history.SignalReceivedAttributes)

	delivered := 0
	for _, i := range mb.instances {
		// Every instance receives its own copy of the event
		e := *event
		e.ID = uuid.NewString()

		if err := mb.deliverSignal(i, a.Name, &e); err == nil {
			delivered++
		}
	}

	return delivered, nil
}

func (mb *memoryBackend) deliverSignal(i *instanceState, name string, event *history.Event) error {
	if i.state.Finished() || i.openWait == nil || i.openWait.signal != name || i.openWait.resolvedAt != nil {
		if item := mb.staleWaits.Get(i.instance.InstanceID); item != nil && item.Value() == name {
			return backend.ErrStaleSignal
		}

		return backend.ErrNoWaitingInstance
	}

	now := mb.clock.Now()
	if i.openWait.deadline != nil && now.After(i.openWait.deadline.Add(mb.options.SignalGraceWindow)) {
		return backend.ErrStaleSignal
	}

	resolved := now
	i.openWait.resolvedAt = &resolved
	i.pendingEvents = append(i.pendingEvents, event)
	i.version++

	return nil
}

func (mb *memoryBackend) GetWorkflowTask(ctx context.Context) (*backend.WorkflowTask, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	now := mb.clock.Now()

	for _, i := range mb.instances {
		if i.state.Finished() {
			continue
		}

		if i.lockedUntil != nil && i.lockedUntil.After(now) {
			continue
		}

		newEvents := visibleEvents(i.pendingEvents, now)
		if len(newEvents) == 0 {
			continue
		}

		lockedUntil := now.Add(mb.options.WorkflowLockTimeout)
		i.lockedUntil = &lockedUntil

		var lastSequenceID int64
		if len(i.history) > 0 {
			lastSequenceID = i.history[len(i.history)-1].SequenceID
		}

		t := &backend.WorkflowTask{
			ID:               uuid.NewString(),
			WorkflowInstance: i.instance,
			State:            i.state,
			LastSequenceID:   lastSequenceID,
			NewEvents:        newEvents,
		}

		mb.workflowTasks[t.ID] = &workflowTaskState{
			instanceID: i.instance.InstanceID,
			version:    i.version,
			events:     newEvents,
		}

		return t, nil
	}

	return nil, nil
}

// NextVisibleAt returns the earliest time a currently hidden pending event becomes
// visible, or nil if there is none. Used by the workflow tester to advance its
// simulated clock to the next timer.
func (mb *memoryBackend) NextVisibleAt() *time.Time {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	now := mb.clock.Now()

	var next *time.Time
	for _, i := range mb.instances {
		if i.state.Finished() {
			continue
		}

		for _, event := range i.pendingEvents {
			if event.VisibleAt == nil || !event.VisibleAt.After(now) {
				continue
			}

			if next == nil || event.VisibleAt.Before(*next) {
				next = event.VisibleAt
			}
		}
	}

	return next
}

// visibleEvents returns pending events that are visible at the given time, ordered
// by effective time with signals before timers on ties.
func visibleEvents(pending []*history.Event, now time.Time) []*history.Event {
	var visible []*history.Event
	for _, event := range pending {
		if event.VisibleAt != nil && event.VisibleAt.After(now) {
			continue
		}

		visible = append(visible, event)
	}

	sort.SliceStable(visible, func(a, b int) bool {
		ta, tb := effectiveTime(visible[a]), effectiveTime(visible[b])
		if ta.Equal(tb) {
			return eventRank(visible[a]) < eventRank(visible[b])
		}

		return ta.Before(tb)
	})

	return visible
}

func effectiveTime(event *history.Event) time.Time {
	if event.VisibleAt != nil {
		return *event.VisibleAt
	}

	return event.Timestamp
}

// eventRank orders signals ahead of timers that become visible at the same time, so
// a signal racing a timeout wins deterministically.
func eventRank(event *history.Event) int {
	switch event.Type {
	case history.EventType_SignalReceived:
		return 0
	case history.EventType_TimerFired:
		return 2
	default:
		return 1
	}
}

func (mb *memoryBackend) ExtendWorkflowTask(ctx context.Context, task *backend.WorkflowTask) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	ts, ok := mb.workflowTasks[task.ID]
	if !ok {
		return fmt.Errorf("workflow task %s not found", task.ID)
	}

	i := mb.instances[ts.instanceID]
	lockedUntil := mb.clock.Now().Add(mb.options.WorkflowLockTimeout)
	i.lockedUntil = &lockedUntil

	return nil
}

func (mb *memoryBackend) CompleteWorkflowTask(
	ctx context.Context, task *backend.WorkflowTask, state core.InstanceState,
	executedEvents, taskEvents, timerEvents []*history.Event, newOpenWait *core.OpenWait,
) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	ts, ok := mb.workflowTasks[task.ID]
	if !ok {
		return fmt.Errorf("workflow task %s not found", task.ID)
	}

	delete(mb.workflowTasks, task.ID)

	i, ok := mb.instances[ts.instanceID]
	if !ok {
		return backend.ErrInstanceNotFound
	}

	i.lockedUntil = nil

	// Reject completions based on stale state. A signal that arrived while this task
	// executed bumps the version; the task is redelivered including that signal.
	if i.version != ts.version {
		return backend.ErrConcurrentModification
	}

	// Remove the delivered events from the pending set
	delivered := make(map[string]bool, len(ts.events))
	for _, event := range ts.events {
		delivered[event.ID] = true
	}

	var remaining []*history.Event
	for _, event := range i.pendingEvents {
		if !delivered[event.ID] {
			remaining = append(remaining, event)
		}
	}
	i.pendingEvents = remaining

	i.history = append(i.history, executedEvents...)

	// Canceled timers remove their pending fired event
	for _, event := range executedEvents {
		if event.Type == history.EventType_TimerCanceled {
			mb.removePendingTimer(i, event.ScheduleEventID)
		}
	}

	for _, event := range timerEvents {
		i.pendingEvents = append(i.pendingEvents, event)
	}

	for _, event := range taskEvents {
		mb.tasks = append(mb.tasks, &taskState{
			task: &backend.Task{
				ID:               event.ID,
				WorkflowInstance: i.instance,
				Event:            event,
			},
		})
	}

	// A wait that resolved without a signal timed out; remember it so late signals
	// are rejected as stale.
	if i.openWait != nil && newOpenWait == nil && i.openWait.resolvedAt == nil {
		mb.staleWaits.Set(i.instance.InstanceID, i.openWait.signal, ttlcache.DefaultTTL)
	}

	if newOpenWait != nil {
		i.openWait = &openWait{
			signal:   newOpenWait.Signal,
			deadline: newOpenWait.Deadline,
		}
	} else {
		i.openWait = nil
	}

	i.state = state
	i.version++

	return nil
}

func (mb *memoryBackend) removePendingTimer(i *instanceState, scheduleEventID int64) {
	for idx, event := range i.pendingEvents {
		if event.Type == history.EventType_TimerFired && event.ScheduleEventID == scheduleEventID {
			i.pendingEvents = append(i.pendingEvents[:idx], i.pendingEvents[idx+1:]...)
			return
		}
	}
}

func (mb *memoryBackend) GetTask(ctx context.Context) (*backend.Task, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	now := mb.clock.Now()

	for _, ts := range mb.tasks {
		if ts.lockedUntil != nil && ts.lockedUntil.After(now) {
			continue
		}

		lockedUntil := now.Add(mb.options.TaskLockTimeout)
		ts.lockedUntil = &lockedUntil

		return ts.task, nil
	}

	return nil, nil
}

func (mb *memoryBackend) ExtendTask(ctx context.Context, task *backend.Task) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	for _, ts := range mb.tasks {
		if ts.task.ID == task.ID {
			lockedUntil := mb.clock.Now().Add(mb.options.TaskLockTimeout)
			ts.lockedUntil = &lockedUntil
			return nil
		}
	}

	return fmt.Errorf("task %s not found", task.ID)
}

func (mb *memoryBackend) CompleteTask(ctx context.Context, task *backend.Task, result *history.Event) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	found := false
	for idx, ts := range mb.tasks {
		if ts.task.ID == task.ID {
			mb.tasks = append(mb.tasks[:idx], mb.tasks[idx+1:]...)
			found = true
			break
		}
	}

	if !found {
		return fmt.Errorf("task %s not found", task.ID)
	}

	i, ok := mb.instances[task.WorkflowInstance.InstanceID]
	if !ok {
		return backend.ErrInstanceNotFound
	}

	i.pendingEvents = append(i.pendingEvents, result)
	i.version++

	return nil
}
