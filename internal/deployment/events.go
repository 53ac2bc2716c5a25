package deployment

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// EventType enumerates structured engine events.
//
// These values are persisted by the state store and rendered by the console
// printer.
type EventType string

const (
	RunStarted   EventType = "RUN_STARTED"
	RunCompleted EventType = "RUN_COMPLETED"

	TaskQueued    EventType = "TASK_QUEUED"
	TaskRunning   EventType = "TASK_RUNNING"
	TaskWaiting   EventType = "TASK_WAITING"
	TaskSucceeded EventType = "TASK_SUCCEEDED"
	TaskFailed    EventType = "TASK_FAILED"
)

type Phase string

const (
	PhaseDeploy   Phase = "deploy"
	PhaseUndeploy Phase = "undeploy"
)

type Event struct {
	Seq      int64         `json:"seq"`
	TS       string        `json:"ts"`
	RunID    string        `json:"runId"`
	Phase    Phase         `json:"phase"`
	Type     EventType     `json:"type"`
	Name     string        `json:"name,omitempty"`
	TypeName string        `json:"typeName,omitempty"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"durationNs,omitempty"`
}

// EventObserver receives engine events in Seq order, one call at a time per
// invocation. Observers must not block for long or emit events themselves.
type EventObserver interface {
	ObserveEvent(Event)
}

type EventObserverFunc func(Event)

func (f EventObserverFunc) ObserveEvent(ev Event) {
	if f == nil {
		return
	}
	f(ev)
}

type emitter struct {
	runID     string
	phase     Phase
	now       func() time.Time
	log       logr.Logger
	observers []EventObserver

	mu  sync.Mutex
	seq int64
}

// emit stamps ev and hands it to every observer. The lock is held through
// dispatch so observers see events in Seq order.
func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	ev.Seq = e.seq
	ev.TS = e.now().UTC().Format(time.RFC3339Nano)
	ev.RunID = e.runID
	ev.Phase = e.phase

	for _, obs := range e.observers {
		if obs == nil {
			continue
		}
		obs.ObserveEvent(ev)
	}
}

func (e *emitter) taskSettled(name, typeName string, started time.Time, err error) {
	d := e.now().Sub(started)
	if err != nil {
		e.log.Error(err, "task failed", "phase", e.phase, "name", name, "type", typeName, "duration", d)
		e.emit(Event{Type: TaskFailed, Name: name, TypeName: typeName, Error: err.Error(), Duration: d})
		return
	}
	e.log.V(1).Info("task succeeded", "phase", e.phase, "name", name, "type", typeName, "duration", d)
	e.emit(Event{Type: TaskSucceeded, Name: name, TypeName: typeName, Duration: d})
}
