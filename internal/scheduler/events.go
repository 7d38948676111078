package scheduler

import (
	"sync"
	"time"
)

// EventType names one member of spec.md §6's typed event stream.
type EventType string

const (
	EventExecutionStart        EventType = "execution:start"
	EventExecutionComplete     EventType = "execution:complete"
	EventExecutionStopping     EventType = "execution:stopping"
	EventExecutionStopped      EventType = "execution:stopped"
	EventExecutionPaused       EventType = "execution:paused"
	EventExecutionResumed      EventType = "execution:resumed"
	EventExecutionGlobalTimeout EventType = "execution:global-timeout"
	EventExecutionStatistics   EventType = "execution:statistics"
	EventExecutionError        EventType = "execution:error"

	EventTaskStart                EventType = "task:start"
	EventTaskOutput               EventType = "task:output"
	EventTaskComplete             EventType = "task:complete"
	EventTaskError                EventType = "task:error"
	EventTaskRetry                EventType = "task:retry"
	EventTaskTimeout              EventType = "task:timeout"
	EventTaskKilled               EventType = "task:killed"
	EventTaskFailedPermanently    EventType = "task:failed-permanently"
	EventTaskTerminated           EventType = "task:terminated"
	EventTaskResourceCheck        EventType = "task:resource-check"
	EventTaskMonitorWarning       EventType = "task:monitor-warning"
	EventTaskPmResolutionWarning  EventType = "task:pm-resolution-warning"
	EventTaskDependenciesSatisfied EventType = "task:dependencies-satisfied"
)

// Event is one item in the typed stream consumed by presenter/tests.
type Event struct {
	Type      EventType
	Timestamp time.Time
	TaskID    string // empty for execution-scoped events
	Payload   any
}

// subscriberBufferSize bounds each subscriber's channel; once full, the
// oldest buffered event is dropped to make room rather than blocking the
// scheduler (spec.md §5 "slow subscribers must not stall the scheduler").
const subscriberBufferSize = 256

// EventBus fans out Events to subscribers without ever blocking the
// publisher on a slow consumer.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns its channel and an
// unsubscribe function.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBufferSize)
	b.subscribers[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(c)
		}
	}
}

// Publish delivers event to every subscriber, dropping the oldest buffered
// event for any subscriber whose channel is full (drop-oldest policy,
// documented at construction per spec.md §5).
func (b *EventBus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// Close unsubscribes and closes every remaining subscriber channel.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
