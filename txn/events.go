package txn

import (
	"context"

	"github.com/jacentio/strata/errs"
)

// Event names the two lifecycle events a Context can fire.
type Event string

const (
	// EventPostCommit fires once, after a successful commit.
	EventPostCommit Event = "POST_COMMIT"

	// EventTxFailed fires once, after retries are exhausted or a
	// non-retryable failure, carrying the wrapped TransactionFailed error.
	EventTxFailed Event = "TX_FAILED"
)

// EventHandler receives the event's associated error, nil for
// POST_COMMIT. Handlers must not mutate context state — spec.md §9
// explicitly disallows it, since the context backing them is already
// torn down by the time they run.
type EventHandler func(ctx context.Context, err error)

type handlerEntry struct {
	event Event
	name  string
	fn    EventHandler
}

// eventEmitter implements spec.md §9's "single-fire event emitter with
// async handlers": an ordered list of (name, handler) pairs, awaited
// sequentially — each handler runs in its own goroutine but the emitter
// blocks on it before starting the next, so ordering is preserved
// without needing a framework event bus (none appears anywhere in the
// retrieved corpus).
type eventEmitter struct {
	handlers []handlerEntry
}

func newEventEmitter() *eventEmitter { return &eventEmitter{} }

// add registers fn for event. Unknown event names raise InvalidParameter.
func (e *eventEmitter) add(event Event, fn EventHandler, name string) error {
	if event != EventPostCommit && event != EventTxFailed {
		return errs.New(errs.KindInvalidParameter, "unknown event %q", event)
	}
	e.handlers = append(e.handlers, handlerEntry{event: event, name: name, fn: fn})
	return nil
}

// emit runs every handler registered for event, in registration order,
// each awaited before the next begins.
func (e *eventEmitter) emit(ctx context.Context, event Event, err error) {
	for _, h := range e.handlers {
		if h.event != event {
			continue
		}
		done := make(chan struct{})
		go func(fn EventHandler) {
			defer close(done)
			fn(ctx, err)
		}(h.fn)
		<-done
	}
}
