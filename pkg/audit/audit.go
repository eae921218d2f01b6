package audit

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rocoloco/Mobius1-sub000/pkg/events"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
)

// Store is the slice of the persistence layer the recorder writes
// through. Satisfied by storage.Store.
type Store interface {
	AppendAuditEvent(event *events.Event) error
	ListAuditEvents(since time.Time, limit int) ([]*events.Event, error)
}

// Recorder subscribes to the event bus and appends every event to the
// store, building the durable audit trail. Events arrive already
// redacted; the broker scrubs secrets at publish time, so nothing
// sensitive reaches disk.
type Recorder struct {
	store  Store
	broker *events.Broker
	logger zerolog.Logger

	sub    events.Subscriber
	stopCh chan struct{}
	done   chan struct{}
}

// NewRecorder builds a stopped recorder.
func NewRecorder(store Store, broker *events.Broker) *Recorder {
	return &Recorder{
		store:  store,
		broker: broker,
		logger: log.WithComponent("audit"),
	}
}

// Start subscribes and begins draining events to the store.
func (r *Recorder) Start() {
	r.sub = r.broker.Subscribe()
	r.stopCh = make(chan struct{})
	r.done = make(chan struct{})

	go r.run()
	r.logger.Debug().Msg("audit recorder started")
}

// Stop drains nothing further. Events still buffered on the
// subscription when Stop is called are written before it returns.
func (r *Recorder) Stop() {
	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	<-r.done
	r.broker.Unsubscribe(r.sub)
	r.stopCh = nil
}

func (r *Recorder) run() {
	defer close(r.done)

	for {
		select {
		case <-r.stopCh:
			r.flush()
			return
		case event := <-r.sub:
			r.append(event)
		}
	}
}

// flush writes whatever is still queued on the subscription.
func (r *Recorder) flush() {
	for {
		select {
		case event := <-r.sub:
			r.append(event)
		default:
			return
		}
	}
}

func (r *Recorder) append(event *events.Event) {
	if event == nil {
		return
	}
	if err := r.store.AppendAuditEvent(event); err != nil {
		// A full disk must not take down the control plane. The event is
		// lost from the trail, not from live subscribers.
		r.logger.Warn().
			Str("event_type", string(event.Type)).
			Str("event_id", event.ID).
			Str("error", err.Error()).
			Msg("failed to append audit event")
	}
}

// Query returns trail events at or after since, oldest first, capped
// at limit when it is positive.
func (r *Recorder) Query(since time.Time, limit int) ([]*events.Event, error) {
	entries, err := r.store.ListAuditEvents(since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}
	return entries, nil
}
