package client

import (
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/dGrid/lib/protocol"
	"github.com/ValentinKolb/dGrid/lib/scheduler"
	"github.com/ValentinKolb/dGrid/lib/telemetry"
	"github.com/ValentinKolb/dGrid/rpc/codec"
	"github.com/ValentinKolb/dGrid/rpc/transport/base"
)

var eventsDropped = telemetry.Counter("dgrid_client_events_dropped_total")

// EntryListener receives the entry events of a map
type EntryListener interface {
	OnEntryEvent(ev codec.EntryEvent) error
}

// EntryListenerFunc adapts a function to EntryListener
type EntryListenerFunc func(ev codec.EntryEvent) error

func (f EntryListenerFunc) OnEntryEvent(ev codec.EntryEvent) error { return f(ev) }

// listenerTarget is what a registration delivers to, exactly one of entry
// and nearCache is set
type listenerTarget struct {
	mapName   string
	entry     EntryListener
	nearCache *nearCache
}

// registration is one listener registered on a member. Events for it carry
// the correlation id of the registering request.
type registration struct {
	listenerTarget
	id            atomic.Pointer[string]
	correlationID int64
	conn          *base.Connection
	sub           *scheduler.Subscription
}

// ID returns the id the member assigned, empty while the registration is pending
func (r *registration) ID() string {
	if id := r.id.Load(); id != nil {
		return *id
	}
	return ""
}

// EventHandler decodes one event type and delivers it to its registration
type EventHandler func(reg *registration, msg *protocol.Message) error

// EventHandlers is the dispatch table for push events. Events of any other
// type are logged and dropped.
var EventHandlers = map[codec.MessageType]EventHandler{
	codec.MsgTEntryEvent:        handleEntryEvent,
	codec.MsgTInvalidationEvent: handleInvalidationEvent,
}

// handleEvent runs on the reader goroutine of a connection. It only looks up
// the registration, the listener runs on the scheduler.
func (c *Client) handleEvent(msg *protocol.Message) {
	t := codec.TypeOf(msg)
	if _, ok := EventHandlers[t]; !ok {
		eventsDropped.Inc()
		Logger.Warningf("dropped event of unknown type %s", t)
		return
	}

	reg, ok := c.registrations.Load(msg.CorrelationID())
	if !ok {
		eventsDropped.Inc()
		Logger.Debugf("dropped %s for unknown registration %d", t, msg.CorrelationID())
		return
	}

	if !c.scheduler.Add(reg.sub, msg) {
		eventsDropped.Inc()
	}
}

// newSubscription creates the scheduler subscription of reg
func newSubscription(reg *registration) *scheduler.Subscription {
	return scheduler.NewSubscription(func(msg *protocol.Message) error {
		h, ok := EventHandlers[codec.TypeOf(msg)]
		if !ok {
			return fmt.Errorf("no handler for %s", codec.TypeOf(msg))
		}
		return h(reg, msg)
	})
}

func handleEntryEvent(reg *registration, msg *protocol.Message) error {
	if reg.entry == nil {
		return fmt.Errorf("registration %d does not take entry events", reg.correlationID)
	}
	ev, err := codec.DecodeEntryEvent(msg)
	if err != nil {
		return fmt.Errorf("failed to decode entry event: %w", err)
	}
	return reg.entry.OnEntryEvent(ev)
}

func handleInvalidationEvent(reg *registration, msg *protocol.Message) error {
	if reg.nearCache == nil {
		return fmt.Errorf("registration %d does not take invalidation events", reg.correlationID)
	}
	ev, err := codec.DecodeInvalidationEvent(msg)
	if err != nil {
		return fmt.Errorf("failed to decode invalidation event: %w", err)
	}
	if ev.Key == nil {
		reg.nearCache.clear()
		return nil
	}
	reg.nearCache.invalidate(string(ev.Key))
	return nil
}
