package server

import (
	"github.com/ValentinKolb/dGrid/lib/protocol"
	"github.com/ValentinKolb/dGrid/lib/telemetry"
	"github.com/ValentinKolb/dGrid/rpc/codec"
	"github.com/ValentinKolb/dGrid/rpc/transport"
)

var (
	eventsPushed  = telemetry.Counter("dgrid_server_events_pushed_total")
	eventsDropped = telemetry.Counter("dgrid_server_events_dropped_total")
)

type listenerKind int

const (
	entryListener listenerKind = iota
	invalidationListener
)

// registration is one listener of one connection. Its events carry the
// correlation id of the request that created it.
type registration struct {
	id            string
	kind          listenerKind
	mapName       string
	includeValue  bool
	correlationID int64
	conn          transport.IServerConnection
}

// register stores reg for conn and returns its id. The registrations of a
// connection are removed once it closes.
func (m *Member) register(conn transport.IServerConnection, reg *registration) string {
	reg.id = newRegistrationID()
	reg.conn = conn
	m.listeners.Store(reg.id, reg)

	if _, loaded := m.watched.LoadOrStore(conn.ID(), struct{}{}); !loaded {
		go m.unregisterOnClose(conn)
	}

	Logger.Debugf("connection %d registered listener %s on %s", conn.ID(), reg.id, reg.mapName)
	return reg.id
}

// unregisterOnClose waits for conn to close and drops its registrations
func (m *Member) unregisterOnClose(conn transport.IServerConnection) {
	<-conn.Closed()
	m.listeners.Range(func(id string, reg *registration) bool {
		if reg.conn.ID() == conn.ID() {
			m.listeners.Delete(id)
		}
		return true
	})
	m.watched.Delete(conn.ID())
	Logger.Debugf("dropped listeners of closed connection %d", conn.ID())
}

// publish pushes ev to every entry listener of its map and an invalidation
// for its key to every invalidation listener
func (m *Member) publish(partition int32, ev codec.EntryEvent) {
	m.listeners.Range(func(_ string, reg *registration) bool {
		if reg.mapName != ev.Name {
			return true
		}

		switch reg.kind {
		case entryListener:
			out := ev
			if !reg.includeValue {
				out.Value, out.OldValue = nil, nil
			}
			m.push(reg, codec.EncodeEntryEvent(partition, reg.correlationID, out))
		case invalidationListener:
			m.push(reg, codec.EncodeInvalidationEvent(partition, reg.correlationID,
				codec.InvalidationEvent{Name: ev.Name, Key: ev.Key}))
		}
		return true
	})
}

// push queues msg on the connection of reg, a closed connection drops it
func (m *Member) push(reg *registration, msg *protocol.Message) {
	if err := reg.conn.Push(msg); err != nil {
		eventsDropped.Inc()
		Logger.Debugf("dropped %s for listener %s: %v", msg, reg.id, err)
		return
	}
	eventsPushed.Inc()
}
