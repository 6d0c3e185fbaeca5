package server

import (
	"errors"
	"fmt"
	"net"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ValentinKolb/dGrid/lib/protocol"
	"github.com/ValentinKolb/dGrid/lib/telemetry"
	"github.com/ValentinKolb/dGrid/lib/util"
	"github.com/ValentinKolb/dGrid/rpc/codec"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("server")

var handlerTimer = telemetry.Timer("server.handler")

// DefaultExpiryInterval is the period of the background expiry sweep
const DefaultExpiryInterval = time.Second

// handlerFunc handles one decoded request type
type handlerFunc func(m *Member, conn transport.IServerConnection, req *protocol.Message) (*protocol.Message, error)

// handlers maps every supported request type to its handler
var handlers = map[codec.MessageType]handlerFunc{
	codec.MsgTClientPing:                       (*Member).handlePing,
	codec.MsgTCreateProxy:                      (*Member).handleCreateProxy,
	codec.MsgTMapPut:                           (*Member).handleMapPut,
	codec.MsgTMapGet:                           (*Member).handleMapGet,
	codec.MsgTMapRemove:                        (*Member).handleMapRemove,
	codec.MsgTAddEntryListener:                 (*Member).handleAddEntryListener,
	codec.MsgTRemoveEntryListener:              (*Member).handleRemoveEntryListener,
	codec.MsgTAddNearCacheInvalidationListener: (*Member).handleAddInvalidationListener,
}

// requestCounters counts the requests of every supported type, all other
// types share unknownRequests
var (
	requestCounters = newRequestCounters()
	unknownRequests = telemetry.Counter(`dgrid_server_requests_total{type="unknown"}`)
)

func newRequestCounters() map[codec.MessageType]*vm.Counter {
	counters := make(map[codec.MessageType]*vm.Counter, len(handlers))
	for t := range handlers {
		counters[t] = telemetry.Counter(fmt.Sprintf(`dgrid_server_requests_total{type=%q}`, t.String()))
	}
	return counters
}

// Option configures a Member
type Option func(*Member)

// WithClock sets the clock used for entry expiry
func WithClock(clock util.Clock) Option {
	return func(m *Member) { m.clock = clock }
}

// WithExpiryInterval sets the period of the background sweep that removes
// expired entries and publishes their expiry, 0 disables the sweep
func WithExpiryInterval(d time.Duration) Option {
	return func(m *Member) { m.expiryInterval = d }
}

// Member is a single in-memory grid member. It stores named maps, answers
// map operations and pushes entry and invalidation events to the
// connections that registered listeners.
//
// Usage:
//
//	m := server.NewMember(config, tcp.NewTCPServerTransport())
//
//	if err := m.Serve(); err != nil {
//		panic(err)
//	}
type Member struct {
	config    common.ServerConfig
	transport transport.IRPCServerTransport
	clock     util.Clock

	expiryInterval time.Duration
	stopSweep      chan struct{}
	stopOnce       sync.Once

	maps      *xsync.MapOf[string, *mapStore]
	listeners *xsync.MapOf[string, *registration]
	watched   *xsync.MapOf[uint64, struct{}]

	shuttingDown atomic.Bool
}

// NewMember creates a member that serves requests through t
func NewMember(config common.ServerConfig, t transport.IRPCServerTransport, opts ...Option) *Member {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	m := &Member{
		config:    config,
		transport: t,
		clock:     util.NewSystemClock(),
		stopSweep: make(chan struct{}),
		maps:      xsync.NewMapOf[string, *mapStore](),
		listeners: xsync.NewMapOf[string, *registration](),
		watched:   xsync.NewMapOf[uint64, struct{}](),

		expiryInterval: DefaultExpiryInterval,
	}
	for _, opt := range opts {
		opt(m)
	}

	t.RegisterHandler(m.Handle)
	if m.expiryInterval > 0 {
		go m.sweepExpired()
	}

	Logger.Infof("Created dGrid member")
	Logger.Infof("%s", config.String())
	return m
}

// Serve creates the listener of the configured endpoint and serves it until
// Shutdown is called
func (m *Member) Serve() error {
	return m.transport.Listen(m.config)
}

// ServeListener serves an existing listener until Shutdown is called
func (m *Member) ServeListener(listener net.Listener) error {
	return m.transport.Serve(listener, m.config)
}

// Shutdown rejects new requests with a retryable error and closes the transport
func (m *Member) Shutdown() error {
	m.shuttingDown.Store(true)
	m.stopOnce.Do(func() { close(m.stopSweep) })
	return m.transport.Close()
}

// MapSize returns the number of live entries of the named map
func (m *Member) MapSize(name string) int {
	s, ok := m.maps.Load(name)
	if !ok {
		return 0
	}
	return s.size()
}

// ExpireEntries removes the expired entries of all maps now and returns how
// many it removed. Listeners receive an expired event for each of them.
func (m *Member) ExpireEntries() int {
	n := 0
	m.maps.Range(func(_ string, s *mapStore) bool {
		n += s.expire()
		return true
	})
	if n > 0 {
		Logger.Debugf("expired %d entries", n)
	}
	return n
}

// ListenerCount returns the number of active listener registrations
func (m *Member) ListenerCount() int {
	return m.listeners.Size()
}

// Handle answers one request. It is the handler registered with the transport.
func (m *Member) Handle(conn transport.IServerConnection, req *protocol.Message) *protocol.Message {
	start := time.Now()
	defer handlerTimer.UpdateSince(start)

	t := codec.TypeOf(req)
	if c, ok := requestCounters[t]; ok {
		c.Inc()
	} else {
		unknownRequests.Inc()
	}

	if m.shuttingDown.Load() {
		return codec.EncodeErrorResponse(req.CorrelationID(), codec.ErrCodeShuttingDown, "member is shutting down")
	}

	h, ok := handlers[t]
	if !ok {
		Logger.Warningf("connection %d sent unsupported message type %s", conn.ID(), t)
		return codec.EncodeErrorResponse(req.CorrelationID(), codec.ErrCodeUnknownOperation,
			fmt.Sprintf("unsupported message type %s", t))
	}

	if p := req.PartitionID(); p < -1 || (m.config.PartitionCount > 0 && p >= m.config.PartitionCount) {
		return codec.EncodeErrorResponse(req.CorrelationID(), codec.ErrCodeIllegalArgument,
			fmt.Sprintf("partition %d out of range [0,%d)", p, m.config.PartitionCount))
	}

	resp, err := h(m, conn, req)
	if err != nil {
		Logger.Debugf("request %s failed: %v", req, err)
		code := codec.ErrCodeUndefined
		if errors.Is(err, protocol.ErrMalformedFrame) || errors.Is(err, protocol.ErrNoMoreFrames) {
			code = codec.ErrCodeMalformedRequest
		}
		return codec.EncodeErrorResponse(req.CorrelationID(), code, err.Error())
	}
	return resp
}

// --------------------------------------------------------------------------
// Request Handlers
// --------------------------------------------------------------------------

func (m *Member) handlePing(_ transport.IServerConnection, req *protocol.Message) (*protocol.Message, error) {
	return codec.EncodeClientPingResponse(req.CorrelationID()), nil
}

func (m *Member) handleCreateProxy(conn transport.IServerConnection, req *protocol.Message) (*protocol.Message, error) {
	r, err := codec.DecodeCreateProxyRequest(req)
	if err != nil {
		return nil, err
	}
	m.store(r.Name)
	Logger.Debugf("connection %d created proxy %s (%s)", conn.ID(), r.Name, r.ServiceName)
	return codec.EncodeCreateProxyResponse(req.CorrelationID()), nil
}

func (m *Member) handleMapPut(_ transport.IServerConnection, req *protocol.Message) (*protocol.Message, error) {
	r, err := codec.DecodeMapPutRequest(req)
	if err != nil {
		return nil, err
	}
	partition := m.partitionOf(r.Key)
	old := m.store(r.Name).put(string(r.Key), r.Value, r.TTLMillis, func(old []byte, existed bool) {
		ev := codec.EntryEvent{Name: r.Name, Type: codec.EntryAdded, Key: r.Key, Value: r.Value}
		if existed {
			ev.Type = codec.EntryUpdated
			ev.OldValue = old
		}
		m.publish(partition, ev)
	})
	return codec.EncodeMapPutResponse(req.CorrelationID(), old), nil
}

func (m *Member) handleMapGet(_ transport.IServerConnection, req *protocol.Message) (*protocol.Message, error) {
	r, err := codec.DecodeMapGetRequest(req)
	if err != nil {
		return nil, err
	}
	var value []byte
	if s, ok := m.maps.Load(r.Name); ok {
		value, _ = s.get(string(r.Key))
	}
	return codec.EncodeMapGetResponse(req.CorrelationID(), value), nil
}

func (m *Member) handleMapRemove(_ transport.IServerConnection, req *protocol.Message) (*protocol.Message, error) {
	r, err := codec.DecodeMapRemoveRequest(req)
	if err != nil {
		return nil, err
	}
	var old []byte
	if s, ok := m.maps.Load(r.Name); ok {
		partition := m.partitionOf(r.Key)
		old, _ = s.remove(string(r.Key), func(old []byte) {
			m.publish(partition, codec.EntryEvent{Name: r.Name, Type: codec.EntryRemoved, Key: r.Key, OldValue: old})
		})
	}
	return codec.EncodeMapRemoveResponse(req.CorrelationID(), old), nil
}

func (m *Member) handleAddEntryListener(conn transport.IServerConnection, req *protocol.Message) (*protocol.Message, error) {
	r, err := codec.DecodeAddEntryListenerRequest(req)
	if err != nil {
		return nil, err
	}
	id := m.register(conn, &registration{
		kind:          entryListener,
		mapName:       r.Name,
		includeValue:  r.IncludeValue,
		correlationID: req.CorrelationID(),
	})
	return codec.EncodeRegistrationResponse(codec.MsgTAddEntryListenerResponse, req.CorrelationID(), id), nil
}

func (m *Member) handleAddInvalidationListener(conn transport.IServerConnection, req *protocol.Message) (*protocol.Message, error) {
	name, err := codec.DecodeAddNearCacheInvalidationListenerRequest(req)
	if err != nil {
		return nil, err
	}
	id := m.register(conn, &registration{
		kind:          invalidationListener,
		mapName:       name,
		correlationID: req.CorrelationID(),
	})
	return codec.EncodeRegistrationResponse(codec.MsgTAddNearCacheInvalidationListenerResponse, req.CorrelationID(), id), nil
}

func (m *Member) handleRemoveEntryListener(conn transport.IServerConnection, req *protocol.Message) (*protocol.Message, error) {
	r, err := codec.DecodeRemoveEntryListenerRequest(req)
	if err != nil {
		return nil, err
	}
	removed := false
	m.listeners.Compute(r.RegistrationID, func(reg *registration, loaded bool) (*registration, bool) {
		// only the owning connection may remove a registration
		if loaded && reg.conn.ID() == conn.ID() && reg.mapName == r.Name {
			removed = true
			return nil, true
		}
		return reg, !loaded
	})
	return codec.EncodeRemoveEntryListenerResponse(req.CorrelationID(), removed), nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// store returns the named map, creating it on first use
func (m *Member) store(name string) *mapStore {
	s, _ := m.maps.LoadOrCompute(name, func() *mapStore {
		Logger.Infof("created map %s", name)
		return newMapStore(name, m.clock, func(key string, old []byte) {
			k := []byte(key)
			m.publish(m.partitionOf(k), codec.EntryEvent{Name: name, Type: codec.EntryExpired, Key: k, OldValue: old})
		})
	})
	return s
}

// sweepExpired runs ExpireEntries every expiryInterval until Shutdown
func (m *Member) sweepExpired() {
	ticker := time.NewTicker(m.expiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.ExpireEntries()
		}
	}
}

func (m *Member) partitionOf(key []byte) int32 {
	return util.PartitionID(string(key), m.config.PartitionCount)
}

// newRegistrationID returns a fresh registration id
func newRegistrationID() string {
	return uuid.NewString()
}
