package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dGrid/lib/lru"
	"github.com/ValentinKolb/dGrid/lib/protocol"
	"github.com/ValentinKolb/dGrid/lib/util"
	"github.com/ValentinKolb/dGrid/rpc/codec"
	"github.com/ValentinKolb/dGrid/rpc/transport/base"
)

// ErrUnknownListener is returned when removing a listener this client does
// not know
var ErrUnknownListener = errors.New("unknown listener registration")

// MapServiceName is the service name sent when creating map proxies
const MapServiceName = "dgrid:mapService"

type mapOptions struct {
	nearCacheCapacity  int
	nearCacheThreshold int
}

// MapOption configures a Map proxy
type MapOption func(*mapOptions)

// WithNearCache keeps up to threshold recently read entries in a local LRU
// cache, trimmed back to capacity when it overflows. The cache is kept
// coherent with invalidation events from the member.
func WithNearCache(capacity, threshold int) MapOption {
	return func(o *mapOptions) {
		o.nearCacheCapacity = capacity
		o.nearCacheThreshold = threshold
	}
}

// Map is the proxy of one named map on the grid
type Map struct {
	client *Client
	name   string

	near    *nearCache
	nearReg *registration
}

// createMap creates the proxy on the member, the caller holds a read ticket
func (c *Client) createMap(ctx context.Context, name string, opts ...MapOption) (*Map, error) {
	var o mapOptions
	for _, opt := range opts {
		opt(&o)
	}

	resp, err := c.invoke(ctx, codec.EncodeCreateProxyRequest(name, MapServiceName), nil)
	if err != nil {
		return nil, err
	}
	if err := codec.CheckResponse(resp, codec.MsgTCreateProxyResponse); err != nil {
		return nil, err
	}

	m := &Map{client: c, name: name}
	if o.nearCacheThreshold > 0 {
		near, err := newNearCache(name, o.nearCacheCapacity, o.nearCacheThreshold)
		if err != nil {
			return nil, err
		}
		reg, err := c.register(ctx, codec.EncodeAddNearCacheInvalidationListenerRequest(name),
			codec.MsgTAddNearCacheInvalidationListenerResponse, listenerTarget{mapName: name, nearCache: near})
		if err != nil {
			near.close()
			return nil, fmt.Errorf("failed to register near cache invalidation for %s: %w", name, err)
		}
		m.near, m.nearReg = near, reg
	}

	Logger.Debugf("created proxy %s (near cache: %t)", name, m.near != nil)
	return m, nil
}

// --------------------------------------------------------------------------
// Public API
// --------------------------------------------------------------------------

// Name returns the name of the map
func (m *Map) Name() string { return m.name }

// Put stores value under key and returns the previous value, nil if there was none
func (m *Map) Put(ctx context.Context, key, value []byte) ([]byte, error) {
	return m.PutWithTTL(ctx, key, value, 0)
}

// PutWithTTL stores value under key for ttl, a ttl of 0 never expires
func (m *Map) PutWithTTL(ctx context.Context, key, value []byte, ttl time.Duration) ([]byte, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	req := codec.EncodeMapPutRequest(m.partition(key), m.name, key, value, ttl.Milliseconds())
	resp, err := m.invoke(ctx, req)
	if m.near != nil {
		m.near.invalidate(string(key))
	}
	if err != nil {
		return nil, err
	}
	return codec.DecodeMapPutResponse(resp)
}

// Get returns the value of key, nil if it is missing
func (m *Map) Get(ctx context.Context, key []byte) ([]byte, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	var gen uint64
	if m.near != nil {
		if v, ok := m.near.get(string(key)); ok {
			return v, nil
		}
		gen = m.near.generation()
	}

	resp, err := m.invoke(ctx, codec.EncodeMapGetRequest(m.partition(key), m.name, key))
	if err != nil {
		return nil, err
	}
	value, err := codec.DecodeMapGetResponse(resp)
	if err != nil {
		return nil, err
	}
	if m.near != nil && value != nil {
		m.near.put(string(key), value, gen)
	}
	return value, nil
}

// Remove deletes key and returns the value it had, nil if it was missing
func (m *Map) Remove(ctx context.Context, key []byte) ([]byte, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	resp, err := m.invoke(ctx, codec.EncodeMapRemoveRequest(m.partition(key), m.name, key))
	if m.near != nil {
		m.near.invalidate(string(key))
	}
	if err != nil {
		return nil, err
	}
	return codec.DecodeMapRemoveResponse(resp)
}

// AddEntryListener registers l for the entry events of the map and returns
// the registration id. Events of one partition reach l in order, one at a time.
func (m *Map) AddEntryListener(ctx context.Context, l EntryListener, includeValue bool) (string, error) {
	if l == nil {
		return "", errors.New("listener must not be nil")
	}
	ticket, err := m.client.enter(ctx)
	if err != nil {
		return "", err
	}
	defer ticket.Release()

	reg, err := m.client.register(ctx, codec.EncodeAddEntryListenerRequest(m.name, includeValue),
		codec.MsgTAddEntryListenerResponse, listenerTarget{mapName: m.name, entry: l})
	if err != nil {
		return "", err
	}
	return reg.ID(), nil
}

// RemoveEntryListener removes the listener with the given registration id.
// Events already queued for it are dropped.
func (m *Map) RemoveEntryListener(ctx context.Context, id string) (bool, error) {
	ticket, err := m.client.enter(ctx)
	if err != nil {
		return false, err
	}
	defer ticket.Release()

	var reg *registration
	m.client.registrations.Range(func(_ int64, r *registration) bool {
		if r.ID() == id && r.mapName == m.name && r.entry != nil {
			reg = r
			return false
		}
		return true
	})
	if reg == nil {
		return false, ErrUnknownListener
	}

	reg.sub.Deactivate()
	m.client.registrations.Delete(reg.correlationID)

	// the member only accepts the removal on the registering connection
	req := codec.EncodeRemoveEntryListenerRequest(m.name, id)
	req.SetCorrelationID(m.client.correlationIDs.Next())
	resp, err := reg.conn.Invoke(ctx, req)
	if err != nil {
		return false, err
	}
	return codec.DecodeRemoveEntryListenerResponse(resp)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (m *Map) invoke(ctx context.Context, req *protocol.Message) (*protocol.Message, error) {
	ticket, err := m.client.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer ticket.Release()
	return m.client.invoke(ctx, req, nil)
}

func (m *Map) partition(key []byte) int32 {
	return util.PartitionID(string(key), m.client.config.PartitionCount)
}

// close drops the near cache, the client removes the registrations
func (m *Map) close() {
	if m.near != nil {
		m.near.close()
	}
}

// register sends a listener registration. Every attempt gets its own
// registration bound to the attempt's connection and correlation id, so
// events that overtake the response already find it.
func (c *Client) register(ctx context.Context, req *protocol.Message, want codec.MessageType, target listenerTarget) (*registration, error) {
	var current *registration
	resp, err := c.invoke(ctx, req, func(conn *base.Connection, correlationID int64) func() {
		reg := &registration{listenerTarget: target, conn: conn, correlationID: correlationID}
		reg.sub = newSubscription(reg)
		c.registrations.Store(correlationID, reg)
		current = reg
		return func() {
			reg.sub.Deactivate()
			c.registrations.Delete(correlationID)
		}
	})
	if err != nil {
		return nil, err
	}

	id, err := codec.DecodeRegistrationResponse(resp, want)
	if err != nil {
		current.sub.Deactivate()
		c.registrations.Delete(current.correlationID)
		return nil, err
	}
	current.id.Store(&id)
	Logger.Debugf("registered listener %s on %s", id, current.mapName)
	return current, nil
}

// --------------------------------------------------------------------------
// Near Cache
// --------------------------------------------------------------------------

// nearCache is the local copy of recently read entries of one map. Every
// invalidation bumps the generation, a read result fetched before an
// invalidation is not stored. A disabled near cache stays empty.
type nearCache struct {
	cache    *lru.Cache[string, []byte]
	gen      atomic.Uint64
	disabled atomic.Bool
}

func newNearCache(name string, capacity, threshold int) (*nearCache, error) {
	cache, err := lru.New[string, []byte](capacity, threshold, lru.WithName("near-cache/"+name))
	if err != nil {
		return nil, err
	}
	return &nearCache{cache: cache}, nil
}

func (n *nearCache) get(key string) ([]byte, bool) {
	if n.disabled.Load() {
		return nil, false
	}
	v, ok, err := n.cache.TryGetValue(key)
	return v, ok && err == nil
}

func (n *nearCache) generation() uint64 { return n.gen.Load() }

// put stores value if no invalidation happened since gen was read
func (n *nearCache) put(key string, value []byte, gen uint64) {
	if n.disabled.Load() || n.gen.Load() != gen {
		return
	}
	_ = n.cache.Add(key, value)
	if n.gen.Load() != gen {
		_, _, _ = n.cache.TryRemove(key)
	}
}

func (n *nearCache) invalidate(key string) {
	n.gen.Add(1)
	_, _, _ = n.cache.TryRemove(key)
}

func (n *nearCache) clear() {
	n.gen.Add(1)
	n.cache.Clear()
}

// disable stops caching for good, used once the invalidation listener is lost
func (n *nearCache) disable() {
	n.disabled.Store(true)
	n.clear()
}

func (n *nearCache) close() {
	n.cache.Dispose()
}

// NearCacheLen returns the number of entries in the near cache, 0 without one
func (m *Map) NearCacheLen() int {
	if m.near == nil {
		return 0
	}
	return m.near.cache.Len()
}
