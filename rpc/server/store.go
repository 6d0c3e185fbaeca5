package server

import (
	"github.com/ValentinKolb/dGrid/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// record is one stored value, expiresAt 0 means it never expires
type record struct {
	value     []byte
	expiresAt int64
}

// expired reports whether the record is past its deadline at now (ms)
func (r record) expired(now int64) bool {
	return r.expiresAt > 0 && now >= r.expiresAt
}

// mapStore is the content of one named map
type mapStore struct {
	name    string
	clock   util.Clock
	entries *xsync.MapOf[string, record]

	// onExpired is called while the key of an expired record is locked
	onExpired func(key string, old []byte)
}

func newMapStore(name string, clock util.Clock, onExpired func(key string, old []byte)) *mapStore {
	return &mapStore{
		name:      name,
		clock:     clock,
		entries:   xsync.NewMapOf[string, record](),
		onExpired: onExpired,
	}
}

// put stores value under key and returns the previous live value. onChange is
// called while the key is locked, which orders the events of one key.
func (s *mapStore) put(key string, value []byte, ttlMillis int64, onChange func(old []byte, existed bool)) (old []byte) {
	now := s.clock.NowMillis()
	s.entries.Compute(key, func(prev record, loaded bool) (record, bool) {
		existed := loaded && !prev.expired(now)
		if existed {
			old = prev.value
		} else if loaded {
			s.onExpired(key, prev.value)
		}
		next := record{value: value}
		if ttlMillis > 0 {
			next.expiresAt = now + ttlMillis
		}
		onChange(old, existed)
		return next, false
	})
	return old
}

// get returns the live value of key, an expired record is removed
func (s *mapStore) get(key string) ([]byte, bool) {
	rec, ok := s.entries.Load(key)
	if !ok {
		return nil, false
	}
	now := s.clock.NowMillis()
	if rec.expired(now) {
		s.expireKey(key, now)
		return nil, false
	}
	return rec.value, true
}

// remove deletes key and returns the live value it had. onChange is only
// called if there was a live value.
func (s *mapStore) remove(key string, onChange func(old []byte)) (old []byte, existed bool) {
	now := s.clock.NowMillis()
	s.entries.Compute(key, func(prev record, loaded bool) (record, bool) {
		if !loaded {
			return prev, true
		}
		if prev.expired(now) {
			s.onExpired(key, prev.value)
		} else {
			old, existed = prev.value, true
			onChange(old)
		}
		return prev, true
	})
	return old, existed
}

// size returns the number of live records
func (s *mapStore) size() int {
	now := s.clock.NowMillis()
	n := 0
	s.entries.Range(func(_ string, rec record) bool {
		if !rec.expired(now) {
			n++
		}
		return true
	})
	return n
}

// expire removes every record that is past its deadline and returns how many
// it removed
func (s *mapStore) expire() int {
	now := s.clock.NowMillis()
	n := 0
	s.entries.Range(func(key string, rec record) bool {
		if rec.expired(now) && s.expireKey(key, now) {
			n++
		}
		return true
	})
	return n
}

// expireKey removes key if its record is still expired at now
func (s *mapStore) expireKey(key string, now int64) (removed bool) {
	s.entries.Compute(key, func(cur record, loaded bool) (record, bool) {
		if !loaded {
			return cur, true
		}
		if !cur.expired(now) {
			return cur, false
		}
		removed = true
		s.onExpired(key, cur.value)
		return cur, true
	})
	return removed
}
