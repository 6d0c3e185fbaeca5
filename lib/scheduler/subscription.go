package scheduler

import (
	"sync/atomic"

	"github.com/ValentinKolb/dGrid/lib/protocol"
)

// Handler processes one event message
type Handler func(msg *protocol.Message) error

// Subscription is the registration of one listener. Tasks of a deactivated
// subscription are dropped when they come up.
type Subscription struct {
	handler Handler
	active  atomic.Bool
}

func NewSubscription(handler Handler) *Subscription {
	s := &Subscription{handler: handler}
	s.active.Store(true)
	return s
}

// Deactivate stops the delivery of queued and future tasks
func (s *Subscription) Deactivate() {
	s.active.Store(false)
}

func (s *Subscription) Active() bool {
	return s.active.Load()
}
