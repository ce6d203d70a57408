// Package eventbus is an in-process publish/subscribe dispatcher. It is
// constructed once and injected; nothing here is global.
package eventbus

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	EventCartUpdated       = "cart:updated"
	EventKOTSent           = "kot:sent"
	EventKitchenUnassigned = "kitchen:unassigned"
	EventPaymentPartial    = "payment:partial"
	EventOrderCompleted    = "order:completed"
	EventOrderRefunded     = "order:refunded"
	EventPrintRequest      = "print:request"
	EventPrintFailed       = "print:failed"
	EventStockReconciled   = "stock:reconciled"
	EventSyncFailed        = "sync:failed"
	EventSyncDelivered     = "sync:delivered"
	EventTableUpdated      = "table:updated"
)

type Listener func(name string, payload any)

type subscription struct {
	id uint64
	fn Listener
}

type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string][]subscription
	log       logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Bus {
	return &Bus{
		listeners: make(map[string][]subscription),
		log:       log,
	}
}

// AddListener registers fn for name and returns a func that removes exactly
// that registration.
func (b *Bus) AddListener(name string, fn Listener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[name] = append(b.listeners[name], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.listeners[name]
		for i, s := range subs {
			if s.id == id {
				b.listeners[name] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.listeners[name]) == 0 {
			delete(b.listeners, name)
		}
	}
}

// RemoveListener drops every listener registered for name.
func (b *Bus) RemoveListener(name string) {
	b.mu.Lock()
	delete(b.listeners, name)
	b.mu.Unlock()
}

func (b *Bus) ListenerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name])
}

// Emit calls the listeners of name synchronously, in registration order.
// Listeners added or removed during Emit take effect on the next call.
func (b *Bus) Emit(name string, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.listeners[name]))
	copy(subs, b.listeners[name])
	b.mu.RUnlock()

	for _, s := range subs {
		b.call(name, payload, s.fn)
	}
}

func (b *Bus) call(name string, payload any, fn Listener) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.WithField("event", name).Errorf("listener panicked: %v", r)
		}
	}()
	fn(name, payload)
}
