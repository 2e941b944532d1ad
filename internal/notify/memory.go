package notify

import (
	"context"
	"sync"
)

// Broker is an in-process Transport + Publisher for tests and
// single-process deployments.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[int]*brokerHandle
	next int
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]*brokerHandle)}
}

func (b *Broker) Publish(_ context.Context, change Change) error {
	scope := change.Target().Scope()

	b.mu.Lock()
	handles := make([]*brokerHandle, 0, len(b.subs[scope]))
	for _, h := range b.subs[scope] {
		handles = append(handles, h)
	}
	b.mu.Unlock()

	// Deliver outside the broker lock so a handler may resubscribe.
	for _, h := range handles {
		h.handler(change)
	}
	return nil
}

func (b *Broker) Subscribe(_ context.Context, scope string, h Handler) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++

	handle := &brokerHandle{
		handler: h,
		done:    make(chan struct{}),
		remove:  func() { b.remove(scope, id) },
	}
	if b.subs[scope] == nil {
		b.subs[scope] = make(map[int]*brokerHandle)
	}
	b.subs[scope][id] = handle
	return handle, nil
}

// Fail abnormally terminates every subscription on scope, as a dropped
// transport connection would.
func (b *Broker) Fail(scope string, err error) {
	b.mu.Lock()
	handles := b.subs[scope]
	delete(b.subs, scope)
	b.mu.Unlock()

	for _, h := range handles {
		h.fail(err)
	}
}

// Subscribers reports how many live subscriptions a scope has.
func (b *Broker) Subscribers(scope string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[scope])
}

func (b *Broker) remove(scope string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m := b.subs[scope]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(b.subs, scope)
		}
	}
}

type brokerHandle struct {
	handler Handler
	done    chan struct{}
	remove  func()

	mu     sync.Mutex
	closed bool
	err    error
}

func (h *brokerHandle) Done() <-chan struct{} { return h.done }

func (h *brokerHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *brokerHandle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.remove()
	close(h.done)
}

func (h *brokerHandle) fail(err error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.err = err
	h.mu.Unlock()

	close(h.done)
}
