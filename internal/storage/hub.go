package storage

import (
	"slices"
	"sync"
)

// mailbox delivers values to one callback, in push order, on its own
// goroutine. Pushing never blocks.
type mailbox[T any] struct {
	deliver func(T)

	mu    sync.Mutex
	queue []T
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newMailbox[T any](deliver func(T)) *mailbox[T] {
	m := &mailbox[T]{
		deliver: deliver,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *mailbox[T]) push(v T) {
	m.mu.Lock()
	m.queue = append(m.queue, v)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// stop ends delivery. A callback already running finishes; nothing queued
// after that is delivered.
func (m *mailbox[T]) stop() {
	m.once.Do(func() { close(m.done) })
}

func (m *mailbox[T]) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}

		for {
			m.mu.Lock()
			if len(m.queue) == 0 {
				m.mu.Unlock()
				break
			}
			next := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()

			select {
			case <-m.done:
				return
			default:
			}
			m.deliver(next)
		}
	}
}

// hub fans inventory snapshots out to the subscribers of one user.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[*mailbox[[]InventoryItem]]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*mailbox[[]InventoryItem]]struct{})}
}

func (h *hub) add(userID string, sub *mailbox[[]InventoryItem]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*mailbox[[]InventoryItem]]struct{})
	}
	h.subs[userID][sub] = struct{}{}
}

func (h *hub) remove(userID string, sub *mailbox[[]InventoryItem]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[userID], sub)
	if len(h.subs[userID]) == 0 {
		delete(h.subs, userID)
	}
}

// publish queues a private copy of items for every subscriber of userID.
func (h *hub) publish(userID string, items []InventoryItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[userID] {
		sub.push(slices.Clone(items))
	}
}

func (h *hub) count(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}
