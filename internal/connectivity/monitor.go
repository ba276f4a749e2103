// Package connectivity tracks whether the remote services are reachable and
// notifies subscribers on online/offline transitions.
package connectivity

import "sync"

// Transition is what a subscriber receives. Reconnected is set when the state
// went from offline to online at least once since the subscriber's last read,
// even if a later change already replaced that value.
type Transition struct {
	Online      bool
	Reconnected bool
}

// Monitor holds the current connectivity state.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan Transition
	nextID int
}

func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online, subs: make(map[int]chan Transition)}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the state and notifies subscribers only when it changed.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return
	}
	m.online = online

	for _, ch := range m.subs {
		next := Transition{Online: online, Reconnected: online}
		// An unread value is folded into the new one so a reconnect is never lost.
		select {
		case prev := <-ch:
			next.Reconnected = next.Reconnected || prev.Reconnected
		default:
		}
		ch <- next
	}
}

// Subscribe returns a channel receiving each new state and a cancel func.
// The channel holds a single pending Transition.
func (m *Monitor) Subscribe() (<-chan Transition, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Transition, 1)
	m.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
	return ch, cancel
}
