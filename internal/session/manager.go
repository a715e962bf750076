package session

import "sync"

// Manager holds one orchestrator per user. Orchestrators are created lazily
// and dropped on logout so a long-lived process does not accumulate sessions.
type Manager struct {
	newOrchestrator func() *Orchestrator

	mu            sync.Mutex
	orchestrators map[string]*Orchestrator
}

// NewManager creates a Manager that builds orchestrators with the given
// factory.
func NewManager(factory func() *Orchestrator) *Manager {
	return &Manager{
		newOrchestrator: factory,
		orchestrators:   make(map[string]*Orchestrator),
	}
}

// Get returns the user's orchestrator, creating a logged-out one if none
// exists yet.
func (m *Manager) Get(userID string) *Orchestrator {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orchestrators[userID]
	if !ok {
		o = m.newOrchestrator()
		m.orchestrators[userID] = o
	}
	return o
}

// Drop removes the user's orchestrator after logging it out.
func (m *Manager) Drop(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orchestrators[userID]; ok {
		o.Logout()
		delete(m.orchestrators, userID)
	}
}
