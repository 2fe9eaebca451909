package chat

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the process-wide index of live connections, keyed both by
// consultation and by user. The two indices are kept consistent on every
// add/remove, and all operations are atomic with respect to each other.
type Registry struct {
	mu             sync.RWMutex
	byConsultation map[uuid.UUID]map[*Client]struct{}
	byUser         map[uuid.UUID]map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byConsultation: make(map[uuid.UUID]map[*Client]struct{}),
		byUser:         make(map[uuid.UUID]map[*Client]struct{}),
	}
}

// Register adds the client to both indices. Registering an already-registered
// client is a no-op.
func (r *Registry) Register(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byConsultation[client.ConsultationID] == nil {
		r.byConsultation[client.ConsultationID] = make(map[*Client]struct{})
	}
	r.byConsultation[client.ConsultationID][client] = struct{}{}

	if r.byUser[client.UserID] == nil {
		r.byUser[client.UserID] = make(map[*Client]struct{})
	}
	r.byUser[client.UserID][client] = struct{}{}
}

// Unregister removes the client from both indices wherever present.
// Unregistering a never-registered or already-removed client is a no-op, and
// other clients' registrations are never affected.
func (r *Registry) Unregister(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.byConsultation[client.ConsultationID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(r.byConsultation, client.ConsultationID)
		}
	}
	if set, ok := r.byUser[client.UserID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(r.byUser, client.UserID)
		}
	}
}

// ConsultationClients returns a point-in-time copy of the connections joined
// to the consultation, never a live view, so iteration during broadcast is
// immune to concurrent registry mutation.
func (r *Registry) ConsultationClients(consultationID uuid.UUID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byConsultation[consultationID]
	snapshot := make([]*Client, 0, len(set))
	for client := range set {
		snapshot = append(snapshot, client)
	}
	return snapshot
}

// UserClients returns a point-in-time copy of one user's connections.
func (r *Registry) UserClients(userID uuid.UUID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	snapshot := make([]*Client, 0, len(set))
	for client := range set {
		snapshot = append(snapshot, client)
	}
	return snapshot
}

// ClientCount returns the total number of registered connections.
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, set := range r.byUser {
		n += len(set)
	}
	return n
}

// CloseAll closes and unregisters every connection; used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := make([]*Client, 0)
	for _, set := range r.byUser {
		for client := range set {
			clients = append(clients, client)
		}
	}
	r.byConsultation = make(map[uuid.UUID]map[*Client]struct{})
	r.byUser = make(map[uuid.UUID]map[*Client]struct{})
	r.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
