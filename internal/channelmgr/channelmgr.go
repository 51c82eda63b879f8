// Package channelmgr implements the kernel's table of named, long-lived
// routes (spec.md §4.4). Grounded on the teacher's NameIdx/Actors
// name-registry split (babyman-slug-lang internal/kernel/kernel.go
// Register/Unregister/ActorByName), generalized from an actor-name index
// into an ACL-carrying channel record keyed by full route.
package channelmgr

import (
	"sync"

	"mycelia/internal/kernelerr"
	"mycelia/internal/message"
	"mycelia/internal/security"
)

// Channel is a named long-lived route with an owner and participant ACL.
type Channel struct {
	Route        string
	OwnerPKR     security.PKR
	Participants map[string]security.PKR // keyed by participant uuid
	Metadata     map[string]any
}

// VerifyAccess reports callerPkr == owner || callerPkr in participants ||
// callerPkr is kernel (spec.md §3.5).
func (c *Channel) VerifyAccess(callerPKR security.PKR, kernelPub security.PublicKey) bool {
	if callerPKR.PublicKey == kernelPub {
		return true
	}
	if c.OwnerPKR.SameIdentity(callerPKR) {
		return true
	}
	_, ok := c.Participants[callerPKR.UUID]
	return ok
}

// Manager stores channels keyed by route (spec.md §4.4).
type Manager struct {
	mu       sync.RWMutex
	byRoute  map[string]*Channel
	registry *security.PrincipalRegistry
}

// New builds an empty Manager. registry is used to resolve the kernel's
// public key for VerifyAccess's kernel-bypass clause.
func New(registry *security.PrincipalRegistry) *Manager {
	return &Manager{byRoute: make(map[string]*Channel), registry: registry}
}

// RegisterChannel creates and stores a channel, failing on duplicate route.
func (m *Manager) RegisterChannel(route string, owner security.PKR, participants []security.PKR, metadata map[string]any) (*Channel, error) {
	if !message.IsChannelPath(route) {
		return nil, kernelerr.NewInvalidPath(route)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byRoute[route]; exists {
		return nil, kernelerr.NewDuplicateChannel(route)
	}

	ps := make(map[string]security.PKR, len(participants))
	for _, p := range participants {
		ps[p.UUID] = p
	}

	ch := &Channel{Route: route, OwnerPKR: owner, Participants: ps, Metadata: metadata}
	m.byRoute[route] = ch
	return ch, nil
}

// GetChannelFor resolves either a full route or the trailing segment under
// "{subsystem}://channel/" (spec.md §4.4). subsystem is only used when
// nameOrRoute is a bare trailing segment rather than a full route.
func (m *Manager) GetChannelFor(subsystem, nameOrRoute string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ch, ok := m.byRoute[nameOrRoute]; ok {
		return ch, true
	}
	route := message.ChannelPath(subsystem, nameOrRoute)
	ch, ok := m.byRoute[route]
	return ch, ok
}

// All returns every registered channel, in no particular order. Used by
// debug/introspection surfaces (the control plane's dump endpoint) that
// need the whole table rather than one owner's slice.
func (m *Manager) All() []*Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Channel, 0, len(m.byRoute))
	for _, ch := range m.byRoute {
		out = append(out, ch)
	}
	return out
}

// ListAllChannelsFor returns every channel owned by owner.
func (m *Manager) ListAllChannelsFor(owner security.PKR) []*Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Channel
	for _, ch := range m.byRoute {
		if ch.OwnerPKR.SameIdentity(owner) {
			out = append(out, ch)
		}
	}
	return out
}

// VerifyAccess looks up the channel at path and checks callerPKR against
// its ACL. A path with no registered channel always fails (spec.md §4.6
// step 5: "otherwise fail with AccessDenied").
func (m *Manager) VerifyAccess(path string, callerPKR security.PKR) error {
	m.mu.RLock()
	ch, ok := m.byRoute[path]
	m.mu.RUnlock()
	if !ok {
		return kernelerr.NewAccessDenied(callerPKR.UUID, path)
	}
	if !ch.VerifyAccess(callerPKR, m.registry.KernelPublicKey()) {
		return kernelerr.NewAccessDenied(callerPKR.UUID, path)
	}
	return nil
}

// AddParticipant grants participant access to the channel at route,
// mutating its ACL in place. It reports false if no channel is registered
// at route.
func (m *Manager) AddParticipant(route string, participant security.PKR) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.byRoute[route]
	if !ok {
		return false
	}
	ch.Participants[participant.UUID] = participant
	return true
}

// RemoveParticipant revokes participant's access to the channel at route.
func (m *Manager) RemoveParticipant(route string, participant security.PKR) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.byRoute[route]
	if !ok {
		return false
	}
	delete(ch.Participants, participant.UUID)
	return true
}
