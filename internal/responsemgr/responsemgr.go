// Package responsemgr tracks outstanding response-required sends and
// their timeouts (spec.md §4.5). Grounded on the teacher's ReceiveFromPassive
// timeout handling (babyman-slug-lang internal/kernel/kernel.go, the
// `select { case <-a.inbox: ...; case <-time.After(timeout): ... }` pattern),
// generalized from a single blocking receive into a correlation-id table
// with per-entry timers so many outstanding sends can be tracked
// concurrently instead of one blocking call at a time.
package responsemgr

import (
	"sync"
	"time"

	"mycelia/internal/kernelerr"
	"mycelia/internal/message"
	"mycelia/internal/security"
)

// Dispatcher delivers a synthetic timeout response back into the routing
// pipeline. Implemented by the kernel; kept as a narrow interface here to
// avoid an import cycle (kernel imports responsemgr, not the reverse).
type Dispatcher interface {
	DispatchResponse(msg *message.Message) error
}

// Observer is notified of every resolution and timeout a Manager
// processes, for audit-ledger subsystems (internal/store/sqlite,
// internal/store/mysql) that persist them as rows without participating
// in the send pipeline itself.
type Observer interface {
	ObserveResolved(entry Entry)
	ObserveTimeout(entry Entry)
}

// Entry is the tracked record of spec.md §4.5: "{correlationId, ownerPkr,
// replyTo, timeoutMs, createdAt, resolved}".
type Entry struct {
	CorrelationID string
	OwnerPKR      security.PKR
	ReplyTo       string
	TimeoutMs     int64
	CreatedAt     time.Time
	Resolved      bool
}

// Manager maintains the correlationId -> Entry map.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*Entry
	timers  map[string]*time.Timer
	dispatch Dispatcher
	maxPending int
	observer Observer
}

// SetObserver attaches an audit observer; nil disables observation.
func (m *Manager) SetObserver(observer Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = observer
}

// New builds a Manager. maxPending<=0 means unbounded.
func New(dispatch Dispatcher, maxPending int) *Manager {
	return &Manager{
		entries:    make(map[string]*Entry),
		timers:     make(map[string]*time.Timer),
		dispatch:   dispatch,
		maxPending: maxPending,
	}
}

// RegisterResponseRequiredFor records a pending entry keyed by msg.ID()
// and starts a timeout timer that emits a synthetic timeout response on
// fire (spec.md §4.5).
func (m *Manager) RegisterResponseRequiredFor(owner security.PKR, msg *message.Message, replyTo string, timeoutMs int64) error {
	m.mu.Lock()
	if m.maxPending > 0 {
		pending := 0
		for _, e := range m.entries {
			if !e.Resolved {
				pending++
			}
		}
		if pending >= m.maxPending {
			m.mu.Unlock()
			return kernelerr.NewPoolExhausted()
		}
	}

	correlationID := msg.ID()
	entry := &Entry{
		CorrelationID: correlationID,
		OwnerPKR:      owner,
		ReplyTo:       replyTo,
		TimeoutMs:     timeoutMs,
		CreatedAt:     time.Now(),
	}
	m.entries[correlationID] = entry

	timer := time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
		m.fireTimeout(correlationID)
	})
	m.timers[correlationID] = timer
	m.mu.Unlock()
	return nil
}

// GetReplyTo reports where a pending correlationId's reply should be sent.
func (m *Manager) GetReplyTo(correlationID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[correlationID]
	if !ok {
		return "", false
	}
	return e.ReplyTo, true
}

// HandleResponse validates that a pending entry exists for
// responseMsg.Meta.Fixed.InReplyTo, marks it resolved, and cancels its
// timer. Duplicate or unknown responses are dropped, per spec.md §4.5.
func (m *Manager) HandleResponse(responseMsg *message.Message) (resolved bool) {
	correlationID := responseMsg.Meta.Fixed.InReplyTo
	if correlationID == "" {
		return false
	}

	m.mu.Lock()
	e, ok := m.entries[correlationID]
	if !ok || e.Resolved {
		m.mu.Unlock()
		return false
	}
	e.Resolved = true
	if t, ok := m.timers[correlationID]; ok {
		t.Stop()
		delete(m.timers, correlationID)
	}
	snapshot := *e
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer.ObserveResolved(snapshot)
	}
	return true
}

// fireTimeout emits a synthetic timeout response, unless the entry already
// resolved (response-before-timeout: the resolver wins, spec.md §4.10).
func (m *Manager) fireTimeout(correlationID string) {
	m.mu.Lock()
	e, ok := m.entries[correlationID]
	if !ok || e.Resolved {
		m.mu.Unlock()
		return
	}
	e.Resolved = true
	delete(m.timers, correlationID)
	replyTo := e.ReplyTo
	timeoutMs := e.TimeoutMs
	snapshot := *e
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer.ObserveTimeout(snapshot)
	}

	if m.dispatch == nil {
		return
	}

	body := map[string]any{
		"error": message.Error{Kind: "timeout", TimeoutMs: timeoutMs},
	}
	synthetic, err := message.NewMessage(replyTo, body, message.Options{
		Type:       message.TypeResponse,
		IsResponse: true,
		IsError:    true,
		InReplyTo:  correlationID,
	})
	if err != nil {
		return
	}
	_ = m.dispatch.DispatchResponse(synthetic)
}

// Pending reports the number of unresolved entries still tracked.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if !e.Resolved {
			n++
		}
	}
	return n
}

// CancelAllFor cancels every pending entry owned by owner (used when a
// subsystem disposes), marking each resolved without dispatching a
// synthetic response, per spec.md §4.10's OperationCancelled behavior.
func (m *Manager) CancelAllFor(owner security.PKR) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.Resolved || !e.OwnerPKR.SameIdentity(owner) {
			continue
		}
		e.Resolved = true
		if t, ok := m.timers[id]; ok {
			t.Stop()
			delete(m.timers, id)
		}
	}
}
