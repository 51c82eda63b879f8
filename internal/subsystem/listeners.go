package subsystem

import (
	"fmt"
	"strings"
	"sync"

	"mycelia/internal/message"
)

// Policy controls how On() behaves when a pattern already has a listener
// (spec.md §4.10).
type Policy string

const (
	PolicyMultiple Policy = "multiple"
	PolicySingle   Policy = "single"
	PolicyReplace  Policy = "replace"
	PolicyLimited  Policy = "limited"
)

// ListenerHandler receives a message emitted on a matching path.
type ListenerHandler func(msg *message.Message)

type listenerEntry struct {
	pattern  string
	segments []listenerSegment
	handler  ListenerHandler
	order    int
}

type listenerSegmentKind int

const (
	lsLiteral listenerSegmentKind = iota
	lsParam
	lsWildcard
)

type listenerSegment struct {
	kind    listenerSegmentKind
	literal string
}

func parseListenerPattern(pattern string) []listenerSegment {
	parts := strings.Split(pattern, "/")
	segs := make([]listenerSegment, 0, len(parts))
	for _, p := range parts {
		switch {
		case p == "*":
			segs = append(segs, listenerSegment{kind: lsWildcard})
		case strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}"):
			segs = append(segs, listenerSegment{kind: lsParam})
		default:
			segs = append(segs, listenerSegment{kind: lsLiteral, literal: p})
		}
	}
	return segs
}

func (e *listenerEntry) matches(segs []string) bool {
	i := 0
	for _, s := range e.segments {
		if s.kind == lsWildcard {
			return true
		}
		if i >= len(segs) {
			return false
		}
		if s.kind == lsLiteral && segs[i] != s.literal {
			return false
		}
		i++
	}
	return i == len(segs)
}

// Listeners implements the on/off/emit facet of spec.md §4.10. Unlike
// router.Table (which picks a single best match), emit fans out to every
// matching listener in registration order, so matching logic is kept
// deliberately separate rather than shared with the router.
type Listeners struct {
	mu           sync.Mutex
	policy       Policy
	maxListeners int
	entries      []*listenerEntry
	seq          int
}

// NewListeners builds a Listeners facet under the given policy. maxListeners
// only applies under PolicyLimited.
func NewListeners(policy Policy, maxListeners int) *Listeners {
	if policy == "" {
		policy = PolicyMultiple
	}
	return &Listeners{policy: policy, maxListeners: maxListeners}
}

// On registers handler for path, honoring the configured policy.
func (l *Listeners) On(path string, handler ListenerHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.policy {
	case PolicySingle:
		for _, e := range l.entries {
			if e.pattern == path {
				return fmt.Errorf("listener already registered for %q under single policy", path)
			}
		}
	case PolicyReplace:
		kept := l.entries[:0]
		for _, e := range l.entries {
			if e.pattern != path {
				kept = append(kept, e)
			}
		}
		l.entries = kept
	case PolicyLimited:
		if l.maxListeners > 0 && len(l.entries) >= l.maxListeners {
			return fmt.Errorf("listener limit of %d reached", l.maxListeners)
		}
	}

	l.seq++
	l.entries = append(l.entries, &listenerEntry{
		pattern:  path,
		segments: parseListenerPattern(path),
		handler:  handler,
		order:    l.seq,
	})
	return nil
}

// Off unregisters listeners for path. handler==nil removes every listener
// registered under path; a non-nil handler removes nothing, because
// sameFunc never reports two handlers as equal.
func (l *Listeners) Off(path string, handler ListenerHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.pattern == path && (handler == nil || sameFunc(e.handler, handler)) {
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
}

// sameFunc always reports false: Go func values cannot be compared except
// to nil, so Off cannot single out one handler among those registered
// under a path.
func sameFunc(a, b ListenerHandler) bool {
	return false
}

// Emit delivers msg to every listener whose pattern matches path, in
// registration order. Handler panics are caught and do not abort the
// fan-out (spec.md §4.10).
func (l *Listeners) Emit(path string, msg *message.Message) int {
	if _, err := message.Segments(path); err != nil {
		return 0
	}
	segs := strings.Split(path, "/")

	l.mu.Lock()
	matched := make([]*listenerEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.matches(segs) {
			matched = append(matched, e)
		}
	}
	l.mu.Unlock()

	count := 0
	for _, e := range matched {
		func() {
			defer func() { _ = recover() }()
			e.handler(msg)
		}()
		count++
	}
	return count
}
