// Package router implements per-subsystem pattern matching and dispatch
// (spec.md §4.7). Grounded on the teacher's NameIdx exact-match lookup
// (babyman-slug-lang internal/kernel/kernel.go ActorByName/Register),
// generalized from an exact-name index into a parameterized pattern table
// with the longest-to-shortest tie-break rule the runtime spec requires.
package router

import (
	"sort"
	"strings"
	"sync"

	"mycelia/internal/kernelerr"
	"mycelia/internal/message"
	"mycelia/internal/security"
)

// Handler is invoked with the message, its matched path parameters, and
// the send options the kernel pipeline resolved for this dispatch.
type Handler func(msg *message.Message, params map[string]string, opts security.SendOptions) (any, error)

type segmentKind int

const (
	segLiteral segmentKind = iota
	segParam
	segWildcard
)

type patternSegment struct {
	kind    segmentKind
	literal string // for segLiteral
	name    string // for segParam
}

// Route is one registered (pattern, handler) entry of a subsystem's table.
type Route struct {
	Pattern  string
	segments []patternSegment
	Handler  Handler
	order    int
}

func parsePattern(pattern string) []patternSegment {
	if pattern == "" {
		return nil
	}
	parts := strings.Split(pattern, "/")
	segs := make([]patternSegment, 0, len(parts))
	for _, p := range parts {
		switch {
		case p == "*":
			segs = append(segs, patternSegment{kind: segWildcard})
		case strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}"):
			segs = append(segs, patternSegment{kind: segParam, name: p[1 : len(p)-1]})
		default:
			segs = append(segs, patternSegment{kind: segLiteral, literal: p})
		}
	}
	return segs
}

// match reports whether segs (a request path's segments) satisfy r,
// returning the extracted params on success.
func (r *Route) match(segs []string) (map[string]string, bool) {
	params := make(map[string]string)
	i := 0
	for _, ps := range r.segments {
		if ps.kind == segWildcard {
			return params, true // wildcard suffix consumes the rest, including none
		}
		if i >= len(segs) {
			return nil, false
		}
		switch ps.kind {
		case segLiteral:
			if segs[i] != ps.literal {
				return nil, false
			}
		case segParam:
			params[ps.name] = segs[i]
		}
		i++
	}
	if i != len(segs) {
		return nil, false
	}
	return params, true
}

// literalCount counts non-param, non-wildcard segments, used for tie-break.
func (r *Route) literalCount() int {
	n := 0
	for _, s := range r.segments {
		if s.kind == segLiteral {
			n++
		}
	}
	return n
}

func (r *Route) paramCount() int {
	n := 0
	for _, s := range r.segments {
		if s.kind == segParam {
			n++
		}
	}
	return n
}

func (r *Route) hasWildcard() bool {
	for _, s := range r.segments {
		if s.kind == segWildcard {
			return true
		}
	}
	return false
}

// Table is one subsystem's route table.
type Table struct {
	mu       sync.RWMutex
	routes   []*Route
	seq      int
	tempRoutes map[string]Handler // one-shot temp routes keyed by message id
}

// NewTable builds an empty per-subsystem route table.
func NewTable() *Table {
	return &Table{tempRoutes: make(map[string]Handler)}
}

// Register adds pattern -> handler to the table. Later calls to the same
// pattern string add an additional route (stable by registration order);
// callers that want replace semantics should Unregister first.
func (t *Table) Register(pattern string, handler Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.routes = append(t.routes, &Route{
		Pattern:  pattern,
		segments: parsePattern(pattern),
		Handler:  handler,
		order:    t.seq,
	})
}

// Unregister removes every route registered under pattern.
func (t *Table) Unregister(pattern string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.routes[:0]
	for _, r := range t.routes {
		if r.Pattern != pattern {
			kept = append(kept, r)
		}
	}
	t.routes = kept
}

// RegisterTempRoute installs a one-shot handler keyed by messageID,
// consumed (and removed) the first time MatchOneShot looks it up.
func (t *Table) RegisterTempRoute(messageID string, handler Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tempRoutes[messageID] = handler
}

// UnregisterTempRoute removes a temp route without dispatching it
// (used by cancellation and timeout paths).
func (t *Table) UnregisterTempRoute(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tempRoutes, messageID)
}

// MatchOneShot looks up and consumes the temp route for messageID.
func (t *Table) MatchOneShot(messageID string) (Handler, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.tempRoutes[messageID]
	if ok {
		delete(t.tempRoutes, messageID)
	}
	return h, ok
}

// Match resolves segs against the table per spec.md §4.7's tie-break rule:
// exact > more literal segments > fewer params > registration order.
func (t *Table) Match(segs []string) (*Route, map[string]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	type candidate struct {
		route  *Route
		params map[string]string
	}
	var candidates []candidate
	for _, r := range t.routes {
		if params, ok := r.match(segs); ok {
			candidates = append(candidates, candidate{route: r, params: params})
		}
	}
	if len(candidates) == 0 {
		return nil, nil, kernelerr.NewNoRoute(strings.Join(segs, "/"))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := candidates[i].route, candidates[j].route
		exactI, exactJ := !ri.hasWildcard() && ri.paramCount() == 0, !rj.hasWildcard() && rj.paramCount() == 0
		if exactI != exactJ {
			return exactI
		}
		if li, lj := ri.literalCount(), rj.literalCount(); li != lj {
			return li > lj
		}
		if pi, pj := ri.paramCount(), rj.paramCount(); pi != pj {
			return pi < pj
		}
		return ri.order < rj.order
	})

	best := candidates[0]
	return best.route, best.params, nil
}

// Registry maps subsystem name -> Table, the top-level router facet that
// dispatches by routing key (the subsystem segment of a path).
type Registry struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]*Table)}
}

// TableFor returns (creating if necessary) the Table for subsystem.
func (reg *Registry) TableFor(subsystem string) *Table {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	t, ok := reg.tables[subsystem]
	if !ok {
		t = NewTable()
		reg.tables[subsystem] = t
	}
	return t
}

// HasSubsystem reports whether subsystem has a registered table.
func (reg *Registry) HasSubsystem(subsystem string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.tables[subsystem]
	return ok
}

// Route resolves path to its target subsystem's table, then matches
// segments against it, per spec.md §4.7. One-shot dispatch is handled by
// the caller (kernel) via MatchOneShot before falling through here.
func (reg *Registry) Route(path string) (*Route, map[string]string, error) {
	sub, err := message.Subsystem(path)
	if err != nil {
		return nil, nil, err
	}
	segs, err := message.Segments(path)
	if err != nil {
		return nil, nil, err
	}
	if !reg.HasSubsystem(sub) {
		return nil, nil, kernelerr.NewNoRoute(path)
	}
	return reg.TableFor(sub).Match(segs)
}
