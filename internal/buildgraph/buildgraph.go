// Package buildgraph implements the hook/facet composition mechanism of
// spec.md §4.11: a pure verify phase (merge, topological sort, cycle
// detection, cache) followed by a transactional execute phase that
// installs facets in dependency order and rolls back cleanly on failure.
// Grounded on the teacher's service-registration pattern (RegisterService/
// RegisterPrivilegedService in babyman-slug-lang internal/kernel/kernel.go,
// which installs named capabilities onto a shared container before
// Start() runs), generalized into the REDESIGN FLAGS' fixed FacetKind
// enum with typed per-kind capability records instead of duck-typed
// runtime composition.
package buildgraph

import (
	"sort"
	"strings"
	"sync"

	"mycelia/internal/kernelerr"
	"mycelia/internal/validate"
)

// FacetKind is the fixed enum of spec.md §9's redesign note. Core kinds
// are pre-declared; hosts may define additional kinds for custom facets
// (store adapters, rate limiters) as plain strings.
type FacetKind string

const (
	KindQueue      FacetKind = "queue"
	KindProcessor  FacetKind = "processor"
	KindRouter     FacetKind = "router"
	KindScheduler  FacetKind = "scheduler"
	KindListeners  FacetKind = "listeners"
	KindStatistics FacetKind = "statistics"
	KindRequests   FacetKind = "requests"
	KindResponses  FacetKind = "responses"
)

// Facet is a named capability attached to a subsystem (spec.md §3):
// { kind, methods, dependencies, onInit, onDispose, attach }. Methods are
// represented by Value, a kind-specific typed record the caller casts.
type Facet struct {
	Kind         FacetKind
	Dependencies []FacetKind
	Value        any
	OnDispose    func()
	Attach       bool
}

// Context is threaded through hook execution; Subsystem is `any` so this
// package never imports internal/subsystem (avoiding a dependency cycle
// with packages subsystem itself depends on).
type Context struct {
	Subsystem any
	API       any
}

// Hook is `(ctx, api, subsystem) -> Facet` with metadata (spec.md §3).
// ConfigSchema, when non-empty, names a schema registered on the Graph's
// SchemaSet that Config must validate against before Make runs.
type Hook struct {
	Kind            FacetKind
	Required        []FacetKind
	Source          string
	ShouldOverwrite func(existing *Facet) bool
	ConfigSchema    string
	Config          any
	Make            func(ctx *Context) (*Facet, error)
}

// MergeHooks combines default hooks with user hooks; a user hook with the
// same Kind as a default replaces it (spec.md §4.11 step 1).
func MergeHooks(defaults, user []Hook) []Hook {
	byKind := make(map[FacetKind]Hook, len(defaults)+len(user))
	order := make([]FacetKind, 0, len(defaults)+len(user))
	for _, h := range defaults {
		if _, exists := byKind[h.Kind]; !exists {
			order = append(order, h.Kind)
		}
		byKind[h.Kind] = h
	}
	for _, h := range user {
		if _, exists := byKind[h.Kind]; !exists {
			order = append(order, h.Kind)
		}
		byKind[h.Kind] = h
	}
	merged := make([]Hook, 0, len(order))
	for _, k := range order {
		merged = append(merged, byKind[k])
	}
	return merged
}

// Graph performs verify (pure, cached) and execute (transactional) builds.
type Graph struct {
	mu      sync.Mutex
	cache   map[string]cacheEntry
	schemas *validate.SchemaSet
}

type cacheEntry struct {
	order []FacetKind
	err   error
}

// NewGraph builds an empty Graph with an empty topological-order cache.
// schemas may be nil, in which case ConfigSchema-bearing hooks are never
// validated (equivalent to an empty SchemaSet).
func NewGraph(schemas *validate.SchemaSet) *Graph {
	return &Graph{cache: make(map[string]cacheEntry), schemas: schemas}
}

func cacheKey(hooks []Hook) string {
	kinds := make([]string, len(hooks))
	for i, h := range hooks {
		kinds[i] = string(h.Kind)
	}
	sort.Strings(kinds)
	return strings.Join(kinds, ",")
}

// Verify orders hooks so required dependencies precede dependents, via
// Kahn's algorithm, caching the result by sorted kind-set (spec.md §4.11
// steps 2+6). A cycle yields kernelerr.BuildCycle.
func (g *Graph) Verify(hooks []Hook) ([]FacetKind, error) {
	key := cacheKey(hooks)

	g.mu.Lock()
	if entry, ok := g.cache[key]; ok {
		g.mu.Unlock()
		return entry.order, entry.err
	}
	g.mu.Unlock()

	order, err := topoSort(hooks)

	g.mu.Lock()
	g.cache[key] = cacheEntry{order: order, err: err}
	g.mu.Unlock()

	return order, err
}

func topoSort(hooks []Hook) ([]FacetKind, error) {
	byKind := make(map[FacetKind]Hook, len(hooks))
	for _, h := range hooks {
		byKind[h.Kind] = h
	}

	inDegree := make(map[FacetKind]int, len(hooks))
	dependents := make(map[FacetKind][]FacetKind)
	for _, h := range hooks {
		if _, ok := inDegree[h.Kind]; !ok {
			inDegree[h.Kind] = 0
		}
		for _, req := range h.Required {
			if _, known := byKind[req]; !known {
				return nil, kernelerr.NewBuildDependencyMissing(string(h.Kind), string(req))
			}
			inDegree[h.Kind]++
			dependents[req] = append(dependents[req], h.Kind)
		}
	}

	var queue []FacetKind
	for _, h := range hooks {
		if inDegree[h.Kind] == 0 {
			queue = append(queue, h.Kind)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })

	var order []FacetKind
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		order = append(order, k)

		var unlocked []FacetKind
		for _, dep := range dependents[k] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		sort.Slice(unlocked, func(i, j int) bool { return unlocked[i] < unlocked[j] })
		queue = append(queue, unlocked...)
	}

	if len(order) != len(hooks) {
		var cyclic []string
		for _, h := range hooks {
			if inDegree[h.Kind] != 0 {
				cyclic = append(cyclic, string(h.Kind))
			}
		}
		return nil, kernelerr.NewBuildCycle(cyclic)
	}
	return order, nil
}

// Frame records what Execute has installed so it can be rolled back.
type Frame struct {
	installed []FacetKind
}

// Installed returns the facet kinds this Frame installed, in install
// order. Callers that tear a Frame down outside of Execute's own rollback
// (e.g. a Subsystem disposing after a successful Build) walk this in
// reverse to dispose facets in the opposite order they were built.
func (f *Frame) Installed() []FacetKind {
	out := make([]FacetKind, len(f.installed))
	copy(out, f.installed)
	return out
}

// Execute runs hooks in the order Verify produced, installing facets
// transactionally (spec.md §4.11's execute phase). existing reports an
// already-installed facet for a kind (nil if none); setFacet installs or
// replaces a facet for a kind; removeFacet uninstalls one during rollback.
func (g *Graph) Execute(ctx *Context, hooks []Hook, existing func(FacetKind) (*Facet, bool), setFacet func(FacetKind, *Facet), removeFacet func(FacetKind)) (*Frame, error) {
	order, err := g.Verify(hooks)
	if err != nil {
		return nil, err
	}

	byKind := make(map[FacetKind]Hook, len(hooks))
	for _, h := range hooks {
		byKind[h.Kind] = h
	}

	frame := &Frame{}

	rollback := func() {
		for i := len(frame.installed) - 1; i >= 0; i-- {
			kind := frame.installed[i]
			if f, ok := existing(kind); ok && f != nil && f.OnDispose != nil {
				f.OnDispose()
			}
			removeFacet(kind)
		}
	}

	for _, kind := range order {
		hook := byKind[kind]

		current, has := existing(kind)
		if has && current != nil {
			if hook.ShouldOverwrite == nil || !hook.ShouldOverwrite(current) {
				continue // present, not overwritten: skip per spec.md §4.11
			}
			if current.OnDispose != nil {
				current.OnDispose()
			}
			removeFacet(kind)
		}

		if g.schemas != nil && hook.ConfigSchema != "" {
			if err := g.schemas.Validate(hook.ConfigSchema, hook.Config); err != nil {
				rollback()
				return nil, err
			}
		}

		facet, err := hook.Make(ctx)
		if err != nil {
			rollback()
			return nil, err
		}
		if facet.Attach {
			setFacet(kind, facet)
			frame.installed = append(frame.installed, kind)
		}
	}

	return frame, nil
}
