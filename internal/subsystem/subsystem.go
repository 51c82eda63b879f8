// Package subsystem implements the per-subsystem queue/processor pair and
// the cooperative scheduler that ticks them (spec.md §4.8). Grounded on
// the teacher's runActor goroutine loop (babyman-slug-lang
// internal/kernel/kernel.go), generalized from one goroutine per actor
// reading its channel forever into an explicit process(timeSliceMs) call
// a single-threaded Scheduler drives round-robin, matching the runtime
// spec's cooperative scheduling model instead of Go's native goroutines.
package subsystem

import (
	"fmt"
	"sync"
	"time"

	"mycelia/internal/buildgraph"
	"mycelia/internal/kernelerr"
	"mycelia/internal/message"
	"mycelia/internal/queue"
	"mycelia/internal/router"
	"mycelia/internal/security"
	"mycelia/internal/telemetry"
)

// State is one of the lifecycle states of spec.md §3.
type State string

const (
	StateCreated  State = "created"
	StateBuilt    State = "built"
	StateActive   State = "active"
	StatePaused   State = "paused"
	StateDisposed State = "disposed"
)

// Stats accumulates per-subsystem processing counters.
type Stats struct {
	Processed uint64
	Failed    uint64
	Dispatched uint64
}

// Config customizes a Subsystem's queue/processor behavior.
type Config struct {
	QueueCapacity    int
	OverflowPolicy   queue.OverflowPolicy
	RejectWhenPaused bool
	ListenerPolicy   Policy
	MaxListeners     int
}

// DefaultConfig mirrors spec.md §4.8's defaults: queue capacity 1024,
// reject overflow.
func DefaultConfig() Config {
	return Config{QueueCapacity: 1024, OverflowPolicy: queue.Reject, ListenerPolicy: PolicyMultiple}
}

// Subsystem owns { name, identity, queue, router table, listeners,
// hierarchy } per spec.md §3.
type Subsystem struct {
	mu sync.RWMutex

	name     string
	identity *security.Identity
	queue    *queue.Queue
	routes   *router.Table
	listeners *Listeners
	log      *telemetry.Logger

	state  State
	cfg    Config
	stats  Stats

	parent   *Subsystem
	children map[string]*Subsystem

	pendingOpts map[string]security.SendOptions

	graph  *buildgraph.Graph
	hooks  []buildgraph.Hook
	facets map[buildgraph.FacetKind]*buildgraph.Facet
	frame  *buildgraph.Frame
}

// New constructs a Subsystem bound to its own routing table (obtained from
// the kernel's shared router.Registry so the kernel can dispatch into it).
func New(name string, identity *security.Identity, routes *router.Table, log *telemetry.Logger, cfg Config) *Subsystem {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	if cfg.OverflowPolicy == "" {
		cfg.OverflowPolicy = queue.Reject
	}
	return &Subsystem{
		name:        name,
		identity:    identity,
		queue:       queue.New(cfg.QueueCapacity, cfg.OverflowPolicy),
		routes:      routes,
		listeners:   NewListeners(cfg.ListenerPolicy, cfg.MaxListeners),
		log:         log.With("subsystem", name),
		state:       StateCreated,
		cfg:         cfg,
		children:    make(map[string]*Subsystem),
		pendingOpts: make(map[string]security.SendOptions),
		graph:       buildgraph.NewGraph(nil),
		facets:      make(map[buildgraph.FacetKind]*buildgraph.Facet),
	}
}

// Name implements kernel.SubsystemHandle.
func (s *Subsystem) Name() string { return s.name }

// Identity returns the subsystem's own identity wrapper.
func (s *Subsystem) Identity() *security.Identity { return s.identity }

// Routes returns the subsystem's route table, for hooks/facets to register
// patterns against.
func (s *Subsystem) Routes() *router.Table { return s.routes }

// Listeners returns the subsystem's listener facet.
func (s *Subsystem) Listeners() *Listeners { return s.listeners }

// State reports the subsystem's lifecycle state.
func (s *Subsystem) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Subsystem) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// Activate transitions created/built -> active.
func (s *Subsystem) Activate() { s.setState(StateActive) }

// Pause transitions active -> paused.
func (s *Subsystem) Pause() { s.setState(StatePaused) }

// Resume transitions paused -> active.
func (s *Subsystem) Resume() { s.setState(StateActive) }

// IsPaused reports whether the subsystem currently rejects or queues
// based on its paused-accept configuration.
func (s *Subsystem) IsPaused() bool { return s.State() == StatePaused }

// AddChild attaches a child subsystem to the hierarchy.
func (s *Subsystem) AddChild(child *Subsystem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	child.parent = s
	s.children[child.name] = child
}

// Parent returns the subsystem's parent, or nil for a root subsystem.
func (s *Subsystem) Parent() *Subsystem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parent
}

// Children returns the subsystem's direct children.
func (s *Subsystem) Children() []*Subsystem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Subsystem, 0, len(s.children))
	for _, c := range s.children {
		out = append(out, c)
	}
	return out
}

// Stats snapshots the processing counters.
func (s *Subsystem) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Use registers a facet-building hook to run on the next Build (spec.md
// §4.11/§6's external `use(hook)`). Hooks queued after a prior Build call
// only take effect on a subsequent Build; Use itself never touches the
// facet table.
func (s *Subsystem) Use(hook buildgraph.Hook) *Subsystem {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
	return s
}

// Build runs every hook registered via Use through the Subsystem's
// buildgraph.Graph, installing each hook's facet in dependency order and
// rolling back cleanly if any hook fails (spec.md §4.11/§6's `build()`).
// Build may be called again after further Use calls; already-installed
// facets are left alone unless a hook's ShouldOverwrite says otherwise.
func (s *Subsystem) Build() error {
	s.mu.Lock()
	hooks := append([]buildgraph.Hook(nil), s.hooks...)
	s.mu.Unlock()

	frame, err := s.graph.Execute(&buildgraph.Context{Subsystem: s}, hooks, s.existingFacet, s.setFacet, s.removeFacet)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.frame = frame
	if s.state == StateCreated {
		s.state = StateBuilt
	}
	s.mu.Unlock()
	return nil
}

// Facet looks up a previously built facet by kind.
func (s *Subsystem) Facet(kind buildgraph.FacetKind) (*buildgraph.Facet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facets[kind]
	return f, ok
}

func (s *Subsystem) existingFacet(kind buildgraph.FacetKind) (*buildgraph.Facet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facets[kind]
	return f, ok
}

func (s *Subsystem) setFacet(kind buildgraph.FacetKind, f *buildgraph.Facet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facets[kind] = f
}

func (s *Subsystem) removeFacet(kind buildgraph.FacetKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.facets, kind)
}

// Dispose marks the subsystem disposed and tears down every built facet in
// reverse install order, calling each facet's OnDispose (spec.md §4.11/§6's
// `dispose()`). Accept, Process and Scheduler.Tick do not check the
// disposed state. Idempotent: disposing an already-disposed subsystem is a
// no-op.
func (s *Subsystem) Dispose() {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.state = StateDisposed
	frame := s.frame
	s.frame = nil
	s.mu.Unlock()

	if frame != nil {
		for _, kind := range reverse(frame.Installed()) {
			s.mu.Lock()
			f, ok := s.facets[kind]
			delete(s.facets, kind)
			s.mu.Unlock()
			if ok && f != nil && f.OnDispose != nil {
				f.OnDispose()
			}
		}
	}
}

func reverse(kinds []buildgraph.FacetKind) []buildgraph.FacetKind {
	out := make([]buildgraph.FacetKind, len(kinds))
	for i, k := range kinds {
		out[len(kinds)-1-i] = k
	}
	return out
}

// Accept implements the Processor's accept(msg, opts) of spec.md §4.8:
// validates path/id, and enqueues, honoring the paused-accept policy.
// opts is stashed keyed by message id and retrieved again in Process,
// since Message.Meta's mutable section is reset when pooled messages
// release back to their pool mid-flight.
func (s *Subsystem) Accept(msg *message.Message, opts security.SendOptions) error {
	if msg == nil || msg.ID() == "" {
		return kernelerr.NewInvalidPath("")
	}
	if err := message.Validate(msg.Path()); err != nil {
		return err
	}

	if s.IsPaused() && s.cfg.RejectWhenPaused {
		return kernelerr.NewPaused(msg.Path())
	}

	s.mu.Lock()
	s.pendingOpts[msg.ID()] = opts
	s.mu.Unlock()

	if err := s.queue.Push(msg.Path(), msg); err != nil {
		s.mu.Lock()
		delete(s.pendingOpts, msg.ID())
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Subsystem) takeOpts(id string) security.SendOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	opts := s.pendingOpts[id]
	delete(s.pendingOpts, id)
	return opts
}

// Process dequeues messages and dispatches them to the matching route
// until the queue is empty or timeSliceMs has elapsed (timeSliceMs<=0
// means run until the queue is drained).
func (s *Subsystem) Process(timeSliceMs int64) {
	var deadline time.Time
	bounded := timeSliceMs > 0
	if bounded {
		deadline = time.Now().Add(time.Duration(timeSliceMs) * time.Millisecond)
	}

	for {
		if bounded && time.Now().After(deadline) {
			return
		}
		msg, ok := s.queue.Pop()
		if !ok {
			return
		}
		s.dispatch(msg)
	}
}

// Drain runs Process with no time bound, used by sendPooledProtected's
// scoped-release guard so a pooled message's handler observes it before
// the message returns to the pool.
func (s *Subsystem) Drain() { s.Process(0) }

func (s *Subsystem) dispatch(msg *message.Message) {
	opts := s.takeOpts(msg.ID())

	segs, err := message.Segments(msg.Path())
	if err != nil {
		s.recordFailure(msg, opts, err)
		return
	}

	route, params, err := s.routes.Match(segs)
	if err != nil {
		s.recordFailure(msg, opts, err)
		return
	}

	_, err = s.invoke(route, msg, params, opts)
	if err != nil {
		s.recordFailure(msg, opts, err)
		return
	}

	s.mu.Lock()
	s.stats.Processed++
	s.stats.Dispatched++
	s.mu.Unlock()
}

// invoke calls the matched handler, converting any panic into a
// HandlerError so a misbehaving handler never poisons the scheduler loop
// (spec.md §4.8).
func (s *Subsystem) invoke(route *router.Route, msg *message.Message, params map[string]string, opts security.SendOptions) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = kernelerr.NewHandlerError(msg.Path(), fmt.Errorf("%v", r))
		}
	}()
	return route.Handler(msg, params, opts)
}

func (s *Subsystem) recordFailure(msg *message.Message, opts security.SendOptions, cause error) {
	s.mu.Lock()
	s.stats.Failed++
	s.mu.Unlock()

	s.log.Error().Err(cause).Str("path", msg.Path()).Msg("handler failed")

	if opts.ResponseRequired == nil || s.identity == nil {
		return
	}
	body := map[string]any{"error": message.Error{Kind: "handlerError", Detail: cause.Error()}}
	resp, buildErr := message.NewMessage(opts.ResponseRequired.ReplyTo, body, message.Options{
		Type:       message.TypeResponse,
		IsResponse: true,
		IsError:    true,
		InReplyTo:  msg.ID(),
	})
	if buildErr != nil {
		return
	}
	_ = s.identity.SendProtected(resp, security.SendOptions{IsResponse: true})
}
