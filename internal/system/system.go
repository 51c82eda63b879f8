// Package system implements the MessageSystem process root of spec.md
// §4.13: bootstrap wires the PrincipalRegistry, the kernel subsystem
// (AccessControl), the router, the scheduler and the default MessagePool
// into one running instance; registerSubsystem wires a new subsystem's
// identity and attaches it to the scheduler; dispose tears everything
// down depth-first. Grounded on the teacher's Kernel.Start/Stop process
// lifecycle (babyman-slug-lang internal/kernel/kernel.go), generalized
// from a single flat actor table into the subsystem hierarchy + build
// graph spec.md's runtime composes.
package system

import (
	"sync"
	"time"

	"mycelia/internal/accesscontrol"
	"mycelia/internal/kernel"
	"mycelia/internal/message"
	"mycelia/internal/security"
	"mycelia/internal/subsystem"
	"mycelia/internal/telemetry"
)

// Config customizes Bootstrap.
type Config struct {
	PoolCapacity        int
	WarmupCount         int
	TimeSliceMs         int64
	ResponseTimeoutMs   int64
	MaxPendingReplies   int
	PrincipalExpiration time.Duration
}

// DefaultConfig mirrors spec.md §4.1/§4.8/§4.5 defaults.
func DefaultConfig() Config {
	return Config{
		PoolCapacity:      1000,
		WarmupCount:       0,
		TimeSliceMs:       subsystem.DefaultTimeSliceMs,
		ResponseTimeoutMs: 30_000,
		MaxPendingReplies: 10_000,
	}
}

// System is the MessageSystem process root.
type System struct {
	mu sync.Mutex

	registry      *security.PrincipalRegistry
	pool          *message.Pool
	kernel        *kernel.Kernel
	accessControl *accesscontrol.AccessControl
	scheduler     *subsystem.Scheduler
	log           *telemetry.Logger

	kernelSubsystem *subsystem.Subsystem
	subsystems      map[string]*subsystem.Subsystem

	disposed bool
}

// Bootstrap creates the PrincipalRegistry, the kernel subsystem
// (AccessControl, wired under the reserved name "kernel"), the router,
// the scheduler, and the default MessagePool, pre-warming it when
// cfg.WarmupCount > 0 (spec.md §4.13).
func Bootstrap(log *telemetry.Logger, cfg Config) (*System, error) {
	if log == nil {
		log = telemetry.NewNop()
	}

	registry := security.NewRegistry(cfg.PrincipalExpiration)
	pool := message.NewPool(cfg.PoolCapacity)
	if cfg.WarmupCount > 0 {
		pool.Warmup(cfg.WarmupCount)
	}

	k := kernel.New(registry, pool, log, kernel.Options{
		ResponseTimeout:   cfg.ResponseTimeoutMs,
		MaxPendingReplies: cfg.MaxPendingReplies,
	})

	kernelPKR, err := registry.CreatePrincipal(security.KindKernel, security.CreateOptions{Name: "kernel"})
	if err != nil {
		return nil, err
	}

	ac := accesscontrol.New(registry, k, k, log)
	kernelRoutes := k.Routes().TableFor("kernel")
	kernelSub := ac.Subsystem(kernelPKR, kernelRoutes, subsystem.DefaultConfig())
	if err := kernelSub.Build(); err != nil {
		return nil, err
	}
	kernelSub.Activate()
	k.RegisterSubsystem(kernelSub)

	sch := subsystem.NewScheduler(cfg.TimeSliceMs)
	sch.Attach(kernelSub)

	return &System{
		registry:        registry,
		pool:            pool,
		kernel:          k,
		accessControl:   ac,
		scheduler:       sch,
		log:             log,
		kernelSubsystem: kernelSub,
		subsystems:      make(map[string]*subsystem.Subsystem),
	}, nil
}

// Kernel exposes the kernel, for callers that need SendProtected/
// SendPooledProtected directly rather than through an Identity.
func (s *System) Kernel() *kernel.Kernel { return s.kernel }

// Registry exposes the principal registry.
func (s *System) Registry() *security.PrincipalRegistry { return s.registry }

// Pool exposes the shared message pool.
func (s *System) Pool() *message.Pool { return s.pool }

// Scheduler exposes the cooperative scheduler driving every attached
// subsystem's Process(timeSliceMs).
func (s *System) Scheduler() *subsystem.Scheduler { return s.scheduler }

// RegisterSubsystemOptions customizes RegisterSubsystem.
type RegisterSubsystemOptions struct {
	Kind     security.Kind // KindTopLevel or KindChild
	Instance security.Instance
	Owner    security.PKR // parent subsystem's PKR, required for KindChild
	Metadata map[string]any
	Config   subsystem.Config
}

// RegisterSubsystem wires identity for a new subsystem via AccessControl
// and attaches it to the scheduler (spec.md §4.13's registerSubsystem).
// The new subsystem's own route table is created fresh and handed back so
// the caller can Register its handlers before the scheduler ever ticks it.
func (s *System) RegisterSubsystem(name string, opts RegisterSubsystemOptions) (*subsystem.Subsystem, error) {
	if opts.Kind == "" {
		opts.Kind = security.KindTopLevel
	}
	wired, err := s.accessControl.WireSubsystem(accesscontrol.WireSubsystemRequest{
		Kind:     opts.Kind,
		Name:     name,
		Instance: opts.Instance,
		OwnerPKR: opts.Owner,
		Metadata: opts.Metadata,
	})
	if err != nil {
		return nil, err
	}

	cfg := opts.Config
	if cfg.QueueCapacity == 0 {
		cfg = subsystem.DefaultConfig()
	}

	routes := s.kernel.Routes().TableFor(name)
	sub := subsystem.New(name, wired.Identity, routes, s.log, cfg)
	if err := sub.Build(); err != nil {
		return nil, err
	}
	sub.Activate()

	s.mu.Lock()
	s.subsystems[name] = sub
	var parent *subsystem.Subsystem
	if opts.Kind == security.KindChild && !opts.Owner.IsZero() {
		for _, candidate := range s.subsystems {
			if candidate.Identity().PKR().SameIdentity(opts.Owner) {
				parent = candidate
				break
			}
		}
	}
	s.mu.Unlock()

	if parent != nil {
		parent.AddChild(sub)
	}

	s.kernel.RegisterSubsystem(sub)
	s.scheduler.Attach(sub)

	return sub, nil
}

// Subsystem looks up a previously registered subsystem by name.
func (s *System) Subsystem(name string) (*subsystem.Subsystem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subsystems[name]
	return sub, ok
}

// SubsystemNames lists every subsystem registered via RegisterSubsystem,
// in no particular order. Does not include the reserved "kernel"
// subsystem; look that up via AccessControl's own identity if needed.
func (s *System) SubsystemNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.subsystems))
	for name := range s.subsystems {
		names = append(names, name)
	}
	return names
}

// AccessControl exposes the identity-issuing core so callers can mint
// resources and friends outside of subsystem registration.
func (s *System) AccessControl() *accesscontrol.AccessControl { return s.accessControl }

// PoolStats reports the shared message pool's counters (spec.md §4.1,
// invariant I6).
func (s *System) PoolStats() message.Stats { return s.pool.Stats() }

// WarmupPool pre-fills the pool with k additional stub instances.
func (s *System) WarmupPool(k int) { s.pool.Warmup(k) }

// Dispose stops the scheduler and disposes every registered subsystem
// depth-first (children before parents), then the kernel subsystem. The
// shared message pool is not dropped: Pool and PoolStats keep returning
// it. Dispose is idempotent.
func (s *System) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	subs := make(map[string]*subsystem.Subsystem, len(s.subsystems))
	for k, v := range s.subsystems {
		subs[k] = v
	}
	s.mu.Unlock()

	s.scheduler.Stop()

	for _, sub := range depthFirst(subs) {
		disposeSubsystemTree(sub)
		s.kernel.UnregisterSubsystem(sub.Name())
		s.scheduler.Detach(sub)
	}

	s.kernelSubsystem.Dispose()
	s.kernel.UnregisterSubsystem(s.kernelSubsystem.Name())
	s.scheduler.Detach(s.kernelSubsystem)

	return nil
}

// depthFirst orders subsystems so every subsystem's children are disposed
// before the subsystem itself, matching spec.md §4.13's "depth-first"
// disposal order.
func depthFirst(subs map[string]*subsystem.Subsystem) []*subsystem.Subsystem {
	visited := make(map[*subsystem.Subsystem]bool, len(subs))
	var order []*subsystem.Subsystem

	var visit func(sub *subsystem.Subsystem)
	visit = func(sub *subsystem.Subsystem) {
		if visited[sub] {
			return
		}
		visited[sub] = true
		for _, child := range sub.Children() {
			visit(child)
		}
		order = append(order, sub)
	}

	for _, sub := range subs {
		if sub.Parent() == nil {
			visit(sub)
		}
	}
	for _, sub := range subs {
		visit(sub)
	}
	return order
}

func disposeSubsystemTree(sub *subsystem.Subsystem) {
	for _, child := range sub.Children() {
		disposeSubsystemTree(child)
	}
	sub.Dispose()
}
