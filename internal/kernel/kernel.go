// Package kernel implements the authenticated send pipeline of spec.md
// §4.6: sandboxing caller identity, channel ACL enforcement, response
// correlation, and routing. Grounded on the teacher's SendInternal/
// isPermitted pipeline (babyman-slug-lang internal/kernel/kernel.go),
// generalized from a single ActorID->ActorID capability check into the
// PKR/path-based pipeline spec.md §4.6 names: sanitize caller id, handle
// or register responses, enforce channel ACL, then route.
package kernel

import (
	"sync"

	"mycelia/internal/channelmgr"
	"mycelia/internal/kernelerr"
	"mycelia/internal/message"
	"mycelia/internal/responsemgr"
	"mycelia/internal/router"
	"mycelia/internal/security"
	"mycelia/internal/telemetry"
)

// Kernel is the C7 component of spec.md's decomposition table: authenticated
// send, caller-id injection, ACL enforcement, response orchestration.
type Kernel struct {
	mu sync.RWMutex

	registry  *security.PrincipalRegistry
	channels  *channelmgr.Manager
	responses *responsemgr.Manager
	routes    *router.Registry
	pool      *message.Pool
	log       *telemetry.Logger

	subsystems map[string]SubsystemHandle

	opts Options
}

// New builds a Kernel around an already-constructed registry/pool (the
// MessageSystem process root owns their lifetimes; see internal/system).
func New(registry *security.PrincipalRegistry, pool *message.Pool, log *telemetry.Logger, opts Options) *Kernel {
	k := &Kernel{
		registry:   registry,
		pool:       pool,
		log:        log,
		routes:     router.NewRegistry(),
		subsystems: make(map[string]SubsystemHandle),
		opts:       opts,
	}
	k.channels = channelmgr.New(registry)
	k.responses = responsemgr.New(k, opts.MaxPendingReplies)
	return k
}

// Routes exposes the router registry so subsystem build graphs and the
// AccessControl facet can register patterns against it.
func (k *Kernel) Routes() *router.Registry { return k.routes }

// Channels exposes the channel manager for the AccessControl facet's
// channel-creation helpers.
func (k *Kernel) Channels() *channelmgr.Manager { return k.channels }

// Responses exposes the response manager for the request engine.
func (k *Kernel) Responses() *responsemgr.Manager { return k.responses }

// Registry exposes the principal registry.
func (k *Kernel) Registry() *security.PrincipalRegistry { return k.registry }

// Pool exposes the shared message pool.
func (k *Kernel) Pool() *message.Pool { return k.pool }

// RegisterSubsystem wires handle into the kernel's routing table under
// handle.Name(), per spec.md §4.10: "registerSubsystem(sub) wires identity
// via AccessControl and attaches the subsystem to the scheduler" — the
// scheduler attachment happens in internal/system; this call only makes
// the subsystem reachable by path.
func (k *Kernel) RegisterSubsystem(handle SubsystemHandle) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.subsystems[handle.Name()] = handle
}

// UnregisterSubsystem removes handle from the routing table (disposal).
func (k *Kernel) UnregisterSubsystem(name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.subsystems, name)
}

// SendProtected implements spec.md §4.6's exact pipeline.
func (k *Kernel) SendProtected(callerPKR security.PKR, msg *message.Message, opts security.SendOptions) error {
	if !k.registry.IsKnown(callerPKR) {
		return kernelerr.NewPKRUnknown(callerPKR.UUID)
	}

	// Step 2: sanitize. Caller-supplied CallerID/CallerIDSetBy are never
	// trusted; the kernel is the only minter of CallerIDSetBy.
	opts.CallerID = callerPKR
	opts.CallerIDSetBy = k.registry.KernelPublicKey()

	if opts.IsResponse {
		if !k.responses.HandleResponse(msg) {
			k.log.Debug().Str("messageId", msg.ID()).Str("inReplyTo", msg.Meta.Fixed.InReplyTo).Msg("dropped unmatched or duplicate response")
		}
	}

	if opts.ResponseRequired != nil {
		timeoutMs := opts.ResponseRequired.TimeoutMs
		if timeoutMs <= 0 {
			timeoutMs = k.opts.ResponseTimeout
		}
		if err := k.responses.RegisterResponseRequiredFor(callerPKR, msg, opts.ResponseRequired.ReplyTo, timeoutMs); err != nil {
			return err
		}
	}

	path := msg.Path()
	if message.IsChannelPath(path) && !message.IsOneShotPath(path) {
		if err := k.channels.VerifyAccess(path, callerPKR); err != nil {
			return err
		}
	}

	return k.routeMessage(msg, opts)
}

// SendPooledProtected acquires msg from the pool, runs the same pipeline,
// synchronously drains the target subsystem's queue so the message's
// handler observes it before release, and always releases back to the
// pool regardless of outcome.
func (k *Kernel) SendPooledProtected(callerPKR security.PKR, path string, body any, msgOpts message.Options, sendOpts security.SendOptions) error {
	msg, err := k.pool.Acquire(path, body, msgOpts)
	if err != nil {
		return err
	}
	defer k.pool.Release(msg)

	if err := k.SendProtected(callerPKR, msg, sendOpts); err != nil {
		return err
	}

	sub, err := message.Subsystem(path)
	if err != nil {
		return err
	}
	k.mu.RLock()
	handle, ok := k.subsystems[sub]
	k.mu.RUnlock()
	if ok {
		if drainable, ok := handle.(interface{ Drain() }); ok {
			drainable.Drain()
		}
	}
	return nil
}

// routeMessage implements step 6: extract subsystem, apply the one-shot
// "processImmediately" optimization (spec.md §4.7), else enqueue via the
// target subsystem's Accept.
func (k *Kernel) routeMessage(msg *message.Message, opts security.SendOptions) error {
	path := msg.Path()
	sub, err := message.Subsystem(path)
	if err != nil {
		return err
	}

	if message.IsOneShotPath(path) {
		if messageID, ok := message.OneShotMessageID(path); ok {
			if handler, found := k.routes.TableFor(sub).MatchOneShot(messageID); found {
				_, err := handler(msg, nil, opts)
				return err
			}
		}
	}

	k.mu.RLock()
	handle, ok := k.subsystems[sub]
	k.mu.RUnlock()
	if !ok {
		return kernelerr.NewNoRoute(path)
	}
	return handle.Accept(msg, opts)
}

// OneShotRequest implements security.Requester: it registers a temporary
// route under callerSubsystem, sends msg with responseRequired pointed at
// that route, and blocks until the route fires or the timeout elapses.
func (k *Kernel) OneShotRequest(caller security.PKR, callerSubsystem string, msg *message.Message, timeoutMs int64) (*message.Message, error) {
	replyPath := message.OneShotReplyPath(callerSubsystem, msg.ID())

	result := make(chan *message.Message, 1)
	k.routes.TableFor(callerSubsystem).RegisterTempRoute(msg.ID(), func(resp *message.Message, _ map[string]string, _ security.SendOptions) (any, error) {
		result <- resp
		return nil, nil
	})

	err := k.SendProtected(caller, msg, security.SendOptions{
		ResponseRequired: &security.ResponseRequiredOpts{ReplyTo: replyPath, TimeoutMs: timeoutMs},
	})
	if err != nil {
		k.routes.TableFor(callerSubsystem).UnregisterTempRoute(msg.ID())
		return nil, err
	}

	resp := <-result
	return resp, nil
}

// DispatchResponse implements responsemgr.Dispatcher: a synthetic timeout
// response is routed exactly like any real response, through the kernel
// principal's own authority.
func (k *Kernel) DispatchResponse(msg *message.Message) error {
	return k.SendProtected(k.kernelPKR(), msg, security.SendOptions{IsResponse: true})
}

func (k *Kernel) kernelPKR() security.PKR {
	pkr, _ := k.registry.ByName("kernel")
	return pkr
}
