// Package accesscontrol implements the kernel child subsystem of spec.md
// §4.12: identity-issuing operations (createResource, createFriend,
// wireSubsystem) invoked only through kernel://create/* messages so they
// flow through the same sendProtected pipeline as any other send.
// Grounded on the teacher's RegisterService/RegisterPrivilegedService
// (babyman-slug-lang internal/kernel/kernel.go), generalized from a single
// flat service map into the PKR-issuing factory spec.md's security model
// requires.
package accesscontrol

import (
	"mycelia/internal/kernelerr"
	"mycelia/internal/message"
	"mycelia/internal/router"
	"mycelia/internal/security"
	"mycelia/internal/subsystem"
	"mycelia/internal/telemetry"
)

// CreateResourceRequest is the body of a kernel://create/resource message.
type CreateResourceRequest struct {
	OwnerPKR security.PKR
	Name     string
	Instance security.Instance
	Metadata map[string]any
}

// Resource is the result of createResource: a resource principal's PKR and
// the identity wrapper attached to the caller-supplied instance.
type Resource struct {
	PKR      security.PKR
	Identity *security.Identity
}

// CreateFriendRequest is the body of a kernel://create/friend message.
type CreateFriendRequest struct {
	Name       string
	Endpoint   string
	SessionKey string
	Role       string
	Metadata   map[string]any
}

// Friend is the result of createFriend.
type Friend struct {
	PKR      security.PKR
	Identity *security.Identity
	Endpoint string
}

// WireSubsystemRequest is the body of kernel://create/child or
// kernel://create/topLevel messages.
type WireSubsystemRequest struct {
	Kind     security.Kind // KindChild or KindTopLevel
	Name     string
	Instance security.Instance
	OwnerPKR security.PKR // parent subsystem's PKR, for kind==child
	Metadata map[string]any
}

// WiredSubsystem is the result of wireSubsystem.
type WiredSubsystem struct {
	PKR      security.PKR
	Identity *security.Identity
}

// AccessControl holds the dependencies createResource/createFriend/
// wireSubsystem need: the registry to mint principals and the sender/
// requester surface new identities are built against.
type AccessControl struct {
	registry  *security.PrincipalRegistry
	sender    security.Sender
	requester security.Requester
	log       *telemetry.Logger
}

// New builds the AccessControl core. The ownPKR later passed to Subsystem
// must already be registered under name "kernel" (the MessageSystem
// process root creates it during bootstrap, before constructing
// AccessControl).
func New(registry *security.PrincipalRegistry, sender security.Sender, requester security.Requester, log *telemetry.Logger) *AccessControl {
	return &AccessControl{registry: registry, sender: sender, requester: requester, log: log}
}

// Subsystem builds the "kernel" subsystem handle AccessControl's
// operations are reachable through, registering its three operations onto
// routes (the kernel's own router.Table, obtained via Kernel.Routes().
// TableFor("kernel")) and returning the subsystem for the process root to
// attach to the scheduler.
func (ac *AccessControl) Subsystem(ownPKR security.PKR, routes *router.Table, cfg subsystem.Config) *subsystem.Subsystem {
	identity := security.NewIdentity(ownPKR, nil, ac.registry, ac.sender, ac.requester)
	sub := subsystem.New("kernel", identity, routes, ac.log, cfg)

	routes.Register("create/resource", ac.handleCreateResource)
	routes.Register("create/friend", ac.handleCreateFriend)
	routes.Register("create/child", ac.handleWireSubsystem)
	routes.Register("create/topLevel", ac.handleWireSubsystem)

	return sub
}

func (ac *AccessControl) handleCreateResource(msg *message.Message, _ map[string]string, opts security.SendOptions) (any, error) {
	req, ok := msg.Body.(CreateResourceRequest)
	if !ok {
		return nil, kernelerr.NewInvalidPath(msg.Path())
	}
	return ac.createResource(req)
}

// CreateResource, CreateFriend, and WireSubsystem are the process root's
// direct, in-process entry points for bootstrap-time identity issuance
// (internal/system's registerSubsystem and AccessControl's own "kernel"
// subsystem construction, which happens before any router exists to send
// a kernel://create/* message through). Runtime callers reach the same
// logic through the message-routed handlers registered in Subsystem.
func (ac *AccessControl) CreateResource(req CreateResourceRequest) (*Resource, error) {
	return ac.createResource(req)
}

func (ac *AccessControl) CreateFriend(req CreateFriendRequest) (*Friend, error) {
	return ac.createFriend(req)
}

func (ac *AccessControl) WireSubsystem(req WireSubsystemRequest) (*WiredSubsystem, error) {
	return ac.wireSubsystem(req)
}

// createResource creates a Resource principal (kind resource) owned by
// ownerPKR and attaches a resource identity to resourceInstance (spec.md
// §4.12). Resource principals never receive an external private key
// (security.KindResource), so the returned Identity's PrivateKey() is nil.
func (ac *AccessControl) createResource(req CreateResourceRequest) (*Resource, error) {
	pkr, err := ac.registry.CreatePrincipal(security.KindResource, security.CreateOptions{
		Name:     req.Name,
		Instance: req.Instance,
		Owner:    req.OwnerPKR,
		Metadata: req.Metadata,
	})
	if err != nil {
		return nil, err
	}
	owner := req.OwnerPKR
	if owner.IsZero() {
		owner = pkr
	}
	identity := security.NewOwnedIdentity(pkr, nil, owner, ac.registry, ac.sender, ac.requester)
	if req.Instance != nil {
		ac.registry.BindInstance(pkr, req.Instance)
	}
	return &Resource{PKR: pkr, Identity: identity}, nil
}

func (ac *AccessControl) handleCreateFriend(msg *message.Message, _ map[string]string, opts security.SendOptions) (any, error) {
	req, ok := msg.Body.(CreateFriendRequest)
	if !ok {
		return nil, kernelerr.NewInvalidPath(msg.Path())
	}
	return ac.createFriend(req)
}

// createFriend creates a friend principal (kind friend) and attaches a
// friend identity (spec.md §4.12). Friend principals do receive an
// external private key (security.hasExternalPrivateKey), so the session
// key role metadata is stashed for callers that need it later via
// Identity.GetRole.
func (ac *AccessControl) createFriend(req CreateFriendRequest) (*Friend, error) {
	metadata := req.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}
	if req.SessionKey != "" {
		metadata["sessionKey"] = req.SessionKey
	}
	if req.Endpoint != "" {
		metadata["endpoint"] = req.Endpoint
	}

	pkr, err := ac.registry.CreatePrincipal(security.KindFriend, security.CreateOptions{
		Name:     req.Name,
		Metadata: metadata,
	})
	if err != nil {
		return nil, err
	}
	identity := security.NewIdentity(pkr, nil, ac.registry, ac.sender, ac.requester)
	if req.Role != "" {
		identity.SetRole(req.Role)
	}
	return &Friend{PKR: pkr, Identity: identity, Endpoint: req.Endpoint}, nil
}

func (ac *AccessControl) handleWireSubsystem(msg *message.Message, _ map[string]string, opts security.SendOptions) (any, error) {
	req, ok := msg.Body.(WireSubsystemRequest)
	if !ok {
		return nil, kernelerr.NewInvalidPath(msg.Path())
	}
	return ac.wireSubsystem(req)
}

// wireSubsystem registers a principal of kind child or topLevel, builds
// its identity, and attaches the caller-supplied instance (spec.md
// §4.12). Listener enable-on-use wrapping (§4.10) is the caller's
// responsibility once the identity is in hand: this factory only issues
// the principal and identity, since Go subsystems already own their
// Listeners facet at construction rather than receiving it by mutation.
func (ac *AccessControl) wireSubsystem(req WireSubsystemRequest) (*WiredSubsystem, error) {
	if req.Kind != security.KindChild && req.Kind != security.KindTopLevel {
		return nil, kernelerr.NewInvalidPath("kernel://create/" + string(req.Kind))
	}
	pkr, err := ac.registry.CreatePrincipal(req.Kind, security.CreateOptions{
		Name:     req.Name,
		Instance: req.Instance,
		Owner:    req.OwnerPKR,
		Metadata: req.Metadata,
	})
	if err != nil {
		return nil, err
	}
	identity := security.NewIdentity(pkr, nil, ac.registry, ac.sender, ac.requester)
	if req.Instance != nil {
		ac.registry.BindInstance(pkr, req.Instance)
	}
	return &WiredSubsystem{PKR: pkr, Identity: identity}, nil
}
