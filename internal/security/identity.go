package security

import (
	"mycelia/internal/kernelerr"
	"mycelia/internal/message"
)

// ResponseRequiredOpts asks the kernel to track an outstanding reply.
type ResponseRequiredOpts struct {
	ReplyTo   string
	TimeoutMs int64
}

// SendOptions shapes a single sendProtected/sendPooledProtected call
// (spec.md §4.6). CallerID/CallerIDSetBy are always overwritten by the
// kernel pipeline; callers should leave them zero.
type SendOptions struct {
	ResponseRequired *ResponseRequiredOpts
	IsResponse       bool
	CallerID         PKR
	CallerIDSetBy    PublicKey
}

// Sender is the narrow surface Identity needs from the kernel, kept as an
// interface here (rather than importing the kernel package) to avoid an
// import cycle: kernel imports security for PKR/RWS, so security cannot
// import kernel back. Grounded on the teacher's ActCtx/IKernel split
// (internal/kernel/actor_context.go), generalized across packages instead
// of within one.
type Sender interface {
	SendProtected(caller PKR, msg *message.Message, opts SendOptions) error
	SendPooledProtected(caller PKR, path string, body any, opts message.Options, sendOpts SendOptions) error
}

// Requester lets Identity round-trip kernel-internal factory calls
// (createChannel, createResourceIdentity, createFriend) through a
// one-shot request instead of a bare fire-and-forget send.
type Requester interface {
	OneShotRequest(caller PKR, callerSubsystem string, msg *message.Message, timeoutMs int64) (*message.Message, error)
}

// Identity wraps a PKR with the registry, RWS, and (optionally) sender/
// requester access a subsystem needs to act under its own authority
// (spec.md §4.3.3).
type Identity struct {
	pkr        PKR
	privateKey PrivateKey // non-nil only for kernel/topLevel/friend identities
	registry   *PrincipalRegistry
	rws        *RWS
	sender     Sender
	requester  Requester
	parent     *Identity // for resource parent-chain inheritance
}

// NewIdentity builds an Identity for an already-created PKR.
func NewIdentity(pkr PKR, privateKey PrivateKey, registry *PrincipalRegistry, sender Sender, requester Requester) *Identity {
	return &Identity{
		pkr:        pkr,
		privateKey: privateKey,
		registry:   registry,
		rws:        registry.CreateRWS(pkr),
		sender:     sender,
		requester:  requester,
	}
}

// NewOwnedIdentity builds an Identity whose ReaderWriterSet is owned by
// ownerPKR rather than pkr itself, for resource principals spec.md §4.12
// describes as "owned by ownerInstance's PKR": the owner, not the
// resource, starts with implicit read/write/grant access.
func NewOwnedIdentity(pkr PKR, privateKey PrivateKey, ownerPKR PKR, registry *PrincipalRegistry, sender Sender, requester Requester) *Identity {
	return &Identity{
		pkr:        pkr,
		privateKey: privateKey,
		registry:   registry,
		rws:        registry.CreateRWS(ownerPKR),
		sender:     sender,
		requester:  requester,
	}
}

// WithParent returns a copy of the identity chained to a parent resource
// identity, used by CanRead/CanWrite/CanGrant's inherit option to ascend
// resource parent chains (spec.md §4.3.3).
func (i *Identity) WithParent(parent *Identity) *Identity {
	clone := *i
	clone.parent = parent
	return &clone
}

// PKR returns the identity's own PKR snapshot.
func (i *Identity) PKR() PKR { return i.pkr }

// PrivateKey returns the identity's stable private key, or nil for
// child/resource identities that never receive one externally.
func (i *Identity) PrivateKey() PrivateKey { return i.privateKey }

// RWS returns the identity's own ReaderWriterSet.
func (i *Identity) RWS() *RWS { return i.rws }

// CanRead/CanWrite/CanGrant query this identity's own RWS for caller's
// access. When inherit is true and access is denied locally, the check
// ascends to the parent resource identity (spec.md §4.3.3).
func (i *Identity) CanRead(caller PKR, inherit bool) bool {
	if i.rws.CanRead(i.registry, caller) {
		return true
	}
	if inherit && i.parent != nil {
		return i.parent.CanRead(caller, true)
	}
	return false
}

func (i *Identity) CanWrite(caller PKR, inherit bool) bool {
	if i.rws.CanWrite(i.registry, caller) {
		return true
	}
	if inherit && i.parent != nil {
		return i.parent.CanWrite(caller, true)
	}
	return false
}

func (i *Identity) CanGrant(caller PKR, inherit bool) bool {
	if i.rws.CanGrant(i.registry, caller) {
		return true
	}
	if inherit && i.parent != nil {
		return i.parent.CanGrant(caller, true)
	}
	return false
}

// requireAuth is the check spec.md §4.3.3 calls out explicitly: the
// wrapped handler only runs if callerIdSetBy equals a kernel PKR, proving
// the claimed caller id was set by the kernel and not spoofed.
func (i *Identity) requireAuth(opts SendOptions) error {
	if opts.CallerIDSetBy != i.registry.KernelPublicKey() || opts.CallerIDSetBy == nil {
		return kernelerr.NewAccessDenied(opts.CallerID.UUID, "")
	}
	return nil
}

// RequireRead/RequireWrite/RequireGrant wrap fn so it only runs once both
// the kernel-authenticity check and the corresponding RWS check pass.
func (i *Identity) RequireRead(opts SendOptions, inherit bool, fn func() (any, error)) (any, error) {
	if err := i.requireAuth(opts); err != nil {
		return nil, err
	}
	if !i.CanRead(opts.CallerID, inherit) {
		return nil, kernelerr.NewAccessDenied(opts.CallerID.UUID, "")
	}
	return fn()
}

func (i *Identity) RequireWrite(opts SendOptions, inherit bool, fn func() (any, error)) (any, error) {
	if err := i.requireAuth(opts); err != nil {
		return nil, err
	}
	if !i.CanWrite(opts.CallerID, inherit) {
		return nil, kernelerr.NewAccessDenied(opts.CallerID.UUID, "")
	}
	return fn()
}

func (i *Identity) RequireGrant(opts SendOptions, inherit bool, fn func() (any, error)) (any, error) {
	if err := i.requireAuth(opts); err != nil {
		return nil, err
	}
	if !i.CanGrant(opts.CallerID, inherit) {
		return nil, kernelerr.NewAccessDenied(opts.CallerID.UUID, "")
	}
	return fn()
}

// RequireAuth exposes the bare kernel-authenticity check for handlers that
// need it without an accompanying RWS check.
func (i *Identity) RequireAuth(opts SendOptions, fn func() (any, error)) (any, error) {
	if err := i.requireAuth(opts); err != nil {
		return nil, err
	}
	return fn()
}

// Grant/Revoke/Promote/Demote helpers delegate straight to the RWS.

func (i *Identity) GrantReader(granter, grantee PKR) bool  { return i.rws.AddReader(i.registry, granter, grantee) }
func (i *Identity) GrantWriter(granter, grantee PKR) bool  { return i.rws.AddWriter(i.registry, granter, grantee) }
func (i *Identity) GrantGranter(granter, grantee PKR) bool { return i.rws.AddGranter(i.registry, granter, grantee) }
func (i *Identity) RevokeReader(granter, grantee PKR) bool { return i.rws.RemoveReader(i.registry, granter, grantee) }
func (i *Identity) RevokeWriter(granter, grantee PKR) bool { return i.rws.RemoveWriter(i.registry, granter, grantee) }
func (i *Identity) RevokeGranter(granter, grantee PKR) bool { return i.rws.RemoveGranter(i.registry, granter, grantee) }
func (i *Identity) Promote(granter, grantee PKR) bool      { return i.rws.Promote(i.registry, granter, grantee) }
func (i *Identity) Demote(granter, grantee PKR) bool       { return i.rws.Demote(i.registry, granter, grantee) }

// SendProtected auto-injects the identity's own PKR as caller.
func (i *Identity) SendProtected(msg *message.Message, opts SendOptions) error {
	if i.sender == nil {
		return kernelerr.NewOperationCancelled("identity has no sender bound")
	}
	opts.CallerID = i.pkr
	return i.sender.SendProtected(i.pkr, msg, opts)
}

// SendPooledProtected auto-injects the identity's own PKR as caller and
// acquires/releases through the kernel's pool.
func (i *Identity) SendPooledProtected(path string, body any, msgOpts message.Options, sendOpts SendOptions) error {
	if i.sender == nil {
		return kernelerr.NewOperationCancelled("identity has no sender bound")
	}
	sendOpts.CallerID = i.pkr
	return i.sender.SendPooledProtected(i.pkr, path, body, msgOpts, sendOpts)
}

// OneShot sends msg and blocks for a response on a temporary route owned
// by callerSubsystem, per spec.md §4.9's oneShot() builder.
func (i *Identity) OneShot(callerSubsystem string, msg *message.Message, timeoutMs int64) (*message.Message, error) {
	if i.requester == nil {
		return nil, kernelerr.NewOperationCancelled("identity has no requester bound")
	}
	return i.requester.OneShotRequest(i.pkr, callerSubsystem, msg, timeoutMs)
}

// roleKey is the metadata key getRole/setRole operate on (spec.md §6).
const roleKey = "role"

// GetRole/SetRole store the identity's SecurityProfile role as data only,
// per Design Notes §9 ("Role/profile model is partly wired but not
// enforced globally; spec treats it as data only").
func (i *Identity) GetRole() (string, bool) {
	p, ok := i.registry.byUUID[i.pkr.UUID]
	if !ok || p.Metadata == nil {
		return "", false
	}
	role, ok := p.Metadata[roleKey].(string)
	return role, ok
}

func (i *Identity) SetRole(role string) {
	i.registry.mu.Lock()
	defer i.registry.mu.Unlock()
	p, ok := i.registry.byUUID[i.pkr.UUID]
	if !ok {
		return
	}
	if p.Metadata == nil {
		p.Metadata = make(map[string]any)
	}
	p.Metadata[roleKey] = role
}
