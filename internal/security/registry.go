package security

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"mycelia/internal/kernelerr"
)

// DefaultExpiration is the PKR default of spec.md §6 ("one week").
const DefaultExpiration = 7 * 24 * time.Hour

// CreateOptions customizes CreatePrincipal.
type CreateOptions struct {
	Name     string
	Instance Instance
	Owner    PKR
	Metadata map[string]any
}

// PrincipalRegistry is the centralized capability manager of spec.md
// §4.3.1: byUuid, byName, byPublicKey, byPrivateKey, publicToPrivate,
// rwsByUuid, refreshLocks.
type PrincipalRegistry struct {
	mu sync.RWMutex

	expiration time.Duration

	byUUID          map[string]*Principal
	byName          map[string]*Principal
	byPublicKey     map[PublicKey]*Principal
	byPrivateKey    map[PrivateKey]*Principal
	publicToPrivate map[PublicKey]PrivateKey
	rwsByUUID       map[string]*RWS

	refreshMu    sync.Mutex
	refreshLocks map[string]*sync.Mutex

	kernel *Principal
}

// NewRegistry constructs an empty registry. expiration<=0 uses DefaultExpiration.
func NewRegistry(expiration time.Duration) *PrincipalRegistry {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	return &PrincipalRegistry{
		expiration:      expiration,
		byUUID:          make(map[string]*Principal),
		byName:          make(map[string]*Principal),
		byPublicKey:     make(map[PublicKey]*Principal),
		byPrivateKey:    make(map[PrivateKey]*Principal),
		publicToPrivate: make(map[PublicKey]PrivateKey),
		rwsByUUID:       make(map[string]*RWS),
		refreshLocks:    make(map[string]*sync.Mutex),
	}
}

// Mint generates an unforgeable public/private token pair for kind. Only
// kernel, topLevel, and friend kinds get a non-nil private key handed
// back to the caller (spec.md §4.3.1); the registry itself always keeps a
// stable private key internally regardless of kind.
func (r *PrincipalRegistry) Mint(kind Kind) (PublicKey, PrivateKey) {
	pub := mintPublicKey()
	priv := mintPrivateKey()
	if hasExternalPrivateKey(kind) {
		return pub, priv
	}
	return pub, nil
}

// KernelPublicKey returns the registry's kernel principal's public key, or
// nil if no kernel principal has been created yet.
func (r *PrincipalRegistry) KernelPublicKey() PublicKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.kernel == nil {
		return nil
	}
	return r.kernel.PublicKey
}

// CreatePrincipal mints and stores a new Principal, returning its PKR
// snapshot. Enforces at most one kernel principal (spec.md §4.3.1).
func (r *PrincipalRegistry) CreatePrincipal(kind Kind, opts CreateOptions) (PKR, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if kind == KindKernel && r.kernel != nil {
		return PKR{}, kernelerr.NewAccessDenied("", "kernel://create/principal")
	}

	pub := mintPublicKey()
	priv := mintPrivateKey()

	var minter PublicKey
	if r.kernel != nil {
		minter = r.kernel.PublicKey
	} else if kind == KindKernel {
		minter = pub // the kernel principal is its own minter
	}

	name := opts.Name
	if name == "" && opts.Instance != nil {
		name = opts.Instance.NameString()
	}

	p := &Principal{
		UUID:       uuid.NewString(),
		Name:       name,
		Kind:       kind,
		PublicKey:  pub,
		PrivateKey: priv,
		Minter:     minter,
		Instance:   opts.Instance,
		ExpiresAt:  time.Now().Add(r.expiration),
		Metadata:   opts.Metadata,
	}

	r.byUUID[p.UUID] = p
	if name != "" {
		r.byName[name] = p
	}
	r.byPublicKey[pub] = p
	r.byPrivateKey[priv] = p
	r.publicToPrivate[pub] = priv

	if kind == KindKernel {
		r.kernel = p
	}

	return p.ToPKR(), nil
}

// ResolvePKR validates non-expiration + minter provenance and returns the
// canonical private-key token, stable across rotations (spec.md §4.3.1).
func (r *PrincipalRegistry) ResolvePKR(pkr PKR) (PrivateKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolvePrivateKeyLocked(pkr)
}

func (r *PrincipalRegistry) resolvePrivateKeyLocked(pkr PKR) (PrivateKey, error) {
	if pkr.IsZero() {
		return nil, kernelerr.NewPKRUnknown("")
	}
	if pkr.IsExpired() {
		return nil, kernelerr.NewPKRExpired(pkr.UUID)
	}
	p, ok := r.byUUID[pkr.UUID]
	if !ok {
		return nil, kernelerr.NewPKRUnknown(pkr.UUID)
	}
	return p.PrivateKey, nil
}

// RefreshPrincipal rotates keys when expired; idempotent under concurrent
// calls via a per-UUID lock (spec.md §4.3.1).
func (r *PrincipalRegistry) RefreshPrincipal(pkr PKR) (PKR, error) {
	lock := r.refreshLockFor(pkr.UUID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byUUID[pkr.UUID]
	if !ok {
		return PKR{}, kernelerr.NewPKRUnknown(pkr.UUID)
	}
	if !p.ToPKR().IsExpired() {
		return p.ToPKR(), nil
	}

	oldPub := p.PublicKey
	newPub := mintPublicKey()
	delete(r.byPublicKey, oldPub)
	delete(r.publicToPrivate, oldPub)

	p.PublicKey = newPub
	p.ExpiresAt = time.Now().Add(r.expiration)
	r.byPublicKey[newPub] = p
	r.publicToPrivate[newPub] = p.PrivateKey

	return p.ToPKR(), nil
}

func (r *PrincipalRegistry) refreshLockFor(uuid string) *sync.Mutex {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	l, ok := r.refreshLocks[uuid]
	if !ok {
		l = &sync.Mutex{}
		r.refreshLocks[uuid] = l
	}
	return l
}

// CreateRWS returns the owner's RWS, creating and caching it on first use.
func (r *PrincipalRegistry) CreateRWS(owner PKR) *RWS {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rws, ok := r.rwsByUUID[owner.UUID]; ok {
		return rws
	}
	rws := newRWS(owner)
	r.rwsByUUID[owner.UUID] = rws
	return rws
}

// ByUUID looks up a principal's current PKR snapshot by stable uuid.
func (r *PrincipalRegistry) ByUUID(uuid string) (PKR, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byUUID[uuid]
	if !ok {
		return PKR{}, false
	}
	return p.ToPKR(), true
}

// ByName looks up a principal's current PKR snapshot by name.
func (r *PrincipalRegistry) ByName(name string) (PKR, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	if !ok {
		return PKR{}, false
	}
	return p.ToPKR(), true
}

// IsKnown reports whether pkr refers to a principal still tracked by the
// registry (used by the kernel pipeline's "valid, known PKR" check).
func (r *PrincipalRegistry) IsKnown(pkr PKR) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUUID[pkr.UUID]
	return ok
}

// BindInstance attaches instance to the principal identified by pkr,
// exactly once.
func (r *PrincipalRegistry) BindInstance(pkr PKR, instance Instance) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byUUID[pkr.UUID]
	if !ok {
		return false
	}
	return p.BindInstance(instance)
}
