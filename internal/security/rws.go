package security

import "sync"

// RWS (ReaderWriterSet) is the per-owner permission set of spec.md §4.3.2.
// Members are keyed by the grantee's stable PrivateKey token so that a
// grantee's later PKR refresh (PublicKey rotation) never silently revokes
// or duplicates membership.
type RWS struct {
	mu       sync.RWMutex
	owner    PKR
	readers  map[PrivateKey]bool
	writers  map[PrivateKey]bool
	granters map[PrivateKey]bool
}

func newRWS(owner PKR) *RWS {
	return &RWS{
		owner:    owner,
		readers:  make(map[PrivateKey]bool),
		writers:  make(map[PrivateKey]bool),
		granters: make(map[PrivateKey]bool),
	}
}

// Owner returns the RWS's owner PKR.
func (r *RWS) Owner() PKR {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// isOwner compares by stable uuid, since the owner's PKR on file may have
// been refreshed since the RWS was created.
func (r *RWS) isOwner(pkr PKR) bool {
	return r.owner.SameIdentity(pkr)
}

// canGrantLocked passes for kernel, owner, or any PKR resolved into granters.
// reg resolves pkr to its stable PrivateKey and supplies the kernel's
// public key.
func (r *RWS) canGrantLocked(reg *PrincipalRegistry, pkr PKR) bool {
	if pkr.PublicKey == reg.KernelPublicKey() {
		return true
	}
	if r.isOwner(pkr) {
		return true
	}
	priv, err := reg.resolvePrivateKeyLocked(pkr)
	if err != nil {
		return false
	}
	return r.granters[priv]
}

// CanGrant reports whether pkr may mutate this RWS's membership.
func (r *RWS) CanGrant(reg *PrincipalRegistry, pkr PKR) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.canGrantLocked(reg, pkr)
}

// CanRead reports kernel, owner, writer, or reader access.
func (r *RWS) CanRead(reg *PrincipalRegistry, pkr PKR) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if pkr.PublicKey == reg.KernelPublicKey() || r.isOwner(pkr) {
		return true
	}
	priv, err := reg.resolvePrivateKeyLocked(pkr)
	if err != nil {
		return false
	}
	return r.readers[priv] || r.writers[priv]
}

// CanWrite reports kernel, owner, or writer access.
func (r *RWS) CanWrite(reg *PrincipalRegistry, pkr PKR) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if pkr.PublicKey == reg.KernelPublicKey() || r.isOwner(pkr) {
		return true
	}
	priv, err := reg.resolvePrivateKeyLocked(pkr)
	if err != nil {
		return false
	}
	return r.writers[priv]
}

func (r *RWS) mutate(reg *PrincipalRegistry, granter, grantee PKR, fn func(priv PrivateKey)) bool {
	if granter.IsZero() || grantee.IsZero() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.canGrantLocked(reg, granter) {
		return false
	}
	priv, err := reg.resolvePrivateKeyLocked(grantee)
	if err != nil {
		return false
	}
	fn(priv)
	return true
}

// AddReader, AddWriter, AddGranter, Remove*, Promote, Demote all fail
// (return false) if either PKR is invalid or canGrant(granter) is false,
// per spec.md §4.3.2.

func (r *RWS) AddReader(reg *PrincipalRegistry, granter, grantee PKR) bool {
	return r.mutate(reg, granter, grantee, func(priv PrivateKey) { r.readers[priv] = true })
}

func (r *RWS) AddWriter(reg *PrincipalRegistry, granter, grantee PKR) bool {
	return r.mutate(reg, granter, grantee, func(priv PrivateKey) { r.writers[priv] = true })
}

func (r *RWS) AddGranter(reg *PrincipalRegistry, granter, grantee PKR) bool {
	return r.mutate(reg, granter, grantee, func(priv PrivateKey) { r.granters[priv] = true })
}

func (r *RWS) RemoveReader(reg *PrincipalRegistry, granter, grantee PKR) bool {
	return r.mutate(reg, granter, grantee, func(priv PrivateKey) { delete(r.readers, priv) })
}

func (r *RWS) RemoveWriter(reg *PrincipalRegistry, granter, grantee PKR) bool {
	return r.mutate(reg, granter, grantee, func(priv PrivateKey) { delete(r.writers, priv) })
}

func (r *RWS) RemoveGranter(reg *PrincipalRegistry, granter, grantee PKR) bool {
	return r.mutate(reg, granter, grantee, func(priv PrivateKey) { delete(r.granters, priv) })
}

// Promote upgrades a reader to a writer.
func (r *RWS) Promote(reg *PrincipalRegistry, granter, grantee PKR) bool {
	return r.mutate(reg, granter, grantee, func(priv PrivateKey) {
		delete(r.readers, priv)
		r.writers[priv] = true
	})
}

// Demote downgrades a writer to a reader.
func (r *RWS) Demote(reg *PrincipalRegistry, granter, grantee PKR) bool {
	return r.mutate(reg, granter, grantee, func(priv PrivateKey) {
		delete(r.writers, priv)
		r.readers[priv] = true
	})
}
