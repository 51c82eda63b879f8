package security

import "time"

// PKR (Public Key Record) is the immutable, shareable handle principals
// pass around (spec.md §3). It is a point-in-time snapshot of a
// Principal's public-facing identity; RefreshPrincipal mints a new one
// when the current snapshot has expired.
type PKR struct {
	UUID      string
	Name      string
	Kind      Kind
	PublicKey PublicKey
	Minter    PublicKey // the kernel PublicKey that minted this record
	ExpiresAt time.Time
}

// IsMinter compares by unforgeable-token equality (spec.md §3).
func (p PKR) IsMinter(k PublicKey) bool {
	return p.Minter == k
}

// IsExpired compares ExpiresAt against the current time.
func (p PKR) IsExpired() bool {
	return time.Now().After(p.ExpiresAt)
}

// IsValid reports isMinter(kernelKey) && !isExpired() (spec.md §3).
func (p PKR) IsValid(kernelKey PublicKey) bool {
	return p.IsMinter(kernelKey) && !p.IsExpired()
}

// SameIdentity compares two PKRs by their stable uuid, which survives
// key rotation (unlike PublicKey).
func (p PKR) SameIdentity(other PKR) bool {
	return p.UUID != "" && p.UUID == other.UUID
}

// IsZero reports whether p is the zero-value PKR (no principal).
func (p PKR) IsZero() bool {
	return p.UUID == "" && p.PublicKey == nil
}
