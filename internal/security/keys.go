// Package security implements Mycelia's capability model: Principals,
// Public-Key Records (PKR), ReaderWriterSets (RWS), and the Identity
// wrapper subsystems use to authenticate and authorize sends (spec.md §3,
// §4.3). "Keys" are opaque unforgeable tokens, never cryptographic
// material — per spec.md §1's non-goals this package is about capability
// enforcement, not cryptography.
package security

import "github.com/google/uuid"

// PublicKey is an opaque, unforgeable, shareable token. Equality is
// reference identity: two PublicKey values compare equal only if one was
// literally copied from the other, never by reconstructing matching
// contents, because the backing pointer is only ever produced by mint.
type PublicKey *publicToken

// PrivateKey is an opaque, unforgeable, non-shareable token. It is the
// stable identity used by ReaderWriterSet membership so that rotating a
// principal's PublicKey (PKR refresh) never invalidates grants already
// made to it (spec.md §4.3.2).
type PrivateKey *privateToken

type publicToken struct{ uuid string }
type privateToken struct{ uuid string }

func mintPublicKey() PublicKey {
	return &publicToken{uuid: uuid.NewString()}
}

func mintPrivateKey() PrivateKey {
	return &privateToken{uuid: uuid.NewString()}
}

// Kind enumerates the principal kinds of spec.md §3.
type Kind string

const (
	KindKernel   Kind = "kernel"
	KindTopLevel Kind = "topLevel"
	KindChild    Kind = "child"
	KindFriend   Kind = "friend"
	KindResource Kind = "resource"
)

// hasExternalPrivateKey reports whether mint() hands this kind's private
// key back to the caller (spec.md §4.3.1): kernel, topLevel, and friend do;
// child and resource don't, since their identity is only ever resolved
// through the registry.
func hasExternalPrivateKey(kind Kind) bool {
	switch kind {
	case KindKernel, KindTopLevel, KindFriend:
		return true
	default:
		return false
	}
}
