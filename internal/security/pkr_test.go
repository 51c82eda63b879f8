package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPKRIsZero(t *testing.T) {
	assert.True(t, PKR{}.IsZero())
	assert.False(t, (PKR{UUID: "x"}).IsZero())
}

func TestPKRIsExpired(t *testing.T) {
	future := PKR{ExpiresAt: time.Now().Add(time.Hour)}
	past := PKR{ExpiresAt: time.Now().Add(-time.Hour)}
	assert.False(t, future.IsExpired())
	assert.True(t, past.IsExpired())
}

func TestPKRSameIdentityComparesByUUIDOnly(t *testing.T) {
	a := PKR{UUID: "same", PublicKey: mintPublicKey()}
	b := PKR{UUID: "same", PublicKey: mintPublicKey()}
	assert.True(t, a.SameIdentity(b), "rotation changes PublicKey but not UUID")

	assert.False(t, (PKR{}).SameIdentity(PKR{}), "two zero PKRs are never the same identity")
}

func TestPKRIsValidRequiresMinterMatchAndNotExpired(t *testing.T) {
	kernelKey := mintPublicKey()
	valid := PKR{Minter: kernelKey, ExpiresAt: time.Now().Add(time.Hour)}
	assert.True(t, valid.IsValid(kernelKey))

	wrongMinter := PKR{Minter: mintPublicKey(), ExpiresAt: time.Now().Add(time.Hour)}
	assert.False(t, wrongMinter.IsValid(kernelKey))

	expired := PKR{Minter: kernelKey, ExpiresAt: time.Now().Add(-time.Hour)}
	assert.False(t, expired.IsValid(kernelKey))
}
