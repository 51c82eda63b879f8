package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePrincipalRejectsSecondKernel(t *testing.T) {
	r := NewRegistry(time.Hour)
	_, err := r.CreatePrincipal(KindKernel, CreateOptions{Name: "kernel"})
	require.NoError(t, err)

	_, err = r.CreatePrincipal(KindKernel, CreateOptions{Name: "kernel2"})
	assert.Error(t, err)
}

func TestCreatePrincipalDerivesNameFromInstance(t *testing.T) {
	r := NewRegistry(time.Hour)
	pkr, err := r.CreatePrincipal(KindTopLevel, CreateOptions{Instance: fakeInstance{name: "fs"}})
	require.NoError(t, err)
	assert.Equal(t, "fs", pkr.Name)

	found, ok := r.ByName("fs")
	require.True(t, ok)
	assert.Equal(t, pkr.UUID, found.UUID)
}

func TestCreatePrincipalSetsMinterToKernelAfterKernelExists(t *testing.T) {
	r := NewRegistry(time.Hour)
	kernelPKR, err := r.CreatePrincipal(KindKernel, CreateOptions{Name: "kernel"})
	require.NoError(t, err)

	other, err := r.CreatePrincipal(KindTopLevel, CreateOptions{Name: "fs"})
	require.NoError(t, err)
	assert.True(t, other.IsMinter(kernelPKR.PublicKey))
}

func TestHasExternalPrivateKeyOnlyForKernelTopLevelFriend(t *testing.T) {
	r := NewRegistry(time.Hour)

	_, topPriv := r.Mint(KindTopLevel)
	assert.NotNil(t, topPriv)

	_, friendPriv := r.Mint(KindFriend)
	assert.NotNil(t, friendPriv)

	_, childPriv := r.Mint(KindChild)
	assert.Nil(t, childPriv)

	_, resourcePriv := r.Mint(KindResource)
	assert.Nil(t, resourcePriv)
}

func TestResolvePKRRejectsUnknownExpiredAndZero(t *testing.T) {
	r := NewRegistry(time.Hour)

	_, err := r.ResolvePKR(PKR{})
	assert.Error(t, err)

	_, err = r.ResolvePKR(PKR{UUID: "ghost"})
	assert.Error(t, err)

	short := NewRegistry(time.Nanosecond)
	pkr, err := short.CreatePrincipal(KindTopLevel, CreateOptions{Name: "fs"})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = short.ResolvePKR(pkr)
	assert.Error(t, err)
}

func TestRefreshPrincipalRotatesOnlyWhenExpired(t *testing.T) {
	r := NewRegistry(time.Hour)
	pkr, err := r.CreatePrincipal(KindTopLevel, CreateOptions{Name: "fs"})
	require.NoError(t, err)

	refreshed, err := r.RefreshPrincipal(pkr)
	require.NoError(t, err)
	assert.Equal(t, pkr.PublicKey, refreshed.PublicKey, "no rotation while unexpired")

	short := NewRegistry(20 * time.Millisecond)
	expiring, err := short.CreatePrincipal(KindTopLevel, CreateOptions{Name: "net"})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	rotated, err := short.RefreshPrincipal(expiring)
	require.NoError(t, err)
	assert.NotEqual(t, expiring.PublicKey, rotated.PublicKey)
	assert.Equal(t, expiring.UUID, rotated.UUID)
	assert.False(t, rotated.IsExpired())
}

func TestCreateRWSCachesByOwnerUUID(t *testing.T) {
	r := NewRegistry(time.Hour)
	owner, err := r.CreatePrincipal(KindTopLevel, CreateOptions{Name: "fs"})
	require.NoError(t, err)

	rws1 := r.CreateRWS(owner)
	rws2 := r.CreateRWS(owner)
	assert.Same(t, rws1, rws2)
}

func TestBindInstanceOnlyOnce(t *testing.T) {
	r := NewRegistry(time.Hour)
	pkr, err := r.CreatePrincipal(KindTopLevel, CreateOptions{Name: "fs"})
	require.NoError(t, err)

	assert.True(t, r.BindInstance(pkr, fakeInstance{name: "fs"}))
	assert.False(t, r.BindInstance(pkr, fakeInstance{name: "fs-again"}))
}

func TestIsKnownReflectsRegistration(t *testing.T) {
	r := NewRegistry(time.Hour)
	pkr, err := r.CreatePrincipal(KindTopLevel, CreateOptions{Name: "fs"})
	require.NoError(t, err)

	assert.True(t, r.IsKnown(pkr))
	assert.False(t, r.IsKnown(PKR{UUID: "ghost"}))
}

type fakeInstance struct{ name string }

func (f fakeInstance) NameString() string { return f.name }
