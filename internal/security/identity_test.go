package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mycelia/internal/message"
)

func newTestIdentity(t *testing.T) (*PrincipalRegistry, PKR, *Identity) {
	t.Helper()
	r := NewRegistry(time.Hour)
	pkr, err := r.CreatePrincipal(KindTopLevel, CreateOptions{Name: "fs"})
	require.NoError(t, err)
	return r, pkr, NewIdentity(pkr, nil, r, nil, nil)
}

func TestNewOwnedIdentitySharesOwnersRWS(t *testing.T) {
	r := NewRegistry(time.Hour)
	owner, err := r.CreatePrincipal(KindTopLevel, CreateOptions{Name: "fs"})
	require.NoError(t, err)
	resourcePKR, err := r.CreatePrincipal(KindResource, CreateOptions{Name: "fs.tmp", Owner: owner})
	require.NoError(t, err)

	identity := NewOwnedIdentity(resourcePKR, nil, owner, r, nil, nil)
	assert.Equal(t, owner.UUID, identity.RWS().Owner().UUID)
	assert.True(t, identity.CanRead(owner, false))
}

func TestNewIdentityOwnsItsOwnRWS(t *testing.T) {
	r, pkr, identity := newTestIdentity(t)
	_ = r
	assert.Equal(t, pkr.UUID, identity.RWS().Owner().UUID)
}

func TestCanReadWriteGrantInheritThroughParent(t *testing.T) {
	r := NewRegistry(time.Hour)
	parentPKR, err := r.CreatePrincipal(KindResource, CreateOptions{Name: "parent"})
	require.NoError(t, err)
	childPKR, err := r.CreatePrincipal(KindResource, CreateOptions{Name: "child"})
	require.NoError(t, err)
	caller, err := r.CreatePrincipal(KindTopLevel, CreateOptions{Name: "caller"})
	require.NoError(t, err)

	parent := NewIdentity(parentPKR, nil, r, nil, nil)
	require.True(t, parent.RWS().AddReader(r, parentPKR, caller))

	child := NewIdentity(childPKR, nil, r, nil, nil).WithParent(parent)

	assert.False(t, child.CanRead(caller, false), "no inherit: child's own RWS denies")
	assert.True(t, child.CanRead(caller, true), "inherit ascends to parent's grant")
}

func TestRequireReadFailsAuthenticityCheckWithoutKernelSetter(t *testing.T) {
	_, pkr, identity := newTestIdentity(t)
	_, err := identity.RequireRead(SendOptions{CallerID: pkr}, false, func() (any, error) {
		return "ok", nil
	})
	assert.Error(t, err)
}

func TestRequireReadSucceedsForOwnerWithKernelAuthenticity(t *testing.T) {
	r, pkr, identity := newTestIdentity(t)
	kernelPKR, err := r.CreatePrincipal(KindKernel, CreateOptions{Name: "kernel"})
	_ = err
	result, err := identity.RequireRead(SendOptions{CallerID: pkr, CallerIDSetBy: kernelPKR.PublicKey}, false, func() (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestRequireWriteDeniesNonWriterEvenWithKernelAuthenticity(t *testing.T) {
	r := NewRegistry(time.Hour)
	kernelPKR, err := r.CreatePrincipal(KindKernel, CreateOptions{Name: "kernel"})
	require.NoError(t, err)
	ownerPKR, err := r.CreatePrincipal(KindTopLevel, CreateOptions{Name: "fs"})
	require.NoError(t, err)
	stranger, err := r.CreatePrincipal(KindTopLevel, CreateOptions{Name: "stranger"})
	require.NoError(t, err)

	identity := NewIdentity(ownerPKR, nil, r, nil, nil)
	_, err = identity.RequireWrite(SendOptions{CallerID: stranger, CallerIDSetBy: kernelPKR.PublicKey}, false, func() (any, error) {
		return "ok", nil
	})
	assert.Error(t, err)
}

func TestSendProtectedFailsWithoutBoundSender(t *testing.T) {
	_, _, identity := newTestIdentity(t)
	msg, err := message.NewMessage("fs://read/tmp", nil, message.Options{})
	require.NoError(t, err)
	err = identity.SendProtected(msg, SendOptions{})
	assert.Error(t, err)
}

func TestOneShotFailsWithoutBoundRequester(t *testing.T) {
	_, _, identity := newTestIdentity(t)
	msg, err := message.NewMessage("fs://read/tmp", nil, message.Options{})
	require.NoError(t, err)
	_, err = identity.OneShot("fs", msg, 100)
	assert.Error(t, err)
}

func TestGetSetRoleRoundTrips(t *testing.T) {
	_, _, identity := newTestIdentity(t)
	_, ok := identity.GetRole()
	assert.False(t, ok)

	identity.SetRole("admin")
	role, ok := identity.GetRole()
	require.True(t, ok)
	assert.Equal(t, "admin", role)
}
