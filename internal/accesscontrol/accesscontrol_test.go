package accesscontrol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mycelia/internal/message"
	"mycelia/internal/router"
	"mycelia/internal/security"
	"mycelia/internal/subsystem"
	"mycelia/internal/telemetry"
)

type fakeInstance struct{ name string }

func (f fakeInstance) NameString() string { return f.name }

func newTestAccessControl(t *testing.T) (*AccessControl, *security.PrincipalRegistry, security.PKR) {
	t.Helper()
	registry := security.NewRegistry(time.Hour)
	kernelPKR, err := registry.CreatePrincipal(security.KindKernel, security.CreateOptions{Name: "kernel"})
	require.NoError(t, err)
	return New(registry, nil, nil, telemetry.NewNop()), registry, kernelPKR
}

func TestCreateResourceMintsOwnedResourcePrincipal(t *testing.T) {
	ac, registry, _ := newTestAccessControl(t)
	owner, err := registry.CreatePrincipal(security.KindTopLevel, security.CreateOptions{Name: "fs"})
	require.NoError(t, err)

	res, err := ac.createResource(CreateResourceRequest{
		OwnerPKR: owner,
		Name:     "fs-file",
		Instance: fakeInstance{name: "fs-file"},
	})
	require.NoError(t, err)
	assert.Equal(t, security.KindResource, res.PKR.Kind)
	assert.True(t, registry.IsKnown(res.PKR))
	assert.Equal(t, owner.UUID, res.Identity.RWS().Owner().UUID)
}

func TestCreateFriendStashesSessionKeyAndRole(t *testing.T) {
	ac, registry, _ := newTestAccessControl(t)

	friend, err := ac.createFriend(CreateFriendRequest{
		Name:       "peer-a",
		Endpoint:   "tcp://peer-a:9000",
		SessionKey: "sek_123",
		Role:       "observer",
	})
	require.NoError(t, err)
	assert.Equal(t, security.KindFriend, friend.PKR.Kind)
	assert.Equal(t, "tcp://peer-a:9000", friend.Endpoint)

	role, ok := friend.Identity.GetRole()
	assert.True(t, ok)
	assert.Equal(t, "observer", role)
	assert.True(t, registry.IsKnown(friend.PKR))
}

func TestWireSubsystemRejectsUnknownKind(t *testing.T) {
	ac, _, _ := newTestAccessControl(t)
	_, err := ac.wireSubsystem(WireSubsystemRequest{Kind: security.KindResource, Name: "bad"})
	assert.Error(t, err)
}

func TestWireSubsystemCreatesChildAndTopLevelPrincipals(t *testing.T) {
	ac, _, _ := newTestAccessControl(t)

	top, err := ac.wireSubsystem(WireSubsystemRequest{Kind: security.KindTopLevel, Name: "fs", Instance: fakeInstance{name: "fs"}})
	require.NoError(t, err)
	assert.Equal(t, security.KindTopLevel, top.PKR.Kind)

	child, err := ac.wireSubsystem(WireSubsystemRequest{Kind: security.KindChild, Name: "fs.cache", OwnerPKR: top.PKR})
	require.NoError(t, err)
	assert.Equal(t, security.KindChild, child.PKR.Kind)
}

func TestSubsystemRoutesCreateResourceMessage(t *testing.T) {
	ac, _, kernelPKR := newTestAccessControl(t)
	routes := router.NewTable()
	sub := ac.Subsystem(kernelPKR, routes, subsystem.DefaultConfig())

	msg, err := message.NewMessage("kernel://create/resource", CreateResourceRequest{
		Name:     "fs-file",
		Instance: fakeInstance{name: "fs-file"},
	}, message.Options{})
	require.NoError(t, err)

	require.NoError(t, sub.Accept(msg, security.SendOptions{}))
	sub.Process(0)
	assert.EqualValues(t, 1, sub.Stats().Processed)
	assert.EqualValues(t, 0, sub.Stats().Failed)
}
