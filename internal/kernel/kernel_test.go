package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mycelia/internal/message"
	"mycelia/internal/security"
	"mycelia/internal/telemetry"
)

type recordingHandle struct {
	name     string
	accepted []*message.Message
}

func (h *recordingHandle) Name() string { return h.name }

func (h *recordingHandle) Accept(msg *message.Message, opts security.SendOptions) error {
	h.accepted = append(h.accepted, msg)
	return nil
}

func newTestKernel(t *testing.T) (*Kernel, security.PKR) {
	t.Helper()
	registry := security.NewRegistry(time.Hour)
	kernelPKR, err := registry.CreatePrincipal(security.KindKernel, security.CreateOptions{Name: "kernel"})
	require.NoError(t, err)

	pool := message.NewPool(16)
	k := New(registry, pool, telemetry.NewNop(), Options{MaxPendingReplies: 100})
	return k, kernelPKR
}

func TestSendProtectedRejectsUnknownCaller(t *testing.T) {
	k, _ := newTestKernel(t)
	msg, err := message.NewMessage("fs://read/foo", nil, message.Options{})
	require.NoError(t, err)

	err = k.SendProtected(security.PKR{}, msg, security.SendOptions{})
	assert.Error(t, err)
}

func TestSendProtectedRoutesToRegisteredSubsystem(t *testing.T) {
	k, kernelPKR := newTestKernel(t)
	handle := &recordingHandle{name: "fs"}
	k.RegisterSubsystem(handle)

	msg, err := message.NewMessage("fs://read/foo", nil, message.Options{})
	require.NoError(t, err)

	require.NoError(t, k.SendProtected(kernelPKR, msg, security.SendOptions{}))
	require.Len(t, handle.accepted, 1)
	assert.Equal(t, "fs://read/foo", handle.accepted[0].Path())
}

func TestSendProtectedNoRouteForUnknownSubsystem(t *testing.T) {
	k, kernelPKR := newTestKernel(t)
	msg, err := message.NewMessage("ghost://do/thing", nil, message.Options{})
	require.NoError(t, err)

	err = k.SendProtected(kernelPKR, msg, security.SendOptions{})
	assert.Error(t, err)
}

func TestSendProtectedChannelACLDeniesUnregisteredChannel(t *testing.T) {
	k, kernelPKR := newTestKernel(t)
	handle := &recordingHandle{name: "data"}
	k.RegisterSubsystem(handle)

	msg, err := message.NewMessage("data://channel/replies", nil, message.Options{})
	require.NoError(t, err)

	err = k.SendProtected(kernelPKR, msg, security.SendOptions{})
	assert.Error(t, err)
	assert.Empty(t, handle.accepted)
}

func TestSendProtectedChannelACLAllowsOwner(t *testing.T) {
	k, kernelPKR := newTestKernel(t)
	handle := &recordingHandle{name: "data"}
	k.RegisterSubsystem(handle)

	owner, err := k.registry.CreatePrincipal(security.KindTopLevel, security.CreateOptions{Name: "owner"})
	require.NoError(t, err)
	_, err = k.Channels().RegisterChannel("data://channel/replies", owner, nil, nil)
	require.NoError(t, err)

	msg, err := message.NewMessage("data://channel/replies", nil, message.Options{})
	require.NoError(t, err)

	require.NoError(t, k.SendProtected(owner, msg, security.SendOptions{}))
	assert.Len(t, handle.accepted, 1)
}

func TestSendPooledProtectedDrainsAndReleases(t *testing.T) {
	k, kernelPKR := newTestKernel(t)
	handle := &recordingHandle{name: "fs"}
	k.RegisterSubsystem(handle)

	before := k.Pool().Stats()
	err := k.SendPooledProtected(kernelPKR, "fs://ping", map[string]any{"x": 1}, message.Options{}, security.SendOptions{})
	require.NoError(t, err)
	after := k.Pool().Stats()

	assert.Len(t, handle.accepted, 1)
	assert.Equal(t, before.Released+1, after.Released)
}
