package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mycelia/internal/message"
	"mycelia/internal/security"
)

func newTestSystem(t *testing.T) *System {
	t.Helper()
	sys, err := Bootstrap(nil, DefaultConfig())
	require.NoError(t, err)
	return sys
}

func TestBootstrapRegistersKernelSubsystem(t *testing.T) {
	sys := newTestSystem(t)
	pkr, ok := sys.Registry().ByName("kernel")
	require.True(t, ok)
	assert.Equal(t, security.KindKernel, pkr.Kind)
}

func TestRegisterSubsystemWiresIdentityAndSchedules(t *testing.T) {
	sys := newTestSystem(t)

	fs, err := sys.RegisterSubsystem("fs", RegisterSubsystemOptions{Kind: security.KindTopLevel})
	require.NoError(t, err)

	called := false
	fs.Routes().Register("ping", func(msg *message.Message, params map[string]string, opts security.SendOptions) (any, error) {
		called = true
		return nil, nil
	})

	err = sys.Kernel().SendProtected(fs.Identity().PKR(), mustMessage(t, "fs://ping"), security.SendOptions{})
	require.NoError(t, err)

	sys.Scheduler().Tick()
	assert.True(t, called)
}

func TestRegisterSubsystemWiresChildUnderParent(t *testing.T) {
	sys := newTestSystem(t)

	parent, err := sys.RegisterSubsystem("fs", RegisterSubsystemOptions{Kind: security.KindTopLevel})
	require.NoError(t, err)

	child, err := sys.RegisterSubsystem("fs.cache", RegisterSubsystemOptions{
		Kind:  security.KindChild,
		Owner: parent.Identity().PKR(),
	})
	require.NoError(t, err)

	assert.Equal(t, parent, child.Parent())
	require.Len(t, parent.Children(), 1)
	assert.Equal(t, child, parent.Children()[0])
}

func TestDisposeStopsSchedulerAndIsIdempotent(t *testing.T) {
	sys := newTestSystem(t)
	_, err := sys.RegisterSubsystem("fs", RegisterSubsystemOptions{Kind: security.KindTopLevel})
	require.NoError(t, err)

	require.NoError(t, sys.Dispose())
	require.NoError(t, sys.Dispose())
}

func TestPoolStatsReflectWarmup(t *testing.T) {
	sys := newTestSystem(t)
	sys.WarmupPool(4)
	stats := sys.PoolStats()
	assert.Equal(t, 4, stats.PoolSize)
}

func mustMessage(t *testing.T, path string) *message.Message {
	t.Helper()
	msg, err := message.NewMessage(path, nil, message.Options{})
	require.NoError(t, err)
	return msg
}
