package controlplane

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"mycelia/internal/message"
	"mycelia/internal/security"
	"mycelia/internal/system"
)

func newTestSystemWithEcho(t *testing.T) (*system.System, func()) {
	t.Helper()
	sys, err := system.Bootstrap(nil, system.DefaultConfig())
	require.NoError(t, err)

	echo, err := sys.RegisterSubsystem("echo", system.RegisterSubsystemOptions{Kind: security.KindTopLevel})
	require.NoError(t, err)
	echo.Routes().Register("ping", func(msg *message.Message, params map[string]string, opts security.SendOptions) (any, error) {
		if opts.ResponseRequired != nil {
			resp, err := message.NewMessage(opts.ResponseRequired.ReplyTo, "pong", message.Options{
				Type:       message.TypeResponse,
				IsResponse: true,
				InReplyTo:  msg.ID(),
			})
			if err != nil {
				return nil, err
			}
			_ = echo.Identity().SendProtected(resp, security.SendOptions{IsResponse: true})
		}
		return "pong", nil
	})

	return sys, func() { _ = sys.Dispose() }
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleSubsystemsListsRegistered(t *testing.T) {
	sys, cleanup := newTestSystemWithEcho(t)
	defer cleanup()
	cp := New(sys, nil, nil)

	rec := doJSON(t, cp.Handler(), http.MethodGet, "/subsystems", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var views []subsystemView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "echo", views[0].Name)
	assert.Equal(t, "active", views[0].State)
}

func TestHandleSubsystemUnknownReturns404(t *testing.T) {
	sys, cleanup := newTestSystemWithEcho(t)
	defer cleanup()
	cp := New(sys, nil, nil)

	rec := doJSON(t, cp.Handler(), http.MethodGet, "/subsystems/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSendRoutesAndDrainsThroughPool(t *testing.T) {
	sys, cleanup := newTestSystemWithEcho(t)
	defer cleanup()
	cp := New(sys, nil, nil)

	rec := doJSON(t, cp.Handler(), http.MethodPost, "/send", sendRequest{From: "echo", To: "echo://ping"})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp sendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
}

func TestHandleSendUnknownFromReturns404(t *testing.T) {
	sys, cleanup := newTestSystemWithEcho(t)
	defer cleanup()
	cp := New(sys, nil, nil)

	rec := doJSON(t, cp.Handler(), http.MethodPost, "/send", sendRequest{From: "ghost", To: "echo://ping"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleOneShotReturnsReply(t *testing.T) {
	sys, cleanup := newTestSystemWithEcho(t)
	defer cleanup()
	sys.Scheduler().Start()

	cp := New(sys, nil, nil)
	rec := doJSON(t, cp.Handler(), http.MethodPost, "/oneshot", oneShotRequest{From: "echo", To: "echo://ping", TimeoutMs: 2000})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp oneShotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "pong", resp.Reply)
}

func TestHandleAuditWithoutReaderReturns501(t *testing.T) {
	sys, cleanup := newTestSystemWithEcho(t)
	defer cleanup()
	cp := New(sys, nil, nil)

	rec := doJSON(t, cp.Handler(), http.MethodGet, "/audit", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHandleDumpRendersYAMLWithSubsystemAndChannels(t *testing.T) {
	sys, cleanup := newTestSystemWithEcho(t)
	defer cleanup()

	echo, ok := sys.Subsystem("echo")
	require.True(t, ok)
	_, err := sys.Kernel().Channels().RegisterChannel("echo://channel/room", echo.Identity().PKR(), nil, nil)
	require.NoError(t, err)

	cp := New(sys, nil, nil)
	rec := doJSON(t, cp.Handler(), http.MethodGet, "/dump", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))

	var dump systemDump
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &dump))
	require.Len(t, dump.Subsystems, 1)
	assert.Equal(t, "echo", dump.Subsystems[0].Name)
	require.Len(t, dump.Channels, 1)
	assert.Equal(t, "echo://channel/room", dump.Channels[0].Route)
}

func TestHandleAuditDelegatesToReader(t *testing.T) {
	sys, cleanup := newTestSystemWithEcho(t)
	defer cleanup()

	reader := func(limit int) ([]AuditEntry, error) {
		return []AuditEntry{{CorrelationID: "c1", Outcome: "resolved"}}, nil
	}
	cp := New(sys, reader, nil)

	rec := doJSON(t, cp.Handler(), http.MethodGet, "/audit", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var rows []AuditEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "c1", rows[0].CorrelationID)
}
