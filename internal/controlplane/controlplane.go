// Package controlplane exposes a debug HTTP surface over a running
// system.System: listing subsystems, sending a message as if some
// subsystem sent it, issuing a one-shot request/response round-trip, and
// inspecting the audit ledger. Grounded on the teacher's
// internal/privileged/control_plane.go (/actors, /send, /repl/eval),
// rebuilt on gorilla/mux in place of the teacher's bare net/http
// DefaultServeMux the rest of the dependency pack favors for routed HTTP
// (e.g. mux path variables for /subsystems/{name}), and generalized from
// the teacher's single global actor table to the kernel's named
// subsystems.
package controlplane

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v3"

	"mycelia/internal/message"
	"mycelia/internal/security"
	"mycelia/internal/subsystem"
	"mycelia/internal/system"
	"mycelia/internal/telemetry"
	"mycelia/internal/util/future"
)

// AuditEntry mirrors the row shape both internal/store/sqlite and
// internal/store/mysql persist, kept here so this package never imports
// either store implementation directly.
type AuditEntry struct {
	CorrelationID string    `json:"correlationId"`
	OwnerPKR      string    `json:"ownerPkr"`
	ReplyTo       string    `json:"replyTo"`
	TimeoutMs     int64     `json:"timeoutMs"`
	CreatedAt     time.Time `json:"createdAt"`
	Outcome       string    `json:"outcome"`
	RecordedAt    time.Time `json:"recordedAt"`
}

// AuditReader fetches the most recent audit rows, newest first. Callers
// wire their chosen store's Recent method in as this adapter; nil means
// the /audit endpoint reports 501.
type AuditReader func(limit int) ([]AuditEntry, error)

// ControlPlane serves the debug HTTP surface for one system.System.
type ControlPlane struct {
	sys    *system.System
	router *mux.Router
	audit  AuditReader
	log    *telemetry.Logger
}

// New builds a ControlPlane and registers its routes. audit may be nil.
func New(sys *system.System, audit AuditReader, log *telemetry.Logger) *ControlPlane {
	if log == nil {
		log = telemetry.NewNop()
	}
	c := &ControlPlane{sys: sys, router: mux.NewRouter(), audit: audit, log: log.With("component", "controlplane")}
	c.routes()
	return c
}

// Handler returns the http.Handler serving every registered route, for
// callers that want to mount it themselves or wrap it in middleware.
func (c *ControlPlane) Handler() http.Handler { return c.router }

// Serve starts listening on addr in a background goroutine. Errors other
// than http.ErrServerClosed are logged, not fatal: a debug surface going
// down must never take the process with it.
func (c *ControlPlane) Serve(addr string) {
	srv := &http.Server{Addr: addr, Handler: c.router}
	c.log.Info().Str("addr", addr).Msg("control plane listening")
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.log.Error().Err(err).Msg("control plane server stopped")
		}
	}()
}

func (c *ControlPlane) routes() {
	c.router.HandleFunc("/subsystems", c.handleSubsystems).Methods(http.MethodGet)
	c.router.HandleFunc("/subsystems/{name}", c.handleSubsystem).Methods(http.MethodGet)
	c.router.HandleFunc("/send", c.handleSend).Methods(http.MethodPost)
	c.router.HandleFunc("/oneshot", c.handleOneShot).Methods(http.MethodPost)
	c.router.HandleFunc("/audit", c.handleAudit).Methods(http.MethodGet)
	c.router.HandleFunc("/dump", c.handleDump).Methods(http.MethodGet)
}

type subsystemView struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Children int    `json:"children"`
	Stats    struct {
		Processed  uint64 `json:"processed"`
		Failed     uint64 `json:"failed"`
		Dispatched uint64 `json:"dispatched"`
	} `json:"stats"`
}

func (c *ControlPlane) handleSubsystems(w http.ResponseWriter, r *http.Request) {
	names := c.sys.SubsystemNames()
	out := make([]subsystemView, 0, len(names))
	for _, name := range names {
		sub, ok := c.sys.Subsystem(name)
		if !ok {
			continue
		}
		out = append(out, viewOf(name, sub))
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *ControlPlane) handleSubsystem(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	sub, ok := c.sys.Subsystem(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown subsystem: " + name})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(name, sub))
}

func viewOf(name string, sub *subsystem.Subsystem) subsystemView {
	stats := sub.Stats()
	v := subsystemView{Name: name, State: string(sub.State()), Children: len(sub.Children())}
	v.Stats.Processed = stats.Processed
	v.Stats.Failed = stats.Failed
	v.Stats.Dispatched = stats.Dispatched
	return v
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Payload any    `json:"payload"`
}

type sendResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (c *ControlPlane) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, sendResponse{Error: err.Error()})
		return
	}
	fromSub, ok := c.sys.Subsystem(req.From)
	if !ok {
		writeJSON(w, http.StatusNotFound, sendResponse{Error: "unknown from subsystem: " + req.From})
		return
	}
	callerPKR := fromSub.Identity().PKR()
	err := c.sys.Kernel().SendPooledProtected(callerPKR, req.To, req.Payload, message.Options{}, security.SendOptions{CallerID: callerPKR})
	if err != nil {
		writeJSON(w, http.StatusForbidden, sendResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{OK: true})
}

type oneShotRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Payload   any    `json:"payload"`
	TimeoutMs int64  `json:"timeoutMs"`
}

type oneShotResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Reply any    `json:"reply,omitempty"`
}

func (c *ControlPlane) handleOneShot(w http.ResponseWriter, r *http.Request) {
	var req oneShotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, oneShotResponse{Error: err.Error()})
		return
	}
	if req.TimeoutMs <= 0 {
		req.TimeoutMs = 5000
	}
	fromSub, ok := c.sys.Subsystem(req.From)
	if !ok {
		writeJSON(w, http.StatusNotFound, oneShotResponse{Error: "unknown from subsystem: " + req.From})
		return
	}
	msg, err := message.NewMessage(req.To, req.Payload, message.Options{})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, oneShotResponse{Error: err.Error()})
		return
	}

	// The kernel already enforces req.TimeoutMs internally; this future gives
	// the HTTP layer its own bound so a wedged dispatch can never hold the
	// request open past the caller's patience, independent of that internal
	// accounting.
	call := future.New(func() (*message.Message, error) {
		return c.sys.Kernel().OneShotRequest(fromSub.Identity().PKR(), req.From, msg, req.TimeoutMs)
	})
	reply, err, ok := call.AwaitTimeout(time.Duration(req.TimeoutMs)*time.Millisecond + 500*time.Millisecond)
	if !ok {
		writeJSON(w, http.StatusGatewayTimeout, oneShotResponse{Error: "control plane wait exceeded timeout"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusGatewayTimeout, oneShotResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, oneShotResponse{OK: true, Reply: reply.Body})
}

func (c *ControlPlane) handleAudit(w http.ResponseWriter, r *http.Request) {
	if c.audit == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "no audit store configured"})
		return
	}
	limit := 50
	rows, err := c.audit(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// channelDump and pkrDump are the YAML-serializable shapes handleDump
// emits; PublicKey/PrivateKey are opaque reference tokens (spec.md §1
// disclaims real cryptography), so only their pointer identity is dumped,
// formatted as a stable debug string rather than a struct.
type channelDump struct {
	Route        string   `yaml:"route"`
	OwnerUUID    string   `yaml:"ownerUuid"`
	Participants []string `yaml:"participants"`
}

type pkrDump struct {
	Name      string `yaml:"name"`
	UUID      string `yaml:"uuid"`
	Kind      string `yaml:"kind"`
	PublicKey string `yaml:"publicKey"`
}

type systemDump struct {
	Subsystems []pkrDump     `yaml:"subsystems"`
	Channels   []channelDump `yaml:"channels"`
}

// handleDump renders a YAML snapshot of every registered subsystem's PKR
// and every registered channel's route/owner/participants, for operators
// inspecting a running process without a debugger attached.
func (c *ControlPlane) handleDump(w http.ResponseWriter, r *http.Request) {
	names := c.sys.SubsystemNames()
	subs := make([]pkrDump, 0, len(names))
	for _, name := range names {
		sub, ok := c.sys.Subsystem(name)
		if !ok {
			continue
		}
		pkr := sub.Identity().PKR()
		subs = append(subs, pkrDump{
			Name:      pkr.Name,
			UUID:      pkr.UUID,
			Kind:      string(pkr.Kind),
			PublicKey: fmt.Sprintf("%p", pkr.PublicKey),
		})
	}

	channels := c.sys.Kernel().Channels().All()
	chDumps := make([]channelDump, 0, len(channels))
	for _, ch := range channels {
		participants := make([]string, 0, len(ch.Participants))
		for uuid := range ch.Participants {
			participants = append(participants, uuid)
		}
		chDumps = append(chDumps, channelDump{
			Route:        ch.Route,
			OwnerUUID:    ch.OwnerPKR.UUID,
			Participants: participants,
		})
	}

	writeYAML(w, http.StatusOK, systemDump{Subsystems: subs, Channels: chDumps})
}

func writeYAML(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(status)
	_ = yaml.NewEncoder(w).Encode(v)
}
