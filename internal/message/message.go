// Package message defines Mycelia's wire-level unit of communication: the
// Message and its split fixed/mutable metadata, the pooled allocator that
// reuses them, and the path grammar messages are addressed by. Grounded on
// the teacher's kernel.Message (internal/kernel/kernel_types.go) and
// generalized from an actor-mailbox envelope into the richer
// {id, path, body, meta} shape spec.md §3 requires.
package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
)

// Message is {id, path, body, meta}. id and path are fixed at construction
// (invariant I1, spec.md §8); callers read them through ID()/Path() rather
// than touching fields directly, which keeps the invariant enforceable even
// when a Message is reused by the pool.
type Message struct {
	id   string
	path string
	Body any
	Meta Meta
}

// Options customizes NewMessage / Pool.Acquire.
type Options struct {
	Type        Type
	ParentTrace string // inherit a parent's traceId instead of minting one
	SenderID    string
	IsAtomic    bool
	IsBatch     bool
	IsQuery     bool
	IsCommand   bool
	IsError     bool
	MaxRetries  *int
	Caller      string
	IsResponse  bool
	InReplyTo   string
	Transaction string
	Seq         *int64
}

// NewMessage constructs a fresh Message with a new globally unique id.
func NewMessage(path string, body any, opts Options) (*Message, error) {
	if err := Validate(path); err != nil {
		return nil, err
	}
	if err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(path, "path"),
	).Check(); err != nil {
		return nil, err
	}

	traceID := opts.ParentTrace
	if traceID == "" {
		traceID = uuid.NewString()
	}

	msgType := opts.Type
	if msgType == "" {
		msgType = TypeSimple
	}

	return &Message{
		id:   uuid.NewString(),
		path: path,
		Body: body,
		Meta: Meta{
			Fixed: FixedMeta{
				TimestampUnixNano: time.Now().UnixNano(),
				Type:              msgType,
				TraceID:           traceID,
				SenderID:          opts.SenderID,
				Transaction:       opts.Transaction,
				Seq:               opts.Seq,
				IsAtomic:          opts.IsAtomic,
				IsBatch:           opts.IsBatch,
				IsQuery:           opts.IsQuery,
				IsCommand:         opts.IsCommand,
				IsError:           opts.IsError,
				MaxRetries:        opts.MaxRetries,
				Caller:            opts.Caller,
				IsResponse:        opts.IsResponse,
				InReplyTo:         opts.InReplyTo,
			},
		},
	}, nil
}

// ID returns the message's globally unique identity, fixed at construction.
func (m *Message) ID() string { return m.id }

// Path returns the message's routing path, fixed at construction.
func (m *Message) Path() string { return m.path }

// Clone returns a new Message with a fresh id, equal path/body/fixed meta,
// and zeroed mutable meta (spec.md §8 round-trip property).
func (m *Message) Clone() *Message {
	return &Message{
		id:   uuid.NewString(),
		path: m.path,
		Body: m.Body,
		Meta: Meta{Fixed: m.Meta.Fixed},
	}
}

// wireMeta mirrors spec.md §6's wire shape: meta.fixed / meta.mutable.
type wireMeta struct {
	Fixed   FixedMeta   `json:"fixed"`
	Mutable MutableMeta `json:"mutable"`
}

type wireMessage struct {
	ID   string   `json:"id"`
	Path string   `json:"path"`
	Body any      `json:"body"`
	Meta wireMeta `json:"meta"`
}

// ToJSON renders the pool-independent wire shape from spec.md §6.
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		ID:   m.id,
		Path: m.path,
		Body: m.Body,
		Meta: wireMeta{Fixed: m.Meta.Fixed, Mutable: m.Meta.Mutable},
	})
}

// FromJSON parses the wire shape back into a Message. Round-tripping
// preserves id, path, body, and fixed meta (mutable meta is pool/runtime
// scoped and intentionally excluded from the equality spec.md §8 demands).
func FromJSON(data []byte) (*Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &Message{
		id:   w.ID,
		path: w.Path,
		Body: w.Body,
		Meta: Meta{Fixed: w.Meta.Fixed, Mutable: w.Meta.Mutable},
	}, nil
}

// resetForAcquire reinitializes a reused instance in place, assigning a
// logically fresh id as required by the pool's contract (spec.md §4.1):
// "acquirers receive a logically fresh id."
func (m *Message) resetForAcquire(path string, body any, opts Options) error {
	if err := Validate(path); err != nil {
		return err
	}
	traceID := opts.ParentTrace
	if traceID == "" {
		traceID = uuid.NewString()
	}
	msgType := opts.Type
	if msgType == "" {
		msgType = TypeSimple
	}
	m.id = uuid.NewString()
	m.path = path
	m.Body = body
	m.Meta = Meta{
		Fixed: FixedMeta{
			TimestampUnixNano: time.Now().UnixNano(),
			Type:              msgType,
			TraceID:           traceID,
			SenderID:          opts.SenderID,
			Transaction:       opts.Transaction,
			Seq:               opts.Seq,
			IsAtomic:          opts.IsAtomic,
			IsBatch:           opts.IsBatch,
			IsQuery:           opts.IsQuery,
			IsCommand:         opts.IsCommand,
			IsError:           opts.IsError,
			MaxRetries:        opts.MaxRetries,
			Caller:            opts.Caller,
			IsResponse:        opts.IsResponse,
			InReplyTo:         opts.InReplyTo,
		},
	}
	return nil
}

// clearForRelease drops body and routing hints, per the pool's release
// contract (spec.md §4.1): "release clears body and mutable meta."
func (m *Message) clearForRelease() {
	m.Body = nil
	m.Meta.Mutable = MutableMeta{}
}
