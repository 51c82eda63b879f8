package message

// Type enumerates the fixed `type` field of spec.md §3.
type Type string

const (
	TypeSimple      Type = "simple"
	TypeAtomic      Type = "atomic"
	TypeBatch       Type = "batch"
	TypeQuery       Type = "query"
	TypeCommand     Type = "command"
	TypeRetry       Type = "retry"
	TypeTransaction Type = "transaction"
	TypeResponse    Type = "response"
)

// FixedMeta holds the fields that are immutable for a given message
// identity once construction completes (spec.md §3). Implementers must
// not mutate these after NewMessage/Pool.Acquire returns.
type FixedMeta struct {
	TimestampUnixNano int64
	Type              Type
	TraceID           string
	SenderID          string // PKR uuid, optional
	Transaction       string // optional transaction id
	Seq               *int64
	IsAtomic          bool
	IsBatch           bool
	IsQuery           bool
	IsCommand         bool
	IsError           bool
	MaxRetries        *int
	Caller            string // opaque caller descriptor, optional
	IsResponse        bool
	InReplyTo         string // correlation id this message answers, optional
}

// MutableMeta holds fields the routing/handler chain may update in place.
type MutableMeta struct {
	Retries          int
	QueryResult      any
	ReplyTo          string // transient routing hint
	ResponseRequired bool   // transient routing hint
}

// Meta is the full metadata envelope of a Message.
type Meta struct {
	Fixed   FixedMeta
	Mutable MutableMeta
}

// Error describes a structured error carried in a synthetic or ordinary
// error response body, per spec.md §4.5 and §7.
type Error struct {
	Kind      string `json:"kind"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
	Detail    string `json:"detail,omitempty"`
}
