package kernel

import (
	"mycelia/internal/message"
	"mycelia/internal/security"
)

// SubsystemHandle is the narrow surface the kernel needs from a subsystem
// to route a message into it (spec.md §4.6 step 6, §4.8's Processor).
// Implemented by subsystem.Subsystem; kept here as an interface so the
// kernel package never imports the subsystem package.
type SubsystemHandle interface {
	Name() string
	Accept(msg *message.Message, opts security.SendOptions) error
}

// Options configures a Kernel.
type Options struct {
	Debug            bool
	ResponseTimeout  int64 // default timeoutMs used when opts.ResponseRequired omits one
	MaxPendingReplies int
}
