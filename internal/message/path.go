package message

import (
	"strings"

	"mycelia/internal/kernelerr"
)

// Path grammar (spec.md §6, bit-exact, case-sensitive):
//
//	path      := subsystem "://" segment ("/" segment)*
//	subsystem := [A-Za-z][A-Za-z0-9_-]*
//	segment   := literal | "{" name "}" | "*"

// Subsystem returns the routing key (the segment before "://").
func Subsystem(path string) (string, error) {
	idx := strings.Index(path, "://")
	if idx <= 0 {
		return "", kernelerr.NewInvalidPath(path)
	}
	sub := path[:idx]
	if !isValidSubsystemName(sub) {
		return "", kernelerr.NewInvalidPath(path)
	}
	return sub, nil
}

// Segments returns the "/"-split segments after "://".
func Segments(path string) ([]string, error) {
	idx := strings.Index(path, "://")
	if idx <= 0 {
		return nil, kernelerr.NewInvalidPath(path)
	}
	rest := path[idx+3:]
	if rest == "" {
		return []string{}, nil
	}
	return strings.Split(rest, "/"), nil
}

func isValidSubsystemName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		case r == '_' || r == '-':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// IsOneShotPath reports whether path matches the reserved one-shot form
// "{subsystem}://request/oneShot/{messageId}".
func IsOneShotPath(path string) bool {
	segs, err := Segments(path)
	if err != nil || len(segs) < 3 {
		return false
	}
	return segs[0] == "request" && segs[1] == "oneShot"
}

// OneShotMessageID extracts {messageId} from a one-shot path, if present.
func OneShotMessageID(path string) (string, bool) {
	segs, err := Segments(path)
	if err != nil || len(segs) < 3 || segs[0] != "request" || segs[1] != "oneShot" {
		return "", false
	}
	return segs[2], true
}

// IsChannelPath reports whether the segment immediately after "://" is
// "channel", per spec.md §4.4. One-shot paths are never channel paths,
// even if they happen to start with "channel" (they cannot, by grammar,
// but the check is explicit to keep the two reserved forms disjoint).
func IsChannelPath(path string) bool {
	if IsOneShotPath(path) {
		return false
	}
	segs, err := Segments(path)
	if err != nil || len(segs) < 1 {
		return false
	}
	return segs[0] == "channel"
}

// ChannelName extracts the trailing segment under "{subsystem}://channel/".
func ChannelName(path string) (string, bool) {
	segs, err := Segments(path)
	if err != nil || len(segs) < 2 || segs[0] != "channel" {
		return "", false
	}
	return strings.Join(segs[1:], "/"), true
}

// OneShotReplyPath builds the reserved temporary reply path for a message.
func OneShotReplyPath(callerSubsystem, messageID string) string {
	return callerSubsystem + "://request/oneShot/" + messageID
}

// ChannelPath builds the canonical route for a named channel on subsystem.
func ChannelPath(subsystem, name string) string {
	return subsystem + "://channel/" + name
}

// Validate checks path against the grammar without allocating segments.
func Validate(path string) error {
	_, err := Subsystem(path)
	if err != nil {
		return err
	}
	_, err = Segments(path)
	return err
}
