// Package rule implements the match-rule grammar and table: parsing of
// key='value' rule specs, field-wise AND matching against in-flight
// messages, and the endpoint-to-rule registry the router consults on
// dispatch. "arg*" keys are rejected as not implemented rather than
// silently ignored.
package rule

import (
	"strings"

	bderrors "github.com/alljoyn-go/coredaemon/internal/errors"
)

// MessageType mirrors the four message kinds a rule can filter on.
type MessageType int

const (
	MessageInvalid MessageType = iota
	MessageSignal
	MessageMethodCall
	MessageMethodReturn
	MessageError
)

// Sessionless mirrors the rule's three-valued sessionless predicate: not
// specified (matches either), required true, or required false.
type Sessionless int

const (
	SessionlessNotSpecified Sessionless = iota
	SessionlessTrue
	SessionlessFalse
)

// Rule is a parsed match-rule: the fields of a rule, if specified, are
// logically anded together, so every non-zero/non-empty field must match
// for Matches to return true.
type Rule struct {
	Type        MessageType
	Sender      string
	Interface   string
	Member      string
	Path        string
	Destination string
	Sessionless Sessionless
}

// Message is the subset of an in-flight bus message a rule is matched
// against.
type Message struct {
	Type        MessageType
	Sender      string
	Interface   string
	Member      string
	Path        string
	Destination string
	IsSessionless bool
}

// Parse parses a comma-separated key='value' rule spec. Unknown keys
// fail with ValidationError; "arg*" keys fail with NotImplementedError.
func Parse(spec string) (Rule, error) {
	var r Rule
	pos := spec
	for len(pos) > 0 {
		end := strings.IndexByte(pos, ',')
		var clause string
		if end < 0 {
			clause = pos
			pos = ""
		} else {
			clause = pos[:end]
			pos = pos[end+1:]
		}

		eq := strings.IndexByte(clause, '=')
		if eq < 0 {
			return Rule{}, &bderrors.ValidationError{Field: "ruleSpec", Value: spec, Message: "premature end of ruleSpec"}
		}
		key := clause[:eq]
		rest := clause[eq+1:]

		begQuote := strings.IndexByte(rest, '\'')
		if begQuote < 0 {
			return Rule{}, &bderrors.ValidationError{Field: "ruleSpec", Value: spec, Message: "quote mismatch in ruleSpec"}
		}
		value := rest[begQuote+1:]
		endQuote := strings.IndexByte(value, '\'')
		if endQuote < 0 {
			return Rule{}, &bderrors.ValidationError{Field: "ruleSpec", Value: spec, Message: "quote mismatch in ruleSpec"}
		}
		value = value[:endQuote]

		switch {
		case key == "type":
			switch value {
			case "signal":
				r.Type = MessageSignal
			case "method_call":
				r.Type = MessageMethodCall
			case "method_return":
				r.Type = MessageMethodReturn
			case "error":
				r.Type = MessageError
			default:
				return Rule{}, &bderrors.ValidationError{Field: "type", Value: value, Message: "invalid type value in ruleSpec"}
			}
		case key == "sender":
			r.Sender = value
		case key == "interface":
			r.Interface = value
		case key == "member":
			r.Member = value
		case key == "path":
			r.Path = value
		case key == "destination":
			r.Destination = value
		case key == "sessionless":
			if len(value) > 0 && (value[0] == 't' || value[0] == 'T') {
				r.Sessionless = SessionlessTrue
			} else {
				r.Sessionless = SessionlessFalse
			}
		case strings.HasPrefix(key, "arg"):
			return Rule{}, &bderrors.NotImplementedError{Feature: "arg* match-rule keys"}
		default:
			return Rule{}, &bderrors.ValidationError{Field: "ruleSpec", Value: spec, Message: "invalid key in ruleSpec: " + key}
		}
	}
	return r, nil
}

// Matches reports whether msg satisfies every specified field of r.
func (r Rule) Matches(msg Message) bool {
	if r.Type != MessageInvalid && r.Type != msg.Type {
		return false
	}
	if r.Sender != "" && r.Sender != msg.Sender {
		return false
	}
	if r.Interface != "" && r.Interface != msg.Interface {
		return false
	}
	if r.Member != "" && r.Member != msg.Member {
		return false
	}
	if r.Path != "" && r.Path != msg.Path {
		return false
	}
	if r.Destination != "" && r.Destination != msg.Destination {
		return false
	}
	if (r.Sessionless == SessionlessTrue && !msg.IsSessionless) ||
		(r.Sessionless == SessionlessFalse && msg.IsSessionless) {
		return false
	}
	return true
}

// String renders the rule's sender, interface, member, path and
// destination fields in "s:... i:... m:... p:... d:..." form; empty fields
// are included, and type and sessionless are not shown.
func (r Rule) String() string {
	return "s:" + r.Sender + " i:" + r.Interface + " m:" + r.Member + " p:" + r.Path + " d:" + r.Destination
}
