// Package dispatcher turns call envelopes into handler invocations. Unary
// calls return their result directly; streaming calls are acknowledged at
// once and deliver their items on the stream topic named by the call.
package dispatcher

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/morezero/streamcall/pkg/callerr"
	"github.com/morezero/streamcall/pkg/codec"
)

// CallRequest is a decoded call envelope.
type CallRequest struct {
	Prefix string
	Entry  []string
	Args   []any
	// Evt names the stream topic; empty for unary calls.
	Evt string
}

// Request is one incoming call as received by a transport.
type Request struct {
	Envelope     *codec.Envelope
	HTTPRequest  *http.Request
	HTTPResponse http.ResponseWriter
}

// Response is the immediate answer to a call. For unary calls Ret holds the
// encoded result; streaming calls only set Evt, or Err when they could not
// be started.
type Response struct {
	Ret *codec.Envelope      `json:"ret,omitempty"`
	Evt string               `json:"evt,omitempty"`
	Err *callerr.ErrorDetail `json:"err,omitempty"`
}

// EncodeCall builds the envelope of a call.
func EncodeCall(c *CallRequest) (*codec.Envelope, error) {
	entry := make([]any, len(c.Entry))
	for i, s := range c.Entry {
		entry[i] = s
	}
	args := c.Args
	if args == nil {
		args = []any{}
	}
	meta := map[string]any{"entry": entry, "args": args}
	if c.Prefix != "" {
		meta["prefix"] = c.Prefix
	}
	if c.Evt != "" {
		meta["evt"] = c.Evt
	}
	return codec.Encode(meta)
}

// DecodeCall parses a call envelope. The entry may be an array of segments
// or a dotted string.
func DecodeCall(env *codec.Envelope) (*CallRequest, error) {
	v, err := codec.Decode(env)
	if err != nil {
		return nil, callerr.Codec(err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, callerr.Invalid("call envelope must be an object")
	}

	call := &CallRequest{}
	switch e := m["entry"].(type) {
	case string:
		if e != "" {
			call.Entry = strings.Split(e, ".")
		}
	case []any:
		for _, seg := range e {
			s, ok := seg.(string)
			if !ok {
				return nil, callerr.Invalid("entry segments must be strings")
			}
			call.Entry = append(call.Entry, s)
		}
	case nil:
	default:
		return nil, callerr.Invalid("entry must be an array of strings")
	}
	if len(call.Entry) == 0 {
		return nil, callerr.Invalid("entry is required")
	}

	switch a := m["args"].(type) {
	case []any:
		call.Args = a
	case nil:
		call.Args = []any{}
	default:
		return nil, callerr.Invalid("args must be an array")
	}

	if p, ok := m["prefix"]; ok && p != nil {
		s, ok := p.(string)
		if !ok {
			return nil, callerr.Invalid("prefix must be a string")
		}
		call.Prefix = s
	}
	if e, ok := m["evt"]; ok && e != nil {
		s, ok := e.(string)
		if !ok {
			return nil, callerr.Invalid("evt must be a string")
		}
		call.Evt = s
	}
	return call, nil
}

// PeekEvt reads the stream token from an envelope that may not decode.
func PeekEvt(env *codec.Envelope) string {
	if env == nil {
		return ""
	}
	var head struct {
		Evt string `json:"evt"`
	}
	if err := json.Unmarshal(env.Meta, &head); err != nil {
		return ""
	}
	return head.Evt
}
