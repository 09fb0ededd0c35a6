// Package stream carries incremental call results over the bus. Every stream
// lives on its own topic, named by a token (the evt) the caller generates.
// A producer emits value and error messages and closes the stream with
// exactly one done message; consumers see messages in emission order.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/morezero/streamcall/pkg/callerr"
	"github.com/morezero/streamcall/pkg/codec"
)

const logPrefix = "stream:message"

// CancelTopicPrefix prefixes the topic a consumer emits on to stop a producer.
const CancelTopicPrefix = "cancel."

// WorkerRef names the offload worker that produced a stream.
type WorkerRef struct {
	Name      string `json:"name" cbor:"name"`
	Namespace string `json:"namespace" cbor:"namespace"`
}

// Message is one frame on a stream topic. Exactly one of Value, Err and
// Done is meaningful.
type Message struct {
	Value     *codec.Envelope      `json:"value,omitempty"`
	Err       *callerr.ErrorDetail `json:"err,omitempty"`
	Done      bool                 `json:"done,omitempty"`
	Cancelled bool                 `json:"cancelled,omitempty"`
	Worker    *WorkerRef           `json:"worker,omitempty"`
}

// NewEvt returns a fresh stream token.
func NewEvt() string {
	return uuid.NewString()
}

// CancelTopic returns the cancellation topic of evt.
func CancelTopic(evt string) string {
	return CancelTopicPrefix + evt
}

// Marshal encodes a message for the bus.
func Marshal(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode message: %w", logPrefix, err)
	}
	return data, nil
}

// Unmarshal decodes a bus payload.
func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s - failed to decode message: %w", logPrefix, err)
	}
	return &m, nil
}

// Result turns a value or error message into what a consumer returns. It is
// not meant for done messages.
func (m *Message) Result() (any, error) {
	if m.Err != nil {
		return nil, callerr.Remote(m.Err)
	}
	if m.Value == nil {
		return nil, nil
	}
	v, err := codec.Decode(m.Value)
	if err != nil {
		return nil, callerr.Codec(err)
	}
	return v, nil
}
