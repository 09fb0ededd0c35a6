package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

type frame struct {
	Meta  []byte `cbor:"1,keyasint"`
	Blobs []Part `cbor:"2,keyasint,omitempty"`
}

// MarshalFrame packs env into a single CBOR frame for hand-off between processes.
func MarshalFrame(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, errorf("", "nil envelope")
	}
	data, err := cbor.Marshal(frame{Meta: env.Meta, Blobs: env.Blobs})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to marshal frame: %w", logPrefix, err)
	}
	return data, nil
}

// UnmarshalFrame reverses MarshalFrame.
func UnmarshalFrame(data []byte) (*Envelope, error) {
	var f frame
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, &Error{Message: fmt.Sprintf("invalid frame: %v", err)}
	}
	if len(f.Meta) == 0 {
		return nil, &Error{Message: "frame has no meta"}
	}
	return &Envelope{Meta: f.Meta, Blobs: f.Blobs}, nil
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
