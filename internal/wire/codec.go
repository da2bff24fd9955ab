package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrEmptyFrame is returned when decoding a zero-length frame.
var ErrEmptyFrame = errors.New("wire: empty frame")

var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// Encode renders v, which must be a pointer to a message type, as a frame.
func Encode(v any) ([]byte, error) {
	code, what, err := codeOf(v)
	if err != nil {
		return nil, err
	}
	payload, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", what, err)
	}
	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, code)
	return append(frame, payload...), nil
}

// Decode parses a frame and returns a pointer to the decoded message.
func Decode(frame []byte) (any, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	v, err := messageFor(frame[0])
	if err != nil {
		return nil, err
	}
	if err := decMode.Unmarshal(frame[1:], v); err != nil {
		return nil, fmt.Errorf("decode frame (%d): %w", frame[0], err)
	}
	return v, nil
}
