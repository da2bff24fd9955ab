package gossip

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var errInvalidEnvelope = errors.New("gossip: invalid envelope")

const (
	kindDirect byte = 1
	kindTopic  byte = 2
)

// envelope is what travels inside one memberlist user message.
type envelope struct {
	Kind  byte   `cbor:"-"`
	Topic string `cbor:"1,keyasint,omitempty"`
	From  string `cbor:"2,keyasint"`
	Data  []byte `cbor:"3,keyasint"`
}

// meta is advertised through memberlist node metadata.
type meta struct {
	Discovery string `cbor:"1,keyasint,omitempty"`
}

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
	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

func (e envelope) encode() ([]byte, error) {
	if e.Kind != kindDirect && e.Kind != kindTopic {
		return nil, fmt.Errorf("%w: kind %d", errInvalidEnvelope, e.Kind)
	}
	body, err := encMode.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, e.Kind)
	return append(out, body...), nil
}

func decodeEnvelope(buf []byte) (envelope, error) {
	if len(buf) < 2 {
		return envelope{}, errInvalidEnvelope
	}
	var e envelope
	if err := decMode.Unmarshal(buf[1:], &e); err != nil {
		return envelope{}, fmt.Errorf("%w: %w", errInvalidEnvelope, err)
	}
	e.Kind = buf[0]
	switch e.Kind {
	case kindDirect:
		if e.Topic != "" {
			return envelope{}, fmt.Errorf("%w: direct frame with topic", errInvalidEnvelope)
		}
	case kindTopic:
		if e.Topic == "" {
			return envelope{}, fmt.Errorf("%w: topic frame without topic", errInvalidEnvelope)
		}
	default:
		return envelope{}, fmt.Errorf("%w: kind %d", errInvalidEnvelope, e.Kind)
	}
	return e, nil
}

func encodeMeta(discovery string) []byte {
	b, err := encMode.Marshal(meta{Discovery: discovery})
	if err != nil {
		return nil
	}
	return b
}

func decodeMeta(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var m meta
	if err := decMode.Unmarshal(b, &m); err != nil {
		return ""
	}
	return m.Discovery
}
