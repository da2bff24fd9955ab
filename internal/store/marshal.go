package store

import (
	"fmt"

	"github.com/roach88/braid/internal/ir"
)

// marshalClock converts a vector clock to canonical JSON TEXT for storage.
func marshalClock(vc ir.VectorClock) (string, error) {
	doc := make(ir.Doc, len(vc))
	for w, seq := range vc {
		if seq > 1<<63-1 {
			return "", fmt.Errorf("marshal clock: seq %d of %s overflows", seq, w.Short())
		}
		doc[string(w)] = ir.Int(seq)
	}
	data, err := ir.MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("marshal clock: %w", err)
	}
	return string(data), nil
}

// unmarshalClock parses canonical JSON TEXT to a vector clock.
func unmarshalClock(data string) (ir.VectorClock, error) {
	if data == "" || data == "{}" {
		return ir.VectorClock{}, nil
	}
	doc, err := ir.ParseDoc([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal clock: %w", err)
	}
	vc := make(ir.VectorClock, len(doc))
	for w, v := range doc {
		n, ok := v.(ir.Int)
		if !ok || n < 0 {
			return nil, fmt.Errorf("unmarshal clock: bad seq for %s", w)
		}
		vc[ir.WriterKey(w)] = uint64(n)
	}
	return vc, nil
}
