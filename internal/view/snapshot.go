package view

// Snapshot is a persisted view. It is only a cache: it is used when its
// Digest matches the order digest recomputed from the stored entries and
// it was written by the same engine version.
type Snapshot struct {
	Digest        string
	Length        int
	EngineVersion string
	Data          []byte
}

// Decode returns the snapshot's view.
func (s Snapshot) Decode() (*View, error) {
	return UnmarshalSnapshot(s.Data)
}
