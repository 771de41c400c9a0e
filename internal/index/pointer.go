package index

import "sync/atomic"

// Index holds the current snapshot pointer. The zero value is usable and
// serves empty results until the first Swap.
type Index struct {
	current atomic.Pointer[Snapshot]
}

// Current returns the live snapshot, or nil before the first publish.
func (ix *Index) Current() *Snapshot {
	return ix.current.Load()
}

// Swap publishes a snapshot. In-flight queries keep reading whichever
// generation they loaded.
func (ix *Index) Swap(s *Snapshot) {
	ix.current.Store(s)
}

// Search queries the live snapshot. Returns nil when no snapshot has been
// published yet.
func (ix *Index) Search(query []float32, k int) []Hit {
	return ix.current.Load().Search(query, k)
}
