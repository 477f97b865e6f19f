package mrf

// ChangeTracker records, per voxel, whether its label changed in the previous
// iteration. Flags for the iteration in progress are written to a second
// buffer and become visible only after Advance, so a sweep never observes its
// own changes.
type ChangeTracker struct {
	prev []bool
	curr []bool

	// all is set until the first Advance; every voxel is then eligible.
	all bool
}

// NewChangeTracker allocates flags for n voxels, in the reset state.
func NewChangeTracker(n int) *ChangeTracker {
	return &ChangeTracker{
		prev: make([]bool, n),
		curr: make([]bool, n),
		all:  true,
	}
}

// Reset clears every flag and marks all voxels eligible again.
func (t *ChangeTracker) Reset() {
	clear(t.prev)
	clear(t.curr)
	t.all = true
}

// Len is the number of tracked voxels.
func (t *ChangeTracker) Len() int {
	return len(t.prev)
}

// Mark records the outcome for voxel in the current iteration. Distinct
// voxels may be marked concurrently.
func (t *ChangeTracker) Mark(voxel int, changed bool) {
	t.curr[voxel] = changed
}

// Changed reports whether voxel changed in the previous iteration.
func (t *ChangeTracker) Changed(voxel int) bool {
	return t.prev[voxel]
}

// NeedsUpdate reports whether voxel has to be re-evaluated: always before the
// first Advance, afterwards only if it or one of its neighbours changed.
func (t *ChangeTracker) NeedsUpdate(voxel int, neighbors []Neighbor) bool {
	if t.all || t.prev[voxel] {
		return true
	}
	for _, n := range neighbors {
		if t.prev[n.Index] {
			return true
		}
	}
	return false
}

// Advance publishes the current iteration's flags and clears the buffer for
// the next one. Voxels that were not marked count as unchanged.
func (t *ChangeTracker) Advance() {
	t.prev, t.curr = t.curr, t.prev
	clear(t.curr)
	t.all = false
}

// Discard drops the flags of an aborted iteration.
func (t *ChangeTracker) Discard() {
	clear(t.curr)
}
