package vm

// A FrameRegistry tracks, for every physical frame, how many valid page
// table entries reference it across all processes. A frame is free if and
// only if its mapcount is zero.
type FrameRegistry struct {
	mapcounts []uint32
}

// NewFrameRegistry creates a registry for the given number of physical
// frames, all initially free.
func NewFrameRegistry(numFrames int) *FrameRegistry {
	return &FrameRegistry{
		mapcounts: make([]uint32, numFrames),
	}
}

// NumFrames returns the number of physical frames tracked.
func (r *FrameRegistry) NumFrames() int {
	return len(r.mapcounts)
}

// MapCount returns the number of valid mappings that reference the frame.
func (r *FrameRegistry) MapCount(frame uint64) uint32 {
	return r.mapcounts[frame]
}

// FindFree returns the lowest-indexed free frame. The bool return value is
// false when every frame is mapped.
func (r *FrameRegistry) FindFree() (uint64, bool) {
	for f := range r.mapcounts {
		if r.mapcounts[f] == 0 {
			return uint64(f), true
		}
	}

	return 0, false
}

// Retain records one more mapping referencing the frame.
func (r *FrameRegistry) Retain(frame uint64) {
	r.mapcounts[frame]++
}

// Release records the removal of one mapping referencing the frame. When the
// count reaches zero the frame is free again; there is no separate free
// list.
func (r *FrameRegistry) Release(frame uint64) {
	if r.mapcounts[frame] == 0 {
		panic("releasing a frame that has no mapping")
	}

	r.mapcounts[frame]--
}
