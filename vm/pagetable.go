package vm

// A PTE is the full permission and mapping record for one virtual page
// within one process. The Frame field is meaningful only while Valid is set.
type PTE struct {
	Valid    bool
	Writable bool
	Private  bool
	Frame    uint64
}

// PTEState is the classification view of a PTE that the fault resolver works
// with. The three booleans remain the stored representation; the state tag
// rules out illegal combinations when deciding how to service a fault.
type PTEState int

// The possible states of a PTE.
const (
	PTEAbsent PTEState = iota
	PTEExclusiveWritable
	PTEExclusiveReadOnly
	PTESharedCOW
)

// State classifies the entry. An entry marked private is SharedCOW even if
// its frame's mapcount has dropped back to one; the resolver distinguishes
// the split and the collapse case by consulting the frame registry.
func (pte *PTE) State() PTEState {
	switch {
	case !pte.Valid:
		return PTEAbsent
	case pte.Private:
		return PTESharedCOW
	case pte.Writable:
		return PTEExclusiveWritable
	default:
		return PTEExclusiveReadOnly
	}
}

// A Directory is the inner level of the page table. It holds the entries for
// one aligned group of virtual pages.
type Directory struct {
	PTEs []PTE
}

// A PageTable is the two-level translation structure owned by one process.
// The outer level indexes directories by the high bits of the virtual page
// number; directories are created lazily on the first mapping in their
// range. Creating a directory never creates a valid entry within it.
type PageTable struct {
	fanout int
	dirs   []*Directory
}

// NewPageTable creates an empty page table with the given fan-out, the
// number of entries per directory. The table covers fanout*fanout virtual
// pages.
func NewPageTable(fanout int) *PageTable {
	return &PageTable{
		fanout: fanout,
		dirs:   make([]*Directory, fanout),
	}
}

// Fanout returns the number of entries per directory.
func (pt *PageTable) Fanout() int {
	return pt.fanout
}

// NumDirectories returns the number of outer-level slots.
func (pt *PageTable) NumDirectories() int {
	return pt.fanout
}

// Directory returns the directory at the given outer index, or nil if it has
// not been created.
func (pt *PageTable) Directory(outer int) *Directory {
	return pt.dirs[outer]
}

// EnsureDirectory returns the directory at the given outer index, creating
// it if absent.
func (pt *PageTable) EnsureDirectory(outer int) *Directory {
	if pt.dirs[outer] == nil {
		pt.dirs[outer] = &Directory{PTEs: make([]PTE, pt.fanout)}
	}

	return pt.dirs[outer]
}

func (pt *PageTable) split(vpn uint64) (outer, inner int) {
	outer = int(vpn) / pt.fanout
	inner = int(vpn) % pt.fanout

	if outer >= pt.fanout {
		panic("vpn out of the range covered by the page table")
	}

	return outer, inner
}

// Entry returns the entry for the given virtual page number. The bool return
// value indicates whether the owning directory exists at all; when it is
// false there is no entry to inspect. An existing entry may still be
// invalid.
func (pt *PageTable) Entry(vpn uint64) (*PTE, bool) {
	outer, inner := pt.split(vpn)

	dir := pt.dirs[outer]
	if dir == nil {
		return nil, false
	}

	return &dir.PTEs[inner], true
}

// EntryForUpdate returns the entry for the given virtual page number,
// creating the owning directory if it does not exist yet.
func (pt *PageTable) EntryForUpdate(vpn uint64) *PTE {
	outer, inner := pt.split(vpn)

	dir := pt.EnsureDirectory(outer)

	return &dir.PTEs[inner]
}

// NumValidEntries counts the valid entries in the table.
func (pt *PageTable) NumValidEntries() int {
	count := 0

	for _, dir := range pt.dirs {
		if dir == nil {
			continue
		}

		for i := range dir.PTEs {
			if dir.PTEs[i].Valid {
				count++
			}
		}
	}

	return count
}
