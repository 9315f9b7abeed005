// Package vm defines the data model of the memory-management simulator: the
// two-level page table, the physical-frame registry, and the access kinds.
package vm

import "errors"

// PID stands for Process ID.
type PID uint32

// Access describes the kind of memory access that a mapping is created for
// or that a fault was raised by.
type Access uint32

// The access kinds. AccessReadWrite is the combination of the read and the
// write bits.
const (
	AccessRead      Access = 1 << 0
	AccessWrite     Access = 1 << 1
	AccessReadWrite Access = AccessRead | AccessWrite
)

// Write tells if the access includes write permission.
func (a Access) Write() bool {
	return a&AccessWrite != 0
}

// ErrNoFreeFrame is returned when every physical frame is mapped and an
// allocation cannot be satisfied.
var ErrNoFreeFrame = errors.New("no free frame")

// ErrNotMapped is returned when an operation targets a virtual page that has
// no valid mapping, either because the owning directory was never created or
// because the entry is invalid.
var ErrNotMapped = errors.New("page not mapped")

// ErrPermission is returned when a faulting access is a genuine protection
// violation that copy-on-write cannot repair.
var ErrPermission = errors.New("permission denied")
