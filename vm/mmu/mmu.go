// Package mmu provides the memory-management component that allocates page
// frames and services page faults, including copy-on-write repair.
package mmu

import (
	"github.com/sarchlab/vmsim/hooking"
	"github.com/sarchlab/vmsim/vm"
)

// HookPosAlloc is triggered after a page frame is allocated and mapped.
var HookPosAlloc = &hooking.HookPos{Name: "Alloc"}

// HookPosFree is triggered after a mapping is released.
var HookPosFree = &hooking.HookPos{Name: "Free"}

// HookPosPageFault is triggered after a page fault is classified and, if
// possible, repaired.
var HookPosPageFault = &hooking.HookPos{Name: "PageFault"}

// FaultOutcome is the three-way classification of a page fault.
type FaultOutcome int

// The possible outcomes of a page fault.
const (
	// FaultHard is an unrecoverable fault: the page is unmapped or the
	// access is a genuine protection violation.
	FaultHard FaultOutcome = iota

	// FaultCOWSplit repaired the fault by moving the faulting process to a
	// fresh exclusive frame, leaving the old frame to the other sharers.
	FaultCOWSplit

	// FaultCOWCollapse repaired the fault by upgrading the entry to
	// writable in place, the faulting process being the sole remaining
	// owner of the frame.
	FaultCOWCollapse
)

func (o FaultOutcome) String() string {
	switch o {
	case FaultHard:
		return "hard"
	case FaultCOWSplit:
		return "cow_split"
	case FaultCOWCollapse:
		return "cow_collapse"
	default:
		return "unknown"
	}
}

// AllocDetail is the hook detail for HookPosAlloc.
type AllocDetail struct {
	VPN    uint64
	Frame  uint64
	Access vm.Access
}

// FreeDetail is the hook detail for HookPosFree.
type FreeDetail struct {
	VPN   uint64
	Frame uint64
}

// FaultDetail is the hook detail for HookPosPageFault. Frame is the frame
// backing the page after resolution and is meaningful only when the outcome
// is not FaultHard.
type FaultDetail struct {
	VPN     uint64
	Access  vm.Access
	Outcome FaultOutcome
	Frame   uint64
}

// Comp is the memory-management component. It owns no page table itself;
// its page-table register is repointed by the process-switch controller at
// every switch and fork, mirroring a hardware page-table base register.
type Comp struct {
	*hooking.HookableBase

	name      string
	frames    *vm.FrameRegistry
	pageTable *vm.PageTable
}

// Name returns the name of the component.
func (c *Comp) Name() string {
	return c.name
}

// FrameRegistry returns the frame registry the component allocates from.
func (c *Comp) FrameRegistry() *vm.FrameRegistry {
	return c.frames
}

// PageTable returns the currently active page table.
func (c *Comp) PageTable() *vm.PageTable {
	return c.pageTable
}

// SetPageTable repoints the page-table register. All subsequent operations
// apply to the given table.
func (c *Comp) SetPageTable(pt *vm.PageTable) {
	c.pageTable = pt
}

// AllocatePage maps the virtual page to the free frame with the smallest
// index, creating the owning directory if it does not exist yet. The entry
// becomes writable only if the access includes write permission. The
// Private flag of the entry is deliberately left untouched; the fault
// resolver reuses this path to split a copy-on-write page, and the entry it
// rebuilds keeps its private mark without being shared any longer.
//
// Returns vm.ErrNoFreeFrame when every frame is mapped.
func (c *Comp) AllocatePage(vpn uint64, access vm.Access) (uint64, error) {
	frame, ok := c.frames.FindFree()
	if !ok {
		return 0, vm.ErrNoFreeFrame
	}

	pte := c.pageTable.EntryForUpdate(vpn)
	pte.Valid = true
	pte.Writable = access.Write()
	pte.Frame = frame

	c.frames.Retain(frame)

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    HookPosAlloc,
		Detail: AllocDetail{VPN: vpn, Frame: frame, Access: access},
	})

	return frame, nil
}

// FreePage releases the mapping of the virtual page: the entry's valid,
// writable, and frame fields are cleared and the frame's mapcount drops by
// one. Decrementing the mapcount is the entire reclamation mechanism; a
// frame shared by several processes becomes free only once the last sharer
// releases it.
//
// Returns vm.ErrNotMapped when the owning directory is absent or the entry
// is not valid.
func (c *Comp) FreePage(vpn uint64) error {
	pte, ok := c.pageTable.Entry(vpn)
	if !ok || !pte.Valid {
		return vm.ErrNotMapped
	}

	frame := pte.Frame
	pte.Valid = false
	pte.Writable = false
	pte.Frame = 0

	c.frames.Release(frame)

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    HookPosFree,
		Detail: FreeDetail{VPN: vpn, Frame: frame},
	})

	return nil
}

// HandlePageFault services a fault that the translator could not satisfy.
// Faults on copy-on-write entries are repaired, by splitting to a fresh
// frame while the backing frame is still shared, or by upgrading the entry
// in place once this process is the sole remaining owner. Every other fault
// is unrecoverable and reported through the returned error; the caller is
// expected to treat it as a fatal access violation of the running process.
func (c *Comp) HandlePageFault(vpn uint64, access vm.Access) error {
	pte, ok := c.pageTable.Entry(vpn)
	if !ok || !pte.Valid {
		c.invokeFaultHook(vpn, access, FaultHard, 0)
		return vm.ErrNotMapped
	}

	if access.Write() && !pte.Writable && !pte.Private {
		c.invokeFaultHook(vpn, access, FaultHard, 0)
		return vm.ErrPermission
	}

	if pte.State() == vm.PTESharedCOW {
		return c.resolveCOW(vpn, access, pte)
	}

	c.invokeFaultHook(vpn, access, FaultHard, 0)

	return vm.ErrPermission
}

func (c *Comp) resolveCOW(vpn uint64, access vm.Access, pte *vm.PTE) error {
	oldFrame := pte.Frame

	if c.frames.MapCount(oldFrame) == 1 {
		pte.Writable = true
		c.invokeFaultHook(vpn, access, FaultCOWCollapse, oldFrame)

		return nil
	}

	c.frames.Release(oldFrame)

	newFrame, err := c.AllocatePage(vpn, vm.AccessReadWrite)
	if err != nil {
		// Restore the old mapping's count so that the mapcount invariant
		// still holds; the entry itself was not touched.
		c.frames.Retain(oldFrame)
		return err
	}

	c.invokeFaultHook(vpn, access, FaultCOWSplit, newFrame)

	return nil
}

func (c *Comp) invokeFaultHook(
	vpn uint64,
	access vm.Access,
	outcome FaultOutcome,
	frame uint64,
) {
	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    HookPosPageFault,
		Detail: FaultDetail{
			VPN:     vpn,
			Access:  access,
			Outcome: outcome,
			Frame:   frame,
		},
	})
}
