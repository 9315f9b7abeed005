package mmu

import (
	"github.com/sarchlab/vmsim/hooking"
	"github.com/sarchlab/vmsim/vm"
)

// A Builder can build MMU components.
type Builder struct {
	frames          *vm.FrameRegistry
	pageTable       *vm.PageTable
	directoryFanout int
	numFrames       int
}

// MakeBuilder creates a new Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		directoryFanout: 16,
		numFrames:       128,
	}
}

// WithFrameRegistry sets the frame registry to allocate from. When not
// provided, a fresh registry with the configured frame count is created.
func (b Builder) WithFrameRegistry(r *vm.FrameRegistry) Builder {
	b.frames = r
	return b
}

// WithPageTable sets the initially active page table. When not provided, an
// empty table with the configured fan-out is created.
func (b Builder) WithPageTable(pt *vm.PageTable) Builder {
	b.pageTable = pt
	return b
}

// WithDirectoryFanout sets the number of entries per page directory.
func (b Builder) WithDirectoryFanout(fanout int) Builder {
	b.directoryFanout = fanout
	return b
}

// WithNumFrames sets the number of physical frames.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// Build returns a newly created MMU component.
func (b Builder) Build(name string) *Comp {
	c := &Comp{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
	}

	c.frames = b.frames
	if c.frames == nil {
		c.frames = vm.NewFrameRegistry(b.numFrames)
	}

	c.pageTable = b.pageTable
	if c.pageTable == nil {
		c.pageTable = vm.NewPageTable(b.directoryFanout)
	}

	return c
}
