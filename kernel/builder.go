package kernel

import (
	"container/list"

	"github.com/sarchlab/vmsim/hooking"
	"github.com/sarchlab/vmsim/vm"
)

// A Builder can build process-switch controllers.
type Builder struct {
	frames          *vm.FrameRegistry
	register        PageTableRegister
	directoryFanout int
	initialPID      vm.PID
}

// MakeBuilder creates a new Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		directoryFanout: 16,
	}
}

// WithFrameRegistry sets the frame registry shared with the MMU.
func (b Builder) WithFrameRegistry(r *vm.FrameRegistry) Builder {
	b.frames = r
	return b
}

// WithPageTableRegister sets the register that is repointed on every switch
// and fork, normally the MMU.
func (b Builder) WithPageTableRegister(r PageTableRegister) Builder {
	b.register = r
	return b
}

// WithDirectoryFanout sets the number of entries per page directory of the
// tables the controller creates.
func (b Builder) WithDirectoryFanout(fanout int) Builder {
	b.directoryFanout = fanout
	return b
}

// WithInitialPID sets the pid of the process that is running when the
// simulation starts.
func (b Builder) WithInitialPID(pid vm.PID) Builder {
	b.initialPID = pid
	return b
}

// Build returns a newly created controller with one running process and an
// empty ready list. The page-table register is pointed at the initial
// process's table.
func (b Builder) Build(name string) *Comp {
	if b.frames == nil {
		panic("a frame registry must be provided")
	}

	if b.register == nil {
		panic("a page-table register must be provided")
	}

	c := &Comp{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
		frames:       b.frames,
		register:     b.register,
		readyList:    list.New(),
	}

	c.current = &Process{
		pid:       b.initialPID,
		pageTable: vm.NewPageTable(b.directoryFanout),
	}
	c.register.SetPageTable(c.current.pageTable)

	return c
}
