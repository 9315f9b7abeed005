// Package kernel provides the process-switch controller. It keeps the
// single running process, the FIFO ready list, and, on a switch to an
// unknown pid, forks the current process with copy-on-write sharing.
package kernel

import (
	"container/list"

	"github.com/sarchlab/vmsim/hooking"
	"github.com/sarchlab/vmsim/vm"
)

// HookPosSwitch is triggered after a switch to an existing process.
var HookPosSwitch = &hooking.HookPos{Name: "Switch"}

// HookPosFork is triggered after a fork created a new current process.
var HookPosFork = &hooking.HookPos{Name: "Fork"}

// SwitchDetail is the hook detail for HookPosSwitch.
type SwitchDetail struct {
	From vm.PID
	To   vm.PID
}

// ForkDetail is the hook detail for HookPosFork. SharedEntries counts the
// valid entries copied into the child, each of which added one mapping to
// its frame.
type ForkDetail struct {
	Parent        vm.PID
	Child         vm.PID
	SharedEntries int
}

// A PageTableRegister is where the controller publishes the page table of
// the running process on every switch and fork. The MMU implements it.
type PageTableRegister interface {
	SetPageTable(pt *vm.PageTable)
}

// A Process is one simulated process: an identity and an owned page table.
// It sits in the controller's ready list whenever it is not running.
type Process struct {
	pid       vm.PID
	pageTable *vm.PageTable
}

// PID returns the identity of the process.
func (p *Process) PID() vm.PID {
	return p.pid
}

// PageTable returns the page table owned by the process.
func (p *Process) PageTable() *vm.PageTable {
	return p.pageTable
}

// Comp is the process-switch controller. It is the scheduler context of the
// simulator: the current process, the ready list, and the frame registry
// live here, and every mutation of them goes through SwitchProcess.
type Comp struct {
	*hooking.HookableBase

	name     string
	frames   *vm.FrameRegistry
	register PageTableRegister

	current   *Process
	readyList *list.List
}

// Name returns the name of the component.
func (c *Comp) Name() string {
	return c.name
}

// Current returns the running process. It is never in the ready list.
func (c *Comp) Current() *Process {
	return c.current
}

// NumReady returns the number of processes waiting in the ready list.
func (c *Comp) NumReady() int {
	return c.readyList.Len()
}

// ReadyPIDs returns the pids in the ready list in FIFO order.
func (c *Comp) ReadyPIDs() []vm.PID {
	pids := make([]vm.PID, 0, c.readyList.Len())
	for e := c.readyList.Front(); e != nil; e = e.Next() {
		pids = append(pids, e.Value.(*Process).pid)
	}

	return pids
}

// SwitchProcess makes the process with the given pid the running one. If a
// ready process carries the pid, it is unlinked from the ready list and the
// previously running process is enqueued at the tail. Otherwise the current
// process is forked: the new child shares every mapped frame with its
// parent, with entries that were writable demoted to copy-on-write on both
// sides. In both cases the page-table register is repointed at the new
// current table. The operation always succeeds.
func (c *Comp) SwitchProcess(pid vm.PID) {
	for e := c.readyList.Front(); e != nil; e = e.Next() {
		p := e.Value.(*Process)
		if p.pid != pid {
			continue
		}

		c.readyList.Remove(e)
		c.readyList.PushBack(c.current)

		from := c.current.pid
		c.current = p
		c.register.SetPageTable(p.pageTable)

		c.InvokeHook(hooking.HookCtx{
			Domain: c,
			Pos:    HookPosSwitch,
			Detail: SwitchDetail{From: from, To: pid},
		})

		return
	}

	c.fork(pid)
}

// fork derives a new process from the current one and makes it running.
// Every valid entry is copied into the child by value, with the frame index
// unchanged and the frame's mapcount incremented. Entries that are writable
// or already private become copy-on-write on both sides; plain read-only
// entries are shared as-is, so that a later write to one is still a hard
// fault rather than a silent split.
func (c *Comp) fork(pid vm.PID) {
	parent := c.current
	parentTable := parent.pageTable

	child := &Process{
		pid:       pid,
		pageTable: vm.NewPageTable(parentTable.Fanout()),
	}

	shared := 0

	for i := 0; i < parentTable.NumDirectories(); i++ {
		dir := parentTable.Directory(i)
		if dir == nil {
			continue
		}

		childDir := child.pageTable.EnsureDirectory(i)

		for j := range dir.PTEs {
			pte := &dir.PTEs[j]
			if !pte.Valid {
				continue
			}

			if pte.Writable || pte.Private {
				pte.Writable = false
				pte.Private = true
				childDir.PTEs[j].Private = true
			}

			childDir.PTEs[j].Valid = true
			childDir.PTEs[j].Frame = pte.Frame
			c.frames.Retain(pte.Frame)
			shared++
		}
	}

	c.readyList.PushBack(parent)
	c.current = child
	c.register.SetPageTable(child.pageTable)

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    HookPosFork,
		Detail: ForkDetail{
			Parent:        parent.pid,
			Child:         pid,
			SharedEntries: shared,
		},
	})
}
