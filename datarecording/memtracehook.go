package datarecording

import (
	"github.com/sarchlab/vmsim/hooking"
	"github.com/sarchlab/vmsim/kernel"
	"github.com/sarchlab/vmsim/vm/mmu"
)

type allocRow struct {
	VPN   uint64
	Frame uint64
	Write bool
}

type freeRow struct {
	VPN   uint64
	Frame uint64
}

type faultRow struct {
	VPN     uint64
	Write   bool
	Outcome string
	Frame   uint64
}

type switchRow struct {
	From   uint32
	To     uint32
	Forked bool
	Shared int
}

// A MemTraceHook records MMU and process-switch events into a DataRecorder.
// Attach it to both the MMU component and the process-switch controller.
type MemTraceHook struct {
	recorder DataRecorder
}

// NewMemTraceHook creates a MemTraceHook and creates the tables it writes
// to.
func NewMemTraceHook(recorder DataRecorder) *MemTraceHook {
	recorder.CreateTable("mem_alloc", allocRow{})
	recorder.CreateTable("mem_free", freeRow{})
	recorder.CreateTable("page_fault", faultRow{})
	recorder.CreateTable("proc_switch", switchRow{})

	return &MemTraceHook{recorder: recorder}
}

// Func records the event carried by the hook context.
func (h *MemTraceHook) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case mmu.HookPosAlloc:
		d := ctx.Detail.(mmu.AllocDetail)
		h.recorder.InsertData("mem_alloc", allocRow{
			VPN:   d.VPN,
			Frame: d.Frame,
			Write: d.Access.Write(),
		})
	case mmu.HookPosFree:
		d := ctx.Detail.(mmu.FreeDetail)
		h.recorder.InsertData("mem_free", freeRow{
			VPN:   d.VPN,
			Frame: d.Frame,
		})
	case mmu.HookPosPageFault:
		d := ctx.Detail.(mmu.FaultDetail)
		h.recorder.InsertData("page_fault", faultRow{
			VPN:     d.VPN,
			Write:   d.Access.Write(),
			Outcome: d.Outcome.String(),
			Frame:   d.Frame,
		})
	case kernel.HookPosSwitch:
		d := ctx.Detail.(kernel.SwitchDetail)
		h.recorder.InsertData("proc_switch", switchRow{
			From: uint32(d.From),
			To:   uint32(d.To),
		})
	case kernel.HookPosFork:
		d := ctx.Detail.(kernel.ForkDetail)
		h.recorder.InsertData("proc_switch", switchRow{
			From:   uint32(d.Parent),
			To:     uint32(d.Child),
			Forked: true,
			Shared: d.SharedEntries,
		})
	}
}
