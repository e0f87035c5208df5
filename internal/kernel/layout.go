package kernel

import "github.com/me/strider/internal/mm"

// Fixed virtual layout shared by every task.
const (
	// Trampoline is the highest page of the address space.
	Trampoline mm.VirtAddr = mm.VirtAddr(mm.MaxVPN-1) << mm.PageSizeBits
	// KernelStackPages is the size of one kernel stack, excluding its guard
	// page.
	KernelStackPages = 2
	// UserStackTop is the address the user stack grows down from.
	UserStackTop mm.VirtAddr = 1 << 38
	// ProgramEntry is the address user programs start at.
	ProgramEntry mm.VirtAddr = 0x10000
)

// kernelStackTop returns the top of pid's kernel stack. Stacks sit below
// the trampoline, each followed by an unmapped guard page.
func kernelStackTop(pid int) mm.VirtAddr {
	return Trampoline - mm.VirtAddr(pid)*(KernelStackPages+1)*mm.PageSize
}
