package task

// Register indexes used by the syscall ABI.
const (
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA7 = 17
	RegSP = 2
)

// TrapContext is the user register state saved when a task enters the
// kernel.
type TrapContext struct {
	X           [32]uint64
	Sstatus     uint64
	Sepc        uint64
	KernelSatp  uint64
	KernelSp    uint64
	TrapHandler uint64
}

// AppInitContext returns the trap context a task starts user mode with.
func AppInitContext(entry, sp, kernelSatp, kernelSp, trapHandler uint64) TrapContext {
	cx := TrapContext{
		Sepc:        entry,
		KernelSatp:  kernelSatp,
		KernelSp:    kernelSp,
		TrapHandler: trapHandler,
	}
	cx.X[RegSP] = sp
	return cx
}

// SyscallID returns the syscall number passed in a7.
func (cx *TrapContext) SyscallID() uint64 {
	return cx.X[RegA7]
}

// SyscallArgs returns a0..a2.
func (cx *TrapContext) SyscallArgs() [3]uint64 {
	return [3]uint64{cx.X[RegA0], cx.X[RegA1], cx.X[RegA2]}
}

// SetSyscall loads a syscall number and its arguments.
func (cx *TrapContext) SetSyscall(id uint64, args [3]uint64) {
	cx.X[RegA7] = id
	cx.X[RegA0], cx.X[RegA1], cx.X[RegA2] = args[0], args[1], args[2]
}

// SetReturn stores a syscall result in a0.
func (cx *TrapContext) SetReturn(v int64) {
	cx.X[RegA0] = uint64(v)
}

// Return reads the syscall result from a0.
func (cx *TrapContext) Return() int64 {
	return int64(cx.X[RegA0])
}
