package kernel

import (
	ksys "github.com/me/strider/internal/syscall"
	"github.com/me/strider/internal/task"
)

// User is the view a program has of the kernel. Every method traps: the
// call is loaded into the task's trap context, dispatched by number and
// its result written back to a0.
type User struct {
	k   *Kernel
	tcb *task.ControlBlock
}

func (u *User) syscall(id uint64, args [3]uint64) int64 {
	cx := u.k.proc.CurrentTrapCx()
	cx.SetSyscall(id, args)
	cx.Sepc += 4
	u.k.syscalls[id]++

	ret := u.k.sys.Dispatch(cx.SyscallID(), cx.SyscallArgs())

	// The task may have been switched out and back in; read the context
	// again rather than trusting cx.
	u.k.proc.CurrentTrapCx().SetReturn(ret)
	return ret
}

// Pid returns the task's pid without trapping.
func (u *User) Pid() int {
	return u.tcb.Pid()
}

// Exit ends the task with code. It does not return.
func (u *User) Exit(code int) {
	u.syscall(ksys.SysExit, [3]uint64{uint64(int64(code))})
}

// Yield gives up the CPU until the scheduler picks the task again.
func (u *User) Yield() int64 {
	return u.syscall(ksys.SysYield, [3]uint64{})
}

// GetPid returns the task's pid.
func (u *User) GetPid() int64 {
	return u.syscall(ksys.SysGetPid, [3]uint64{})
}

// SetPriority changes the task's priority. It returns prio, or -1 if prio
// is below 2.
func (u *User) SetPriority(prio int64) int64 {
	return u.syscall(ksys.SysSetPriority, [3]uint64{uint64(prio)})
}

// Mmap maps [start, start+length) with the permissions in port.
func (u *User) Mmap(start, length, port uint64) int64 {
	return u.syscall(ksys.SysMmap, [3]uint64{start, length, port})
}

// Munmap always fails with -1.
func (u *User) Munmap(start, length uint64) int64 {
	return u.syscall(ksys.SysMunmap, [3]uint64{start, length})
}

// Spawn starts the named program as a new task and returns its pid, or -1.
func (u *User) Spawn(name string) int64 {
	return u.syscall(ksys.SysSpawn, [3]uint64{u.k.programIndex(name)})
}

// Sepc returns the saved user program counter.
func (u *User) Sepc() uint64 {
	return u.k.proc.CurrentTrapCx().Sepc
}
