package syscall

import (
	"toykernel/internal/interrupt"
	"toykernel/internal/mem"
	"toykernel/internal/task"
	"toykernel/internal/vmm"
)

// Handle is a user-task handle: an opaque index into the set of
// children the owning task may destroy/copy against, per spec §4.6's
// create_user_task/destroy_user_task/copy_from_task.
type Handle uint32

// Env wires the syscall table to the rest of the kernel: the
// scheduler (task creation/destruction/cross-copy), a put(char)
// callback for debug_write (spec.md's out-of-scope terminal driver
// collaborator), and a non-blocking getchar for debug_read.
type Env struct {
	Sched   *task.Scheduler
	Frames  *mem.FrameMap
	PutChar func(byte)
	TryRead func() (byte, bool)
	handles map[uint32]*task.Task
	nextH   uint32
}

// NewEnv builds the syscall environment and its dispatch table with
// all nine syscalls registered at their contract-fixed numbers.
func NewEnv(sched *task.Scheduler, frames *mem.FrameMap, putChar func(byte), tryRead func() (byte, bool)) (*Env, *Table) {
	e := &Env{Sched: sched, Frames: frames, PutChar: putChar, TryRead: tryRead, handles: make(map[uint32]*task.Task)}
	t := NewTable()
	t.Register(SysDebugWrite, e.debugWrite)
	t.Register(SysExitUserTask, e.exitUserTask)
	t.Register(SysDebugRead, e.debugRead)
	t.Register(SysCreateUserTask, e.createUserTask)
	t.Register(SysDestroyUserTask, e.destroyUserTask)
	t.Register(SysCopyFromTask, e.copyFromTask)
	t.Register(SysGetParentTask, e.getParentTask)
	t.Register(SysGetParentTaskID, e.getParentTaskID)
	t.Register(SysMapPage, e.mapPage)
	return e, t
}

func (e *Env) addHandle(t *task.Task) uint32 {
	h := e.nextH
	e.nextH++
	e.handles[h] = t
	return h
}

// debugWrite prints the NUL-terminated string at args.EBX in the
// caller's address space, reading it a byte at a time through
// CrossCopy so each byte is resolved through the caller's own page
// directory rather than assumed identity-mapped.
func (e *Env) debugWrite(caller *interrupt.Frame, args Args) uint32 {
	if e.PutChar == nil {
		return 0
	}
	cur := e.Sched.Current()
	buf := make([]byte, 1)
	for vaddr := uintptr(args.EBX); ; vaddr++ {
		if err := e.Sched.CrossCopy(cur, buf, vaddr, 1, false); err != nil {
			break
		}
		if buf[0] == 0 {
			break
		}
		e.PutChar(buf[0])
	}
	return 0
}

// exitUserTask implements exit_this_task: never returns to the caller.
func (e *Env) exitUserTask(caller *interrupt.Frame, args Args) uint32 {
	e.Sched.ExitCurrent()
	return 0
}

// debugRead is non-blocking: it returns true/false in eax according to
// whether a character was available, writing the byte through the
// cross-task copy window at args.EBX.
func (e *Env) debugRead(caller *interrupt.Frame, args Args) uint32 {
	if e.TryRead == nil {
		return 0
	}
	b, ok := e.TryRead()
	if !ok {
		return 0
	}
	cur := e.Sched.Current()
	buf := []byte{b}
	if err := e.Sched.CrossCopy(cur, buf, uintptr(args.EBX), 1, true); err != nil {
		return 0
	}
	return 1
}

// createUserTask instantiates a child user task from the embedded code
// range [args.EBX, args.EBX+args.ECX), passing args.EDX as its
// argument, and writes the new handle to *args.ESI.
func (e *Env) createUserTask(caller *interrupt.Frame, args Args) uint32 {
	code := make([]byte, args.ECX)
	cur := e.Sched.Current()
	if err := e.Sched.CrossCopy(cur, code, uintptr(args.EBX), int(args.ECX), false); err != nil {
		return ^uint32(0)
	}
	child, err := e.Sched.CreateUserTask(code, args.EDX)
	if err != nil {
		return ^uint32(0)
	}
	h := e.addHandle(child)
	out := []byte{byte(h), byte(h >> 8), byte(h >> 16), byte(h >> 24)}
	e.Sched.CrossCopy(cur, out, uintptr(args.ESI), 4, true)
	return 0
}

// destroyUserTask joins and frees the task named by handle.
func (e *Env) destroyUserTask(caller *interrupt.Frame, args Args) uint32 {
	t, ok := e.handles[args.EBX]
	if !ok {
		return ^uint32(0)
	}
	if err := e.Sched.Destroy(t); err != nil {
		return ^uint32(0)
	}
	delete(e.handles, args.EBX)
	return 0
}

// copyFromTask implements copy_from_task(handle, dst, src, n): it
// reads n bytes out of the task named by handle at src, then writes
// them into the caller's own address space at dst, one byte at a time
// so the copy never assumes either side's range stays within a single
// 4 MiB page.
func (e *Env) copyFromTask(caller *interrupt.Frame, args Args) uint32 {
	t, ok := e.handles[args.EBX]
	if !ok {
		return ^uint32(0)
	}
	cur := e.Sched.Current()
	n := int(args.ESI)
	buf := make([]byte, 1)
	for i := 0; i < n; i++ {
		if err := e.Sched.CrossCopy(t, buf, uintptr(args.EDX)+uintptr(i), 1, false); err != nil {
			return ^uint32(0)
		}
		if err := e.Sched.CrossCopy(cur, buf, uintptr(args.ECX)+uintptr(i), 1, true); err != nil {
			return ^uint32(0)
		}
	}
	return 0
}

// getParentTask writes the caller's parent handle to *args.EBX.
func (e *Env) getParentTask(caller *interrupt.Frame, args Args) uint32 {
	cur := e.Sched.Current()
	if cur.Parent == nil {
		return ^uint32(0)
	}
	h := e.addHandle(cur.Parent)
	out := []byte{byte(h), byte(h >> 8), byte(h >> 16), byte(h >> 24)}
	e.Sched.CrossCopy(cur, out, uintptr(args.EBX), 4, true)
	return 0
}

// getParentTaskID writes the caller's parent task id to *args.EBX.
func (e *Env) getParentTaskID(caller *interrupt.Frame, args Args) uint32 {
	cur := e.Sched.Current()
	if cur.Parent == nil {
		return ^uint32(0)
	}
	id := cur.Parent.ID
	out := []byte{byte(id), byte(id >> 8), byte(id >> 16), byte(id >> 24)}
	e.Sched.CrossCopy(cur, out, uintptr(args.EBX), 4, true)
	return 0
}

// mapPage maps one fresh 4 MiB page with user flags into the caller's
// PD at args.EBX. Return codes per spec §4.6: 0 ok, -1 unaligned
// vaddr, -2 already mapped, -3 out of physical memory.
func (e *Env) mapPage(caller *interrupt.Frame, args Args) uint32 {
	code := func(c int32) uint32 { return uint32(c) }
	if uintptr(args.EBX)%mem.PageSize4M != 0 {
		return code(MapErrUnaligned)
	}

	cur := e.Sched.Current()
	paddr, err := cur.PD.GetPhysical(uintptr(args.EBX))
	_ = paddr
	if err == nil {
		return code(MapErrAlreadyMapped)
	}

	frame, err := e.Frames.NextFree(1)
	if err != nil {
		return code(MapErrOutOfMemory)
	}
	if err := cur.PD.AddPage(uintptr(args.EBX), frame, vmm.FlagUser, false); err != nil {
		switch err {
		case vmm.ErrUnaligned:
			return code(MapErrUnaligned)
		case vmm.ErrAlreadyMapped:
			return code(MapErrAlreadyMapped)
		default:
			return code(MapErrOutOfMemory)
		}
	}
	return MapOK
}
