// Package syscall implements the software-interrupt 0x80 gateway: a
// small, enumerated dispatch table keyed by the syscall number carried
// in eax, with up to five arguments taken from ebx/ecx/edx/esi/edi.
//
// Grounded on biscuit/src/caller/caller.go's Caller_t (the pattern of
// validating a fixed small set of syscall-adjacent arguments before
// touching any shared state) and on original_source/kernel/syscall.cpp
// for the exact 9-entry numbered table this design's spec.md names
// only as "minimum syscall set" (§4.6).
package syscall

import (
	"toykernel/internal/interrupt"
	"toykernel/internal/kerrors"
)

// Syscall numbers, contract-fixed per spec §4.6.
const (
	SysDebugWrite = iota + 1
	SysExitUserTask
	SysDebugRead
	SysCreateUserTask
	SysDestroyUserTask
	SysCopyFromTask
	SysGetParentTask
	SysGetParentTaskID
	SysMapPage
)

// map_page status codes, spec §4.6.
const (
	MapOK               = 0
	MapErrUnaligned     = -1
	MapErrAlreadyMapped = -2
	MapErrOutOfMemory   = -3
)

// Vector is the software-interrupt number user tasks trigger through,
// registered with DPL=3 so ring-3 code may invoke it.
const Vector uint8 = 0x80

var ErrNoSuchSyscall = kerrors.New("syscall", "eax does not name a registered syscall")

// Args is the five-register argument vector spec §4.6 describes as
// pushed in reverse order then popped by the dispatcher; modeled here
// as a plain struct since Go callers don't need the literal push/pop.
type Args struct {
	EBX, ECX, EDX, ESI, EDI uint32
}

// Func is one syscall's implementation. It receives the calling task's
// register snapshot (for ring/PD context) and the five arguments, and
// returns the value to install into the caller's eax.
type Func func(caller *interrupt.Frame, args Args) uint32

// Table is the fixed, numbered syscall dispatch table.
type Table struct {
	fns [SysMapPage + 1]Func
}

// NewTable constructs an empty syscall table; wire each number with
// Register before installing the gate.
func NewTable() *Table {
	return &Table{}
}

// Register installs fn at syscall number num.
func (t *Table) Register(num int, fn Func) {
	t.fns[num] = fn
}

// Dispatch looks up f.EAX in the table and invokes the registered
// function, returning ErrNoSuchSyscall if none is registered. Spec
// §4.6: "eax carries the syscall number... the return value in eax of
// the syscall becomes the user's eax."
func (t *Table) Dispatch(f *interrupt.Frame) (uint32, error) {
	num := int(f.EAX)
	if num < 0 || num >= len(t.fns) || t.fns[num] == nil {
		return 0, ErrNoSuchSyscall
	}
	args := Args{EBX: f.EBX, ECX: f.ECX, EDX: f.EDX, ESI: f.ESI, EDI: f.EDI}
	return t.fns[num](f, args), nil
}

// Handler adapts Table to an interrupt.Handler, installed at Vector.
// Precondition: the caller is a user task (spec §4.6).
func (t *Table) Handler() interrupt.Handler {
	return func(f *interrupt.Frame) *interrupt.Frame {
		ret, err := t.Dispatch(f)
		if err != nil {
			ret = ^uint32(0) // no contract-defined code for an unknown syscall; return -1
		}
		f.EAX = ret
		return f
	}
}
