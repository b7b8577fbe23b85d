// Package task implements the preemptive round-robin scheduler: task
// lifecycle, the global ready queue, the four context-switch variants,
// join, and the cross-task memory copy used by the syscall gateway.
//
// Grounded on biscuit/src/tinfo/tinfo.go's pattern of a mutex-guarded
// per-task note plus a registry keyed by id (Threadinfo_t/Tnote_t),
// adapted here to a single global ready queue instead of a map, since
// this kernel never needs per-id lookup outside of syscall handles.
// The tick/classification algorithm itself is translated from
// original_source/kernel/task.cpp's schedule(), which this port
// follows closely because spec.md leaves the switch-variant
// classification underspecified beyond the table in §4.5.
package task

import (
	"sync"

	"toykernel/internal/accnt"
	"toykernel/internal/interrupt"
	"toykernel/internal/kerrors"
	"toykernel/internal/vmm"
)

// State is a task's lifecycle state, spec §3 "Task... volatile state".
type State int

const (
	Ready State = iota
	Running
	Completed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Completed:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Variant names the four context-switch trampolines spec §4.5's table
// distinguishes by (first-run, jump target).
type Variant int

const (
	ResumeKernel Variant = iota
	ResumeUser
	FirstRunKernel
	FirstRunUser
)

const defaultStackSize = 16 * 1024

var (
	ErrNotCompleted     = kerrors.New("task", "child task has children at destruction")
	ErrSchedulerNotInit = kerrors.New("task", "scheduler not yet initialized")
)

// Task is one schedulable unit of execution: a saved register frame, a
// kernel stack, an optional esp0 (ring-0 entry) stack for user tasks,
// an owning PageDirectory, and parent/child links, per spec §3.
type Task struct {
	ID       uint64
	mu       sync.Mutex
	state    State
	regs     interrupt.Frame
	firstRun bool

	// userInKernel records that this user task was last interrupted
	// while executing in the kernel (e.g. during a syscall that
	// re-enabled interrupts), so the scheduler resumes it in the
	// kernel instead of via an iret to ring 3. Spec §4.5.
	userInKernel bool

	IsUser       bool
	Name         string // for diagnostics and internal/profexport only; not part of spec §3's Task fields
	KernelStack  uintptr // base of the owned kernel stack allocation
	Esp0Stack    uintptr // base of the owned esp0 stack, valid iff IsUser
	PD           *vmm.PageDirectory
	Parent       *Task
	Children     []*Task
	Accnt        accnt.Accnt_t
	EntryFunc    func()
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// ReadyQueue is the insertion-ordered, global run queue. Mutation is
// guarded by disabling interrupts rather than a mutex, per spec §3's
// ReadyQueue invariant (iii) ("concurrent mutation is prevented by
// disabling interrupts") — mirrored here with a mutex standing in for
// that discipline, the same substitution internal/mem and internal/vmm
// make.
type ReadyQueue struct {
	mu    sync.Mutex
	tasks []*Task
}

func (q *ReadyQueue) PushBack(t *Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
}

// RotateHead moves the head task to the tail and returns it, or nil if
// the queue has fewer than 2 entries (spec §4.5 step 1 fast path).
func (q *ReadyQueue) RotateHead() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) < 2 {
		return nil
	}
	head := q.tasks[0]
	q.tasks = append(q.tasks[1:], head)
	return head
}

// Remove deletes t from the queue, used when a task exits rather than
// being preempted (spec §4.5 step 3).
func (q *ReadyQueue) Remove(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cur := range q.tasks {
		if cur == t {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return true
		}
	}
	return false
}

func (q *ReadyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
