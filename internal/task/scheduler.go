package task

import (
	"sync"
	"sync/atomic"

	"toykernel/internal/heap"
	"toykernel/internal/interrupt"
	"toykernel/internal/kerrors"
	"toykernel/internal/vmm"
)

// Timer interrupt frame layout constants referenced when classifying
// the saved esp, per spec §4.5 step 2 ("esp adjusted for the pushed
// interrupt/IRQ payload").
const interruptPayloadBytes = 20 // int_no, err_code, eip, cs, eflags

// Scheduler owns the global ready queue and the mapping from "what
// just happened" (timer tick vs. voluntary exit) to one of the four
// switch-variant trampolines, per spec §4.5.
type Scheduler struct {
	Queue   ReadyQueue
	mgr     *vmm.Manager
	kheap   *heap.Heap
	tbl     *interrupt.Table
	current atomic.Pointer[Task]
	main    *Task
	nextID  uint64
	mu      sync.Mutex
}

// NewScheduler creates the "main" kernel task (no stack allocation —
// its register frame is captured lazily at its first preemption, per
// spec §4.7 step 6) and installs it as the sole entry in the ready
// queue.
func NewScheduler(mgr *vmm.Manager, kheap *heap.Heap, tbl *interrupt.Table) *Scheduler {
	s := &Scheduler{mgr: mgr, kheap: kheap, tbl: tbl}
	s.main = &Task{ID: s.allocID(), PD: mgr.Kernel, Name: "main"}
	s.main.setState(Running)
	s.current.Store(s.main)
	s.Queue.PushBack(s.main)
	return s
}

func (s *Scheduler) allocID() uint64 {
	return atomic.AddUint64(&s.nextID, 1) - 1
}

// Current returns the task presently selected to run.
func (s *Scheduler) Current() *Task { return s.current.Load() }

// CreateKernelTask allocates a kernel-mode task sharing the kernel PD,
// with its own kernel stack, and enqueues it. Grounded on
// original_source/kernel/task.cpp's KernelTask constructor.
func (s *Scheduler) CreateKernelTask(entry func()) (*Task, error) {
	stackTop, err := s.kheap.MallocAligned(defaultStackSize, 16)
	if err != nil {
		return nil, err
	}
	t := &Task{
		ID:          s.allocID(),
		Name:        "kernel-task",
		PD:          s.mgr.Kernel,
		KernelStack: stackTop,
		EntryFunc:   entry,
		firstRun:    true,
		Parent:      s.Current(),
	}
	t.regs.ESP0 = uint32(stackTop + defaultStackSize)
	s.attachChild(t)
	s.Queue.PushBack(t)
	return t, nil
}

// CreateUserTask clones the kernel PD into a fresh address space, maps
// an esp0 stack, and copies codesize bytes of entry code into the
// task's USER_START page. Grounded on original_source/kernel/task.cpp's
// UserTask constructor, simplified: this port copies the code
// synchronously through a shared mapping rather than via the original's
// explicit copyfunc indirection, since this kernel has no separate
// userboot stage.
func (s *Scheduler) CreateUserTask(code []byte, arg uint32) (*Task, error) {
	pd, err := s.mgr.Clone()
	if err != nil {
		return nil, err
	}
	esp0Top, err := s.kheap.MallocAligned(defaultStackSize, 16)
	if err != nil {
		pd.Reclaim()
		return nil, err
	}

	codePaddr, err := s.mgr.Frames.AllocFrame(1)
	if err != nil {
		pd.Reclaim()
		return nil, err
	}
	if err := pd.AddPage(uintptr(vmm.UserStart), codePaddr, vmm.FlagUser, true); err != nil {
		pd.Reclaim()
		return nil, err
	}
	if err := s.mgr.Kernel.AddPage(vmm.TmpSharedVA, codePaddr, 0, true); err != nil {
		pd.Reclaim()
		return nil, err
	}
	n := copy(s.mgr.Frames.Frame(codePaddr), code)
	s.mgr.Kernel.RemovePage(vmm.TmpSharedVA)
	if n != len(code) {
		pd.Reclaim()
		return nil, kerrors.New("task", "user code exceeds one 4 MiB page")
	}

	t := &Task{
		ID:          s.allocID(),
		Name:        "user-task",
		IsUser:      true,
		PD:          pd,
		Esp0Stack:   esp0Top,
		firstRun:    true,
		Parent:      s.Current(),
	}
	t.regs.ESP0 = uint32(esp0Top + defaultStackSize)
	t.regs.EIP = uint32(vmm.UserStart)
	t.regs.EAX = arg
	s.attachChild(t)
	s.Queue.PushBack(t)
	return t, nil
}

func (s *Scheduler) attachChild(child *Task) {
	parent := child.Parent
	if parent == nil {
		return
	}
	parent.mu.Lock()
	parent.Children = append(parent.Children, child)
	parent.mu.Unlock()
}

// Tick implements the per-timer-tick algorithm, spec §4.5. f is nil
// when invoked from exit_this_task (step 3); otherwise it is the
// interrupted register frame captured by the timer ISR.
func (s *Scheduler) Tick(f *interrupt.Frame) {
	cur := s.Current()

	if f == nil {
		if cur == s.main {
			interrupt.Panicf(&interrupt.Frame{}, "main kernel task may not exit")
			return
		}
		cur.setState(Completed)
		s.Queue.Remove(cur)
		s.runNext(nil)
		return
	}

	next := s.Queue.RotateHead()
	if next == nil {
		return // fewer than 2 ready tasks: fast path, no switch
	}

	s.saveCurrent(cur, f)
	s.runNext(next)
}

// saveCurrent captures the interrupted frame into cur's saved regs,
// adjusting esp per spec §4.5 step 2's three cases (kernel task;
// user task interrupted in user space; user task interrupted while
// already executing in the kernel).
func (s *Scheduler) saveCurrent(cur *Task, f *interrupt.Frame) {
	var adjustedESP uint32
	switch {
	case !cur.IsUser:
		adjustedESP = f.ESP0 + interruptPayloadBytes
	case f.CS == userCodeSegment:
		adjustedESP = f.UserESP
		cur.userInKernel = false
	default:
		adjustedESP = f.ESP0 + interruptPayloadBytes
		cur.userInKernel = true
	}

	cur.mu.Lock()
	cur.regs = *f
	cur.regs.ESP0 = adjustedESP
	cur.mu.Unlock()
}

// runNext switches the active PD, reloads esp0 for user tasks, and
// invokes the classified switch-variant trampoline for next. Spec
// §4.5 steps 4-6.
func (s *Scheduler) runNext(next *Task) {
	if next == nil {
		// The exit path passes nil: fall back to the main kernel task
		// so the scheduler never dispatches into a nil target.
		next = s.main
	}

	vmm.SwitchTo(next.PD)

	jumpToUser := next.IsUser
	if next.userInKernel {
		jumpToUser = false
	}

	next.mu.Lock()
	first := next.firstRun
	next.firstRun = false
	next.state = Running
	regsCopy := next.regs
	next.mu.Unlock()

	s.current.Store(next)

	var v Variant
	switch {
	case first && !jumpToUser:
		v = FirstRunKernel
	case first && jumpToUser:
		v = FirstRunUser
	case !first && jumpToUser:
		v = ResumeUser
	default:
		v = ResumeKernel
	}
	dispatch(v, &regsCopy)
}

// userCodeSegment is the ring-3 code selector installed by the
// external GDT setup; spec.md treats the GDT as an out-of-scope
// collaborator, so this value is this port's convention for it.
const userCodeSegment = 0x1B

// Join spins until t reaches Completed. Spec §4.5: "Interrupts must be
// enabled at entry."
func (s *Scheduler) Join(t *Task) {
	for t.State() != Completed {
	}
}

// ExitCurrent marks the calling task Completed and switches away from
// it; spec §4.5's Join/destruction contract.
func (s *Scheduler) ExitCurrent() {
	s.Tick(nil)
}

// Destroy joins t, asserts it has no children (spec §3 invariant iv),
// reclaims its PD if it owned one, and frees its stacks.
func (s *Scheduler) Destroy(t *Task) error {
	s.Join(t)
	t.mu.Lock()
	nchildren := len(t.Children)
	t.mu.Unlock()
	if nchildren != 0 {
		return ErrNotCompleted
	}
	if t.IsUser {
		if err := t.PD.Reclaim(); err != nil {
			return err
		}
		s.kheap.Free(t.Esp0Stack)
	} else if t != s.main {
		s.kheap.Free(t.KernelStack)
	}
	return nil
}
