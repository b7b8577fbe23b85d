package task

import (
	"testing"

	"toykernel/internal/heap"
	"toykernel/internal/interrupt"
	"toykernel/internal/mem"
	"toykernel/internal/vmm"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	fm := mem.New()
	fm.Reserve(1)
	mgr := vmm.NewManager(fm)
	kheap, err := heap.New(mgr.Kernel, fm, vmm.KHeapBegin, vmm.KHeapEnd)
	if err != nil {
		t.Fatal(err)
	}
	tbl := interrupt.NewTable()
	return NewScheduler(mgr, kheap, tbl)
}

func TestNewSchedulerMainTaskIsRunningAndQueued(t *testing.T) {
	s := newTestScheduler(t)
	if s.Current() != s.main {
		t.Fatalf("expected main task to be current")
	}
	if s.main.State() != Running {
		t.Fatalf("expected main task RUNNING, got %v", s.main.State())
	}
	if s.Queue.Len() != 1 {
		t.Fatalf("expected queue length 1, got %d", s.Queue.Len())
	}
}

func TestTickFastPathWithFewerThanTwoTasks(t *testing.T) {
	s := newTestScheduler(t)
	before := s.Current()
	s.Tick(&interrupt.Frame{IntNo: 32, ESP0: 0x1000, CS: 0x08})
	if s.Current() != before {
		t.Fatalf("expected no switch with only one ready task")
	}
}

func TestCreateKernelTaskEnqueuesReady(t *testing.T) {
	s := newTestScheduler(t)
	child, err := s.CreateKernelTask(func() {})
	if err != nil {
		t.Fatal(err)
	}
	if child.State() != Ready {
		t.Fatalf("expected newly created task READY, got %v", child.State())
	}
	if s.Queue.Len() != 2 {
		t.Fatalf("expected queue length 2, got %d", s.Queue.Len())
	}
	if child.Parent != s.main {
		t.Fatalf("expected child's parent to be the main task")
	}
}

func TestReadyQueueRotateHeadOrdering(t *testing.T) {
	var q ReadyQueue
	a := &Task{ID: 1}
	b := &Task{ID: 2}
	q.PushBack(a)
	q.PushBack(b)

	got := q.RotateHead()
	if got != a {
		t.Fatalf("expected head a, got %v", got)
	}
	if q.tasks[0] != b || q.tasks[1] != a {
		t.Fatalf("expected rotation to move a to the tail")
	}
}

func TestReadyQueueRemove(t *testing.T) {
	var q ReadyQueue
	a := &Task{ID: 1}
	b := &Task{ID: 2}
	q.PushBack(a)
	q.PushBack(b)

	if !q.Remove(a) {
		t.Fatalf("expected Remove to find a")
	}
	if q.Len() != 1 {
		t.Fatalf("expected length 1 after remove, got %d", q.Len())
	}
	if q.Remove(a) {
		t.Fatalf("expected second Remove of a to fail")
	}
}

func TestStateStringer(t *testing.T) {
	cases := map[State]string{Ready: "READY", Running: "RUNNING", Completed: "COMPLETED"}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
