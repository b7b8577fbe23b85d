package syscall

import (
	"testing"

	"toykernel/internal/heap"
	"toykernel/internal/interrupt"
	"toykernel/internal/mem"
	"toykernel/internal/task"
	"toykernel/internal/vmm"
)

func newTestEnv(t *testing.T) (*Env, *mem.FrameMap) {
	t.Helper()
	fm := mem.New()
	fm.Reserve(1)
	mgr := vmm.NewManager(fm)
	kheap, err := heap.New(mgr.Kernel, fm, vmm.KHeapBegin, vmm.KHeapEnd)
	if err != nil {
		t.Fatal(err)
	}
	sched := task.NewScheduler(mgr, kheap, interrupt.NewTable())
	env, _ := NewEnv(sched, fm, nil, nil)
	return env, fm
}

func TestDebugWriteEmitsBytesReadFromCallerAddressSpace(t *testing.T) {
	env, _ := newTestEnv(t)
	cur := env.Sched.Current()

	paddr, err := env.Frames.AllocFrame(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := cur.PD.AddPage(vmm.KHeapEnd, paddr, 0, true); err != nil {
		t.Fatal(err)
	}
	msg := []byte("hi\x00")
	if err := env.Sched.CrossCopy(cur, msg, vmm.KHeapEnd, len(msg), true); err != nil {
		t.Fatal(err)
	}

	var got []byte
	env.PutChar = func(b byte) { got = append(got, b) }

	env.debugWrite(&interrupt.Frame{}, Args{EBX: uint32(vmm.KHeapEnd)})
	if string(got) != "hi" {
		t.Fatalf("debugWrite emitted %q, want %q", got, "hi")
	}
}

func TestCreateUserTaskCopiesRealCodeIntoChild(t *testing.T) {
	env, _ := newTestEnv(t)
	cur := env.Sched.Current()

	code := []byte{1, 2, 3, 4}
	paddr, err := env.Frames.AllocFrame(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := cur.PD.AddPage(vmm.SharedHandoffVA, paddr, 0, true); err != nil {
		t.Fatal(err)
	}
	if err := env.Sched.CrossCopy(cur, code, vmm.SharedHandoffVA, len(code), true); err != nil {
		t.Fatal(err)
	}

	ret := env.createUserTask(&interrupt.Frame{}, Args{
		EBX: uint32(vmm.SharedHandoffVA),
		ECX: uint32(len(code)),
		ESI: 0, // write-back target left unmapped; this test only checks the code copy
	})
	if ret == ^uint32(0) {
		t.Fatalf("createUserTask failed")
	}
	if len(env.handles) != 1 {
		t.Fatalf("expected one handle registered, got %d", len(env.handles))
	}
	var child *task.Task
	for _, c := range env.handles {
		child = c
	}

	got := make([]byte, len(code))
	if err := env.Sched.CrossCopy(child, got, uintptr(vmm.UserStart), len(got), false); err != nil {
		t.Fatal(err)
	}
	for i := range code {
		if got[i] != code[i] {
			t.Fatalf("child code byte %d = %d, want %d", i, got[i], code[i])
		}
	}
}

func TestCopyFromTaskMovesBytesFromTargetIntoCallerDst(t *testing.T) {
	env, _ := newTestEnv(t)
	cur := env.Sched.Current()

	child, err := env.Sched.CreateUserTask([]byte{9, 8, 7, 6}, 0)
	if err != nil {
		t.Fatal(err)
	}
	h := env.addHandle(child)

	dstPaddr, err := env.Frames.AllocFrame(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := cur.PD.AddPage(vmm.KHeapEnd, dstPaddr, 0, true); err != nil {
		t.Fatal(err)
	}

	ret := env.copyFromTask(&interrupt.Frame{}, Args{
		EBX: h,
		ECX: uint32(vmm.KHeapEnd),
		EDX: uint32(vmm.UserStart),
		ESI: 4,
	})
	if ret != 0 {
		t.Fatalf("copyFromTask returned %d, want 0", ret)
	}

	got := make([]byte, 4)
	if err := env.Sched.CrossCopy(cur, got, vmm.KHeapEnd, len(got), false); err != nil {
		t.Fatal(err)
	}
	want := []byte{9, 8, 7, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMapPageUnalignedVaddrLeavesNoFrameAllocated(t *testing.T) {
	env, fm := newTestEnv(t)

	before, _ := fm.NextFree(1)
	ret := env.mapPage(&interrupt.Frame{}, Args{EBX: 1})
	if int32(ret) != MapErrUnaligned {
		t.Fatalf("mapPage returned %d, want MapErrUnaligned", int32(ret))
	}
	after, _ := fm.NextFree(1)
	if after != before {
		t.Fatalf("next free frame moved from %v to %v on unaligned mapPage", before, after)
	}
}
