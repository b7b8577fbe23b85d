package task

import (
	"testing"

	"toykernel/internal/vmm"
)

func TestCrossCopyReadsRealCodeBytesFromAnotherTask(t *testing.T) {
	s := newTestScheduler(t)
	code := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	child, err := s.CreateUserTask(code, 0)
	if err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(code))
	if err := s.CrossCopy(child, got, uintptr(vmm.UserStart), len(code), false); err != nil {
		t.Fatal(err)
	}
	for i := range code {
		if got[i] != code[i] {
			t.Fatalf("byte %d: got %#x, want %#x", i, got[i], code[i])
		}
	}
}

func TestCrossCopyWritesIntoAnotherTasksAddressSpace(t *testing.T) {
	s := newTestScheduler(t)
	child, err := s.CreateUserTask([]byte{0, 0, 0, 0}, 0)
	if err != nil {
		t.Fatal(err)
	}

	want := []byte{1, 2, 3, 4}
	if err := s.CrossCopy(child, want, uintptr(vmm.UserStart), len(want), true); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(want))
	if err := s.CrossCopy(child, got, uintptr(vmm.UserStart), len(got), false); err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestCrossCopySameTaskRoundTrips(t *testing.T) {
	s := newTestScheduler(t)
	cur := s.Current()

	paddr, err := s.mgr.Frames.AllocFrame(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := cur.PD.AddPage(vmm.KHeapEnd, paddr, 0, true); err != nil {
		t.Fatal(err)
	}

	want := []byte{7, 8, 9}
	if err := s.CrossCopy(cur, want, vmm.KHeapEnd, len(want), true); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(want))
	if err := s.CrossCopy(cur, got, vmm.KHeapEnd, len(got), false); err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %#x, want %#x", i, got[i], want[i])
		}
	}
}
