package mem

import "testing"

func TestReserveIsUsedButRefcountGrowsEachCall(t *testing.T) {
	fm := New()
	fm.Reserve(ReservedFrames)
	for i := 0; i < ReservedFrames; i++ {
		pa := PageAddr(uint32(i))
		if !fm.IsUsed(pa) {
			t.Fatalf("frame %d: expected used after Reserve", i)
		}
		if got := fm.Refcnt(pa); got != 1 {
			t.Fatalf("frame %d: expected refcnt 1, got %d", i, got)
		}
	}
	// Reserve again: bit stays set, refcount keeps climbing (spec §4.1:
	// "idempotent with respect to the bit; not idempotent on refcount").
	fm.Reserve(ReservedFrames)
	if got := fm.Refcnt(PageAddr(0)); got != 2 {
		t.Fatalf("expected refcnt 2 after second reserve, got %d", got)
	}
}

func TestNextFreeSkipsReservedAndDoesNotMark(t *testing.T) {
	fm := New()
	fm.Reserve(ReservedFrames)
	pa, err := fm.NextFree(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := PageIndex(pa); got != ReservedFrames {
		t.Fatalf("expected first free frame at index %d, got %d", ReservedFrames, got)
	}
	if fm.IsUsed(pa) {
		t.Fatalf("NextFree must not mark the frame used")
	}
}

func TestMarkUsedMarkFreeRoundTrip(t *testing.T) {
	fm := New()
	pa, err := fm.NextFree(1)
	if err != nil {
		t.Fatal(err)
	}
	fm.MarkUsed(pa)
	fm.MarkUsed(pa) // simulate a second PD referencing the same frame after a clone
	if got := fm.Refcnt(pa); got != 2 {
		t.Fatalf("expected refcnt 2, got %d", got)
	}
	freed, err := fm.MarkFree(pa)
	if err != nil {
		t.Fatal(err)
	}
	if freed {
		t.Fatalf("frame should still be referenced once")
	}
	freed, err = fm.MarkFree(pa)
	if err != nil {
		t.Fatal(err)
	}
	if !freed {
		t.Fatalf("frame should be freed once refcount reaches zero")
	}
	if fm.IsUsed(pa) {
		t.Fatalf("frame must be unused once refcount reaches zero")
	}
}

func TestMarkFreeUnderflow(t *testing.T) {
	fm := New()
	pa := PageAddr(5)
	if _, err := fm.MarkFree(pa); err != ErrUnderflowFree {
		t.Fatalf("expected ErrUnderflowFree, got %v", err)
	}
}

func TestOutOfMemory(t *testing.T) {
	fm := New()
	fm.Reserve(NumFrames)
	if _, err := fm.NextFree(0); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
}

func TestAllocFrameStartsAtOne(t *testing.T) {
	fm := New()
	fm.Reserve(1) // reserve only frame 0, mimicking the multiboot-data frame
	pa, err := fm.AllocFrame(1)
	if err != nil {
		t.Fatal(err)
	}
	if got := PageIndex(pa); got != 1 {
		t.Fatalf("expected frame 1 allocated, got %d", got)
	}
	if got := fm.Refcnt(pa); got != 1 {
		t.Fatalf("expected refcnt 1 after alloc, got %d", got)
	}
}

func TestAllocFrameNotifiesOOMWhenExhausted(t *testing.T) {
	fm := New()
	fm.Reserve(NumFrames)
	if _, err := fm.AllocFrame(0); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
	select {
	case ev := <-fm.OOM:
		if ev.Start != 0 {
			t.Fatalf("expected OomEvent.Start == 0, got %d", ev.Start)
		}
	default:
		t.Fatalf("expected an OomEvent on fm.OOM after an exhausted AllocFrame")
	}
}
