// Package mem implements the physical frame map: a refcounted bitmap
// over the machine's 4 MiB physical frames.
package mem

import (
	"sync"
	"sync/atomic"

	"toykernel/internal/kerrors"
)

// PageShift is the base-2 exponent of the 4 MiB page size used
// throughout the kernel (PSE large pages only; see spec §6).
const PageShift = 22

// PageSize4M is the size in bytes of a single physical/virtual page.
const PageSize4M = 1 << PageShift

// PageMask4M masks the page number out of an address.
const PageMask4M Pa_t = ^(Pa_t(PageSize4M - 1))

// NumFrames is the number of 4 MiB frames tracked by the frame map,
// i.e. the total physical address space this design can describe
// (1024 * 4 MiB = 4 GiB), matching spec §3 "fixed array of 1024 frame
// records."
const NumFrames = 1024

// ReservedFrames is the number of frames permanently reserved at boot
// (first 128 MiB), per spec §3 invariant (iii).
const ReservedFrames = 32

// Pa_t is a physical address. Named after biscuit's mem.Pa_t.
type Pa_t uintptr

// PageIndex returns the frame index containing pa.
func PageIndex(pa Pa_t) uint32 {
	return uint32(pa >> PageShift)
}

// PageAddr returns the physical address of frame index idx.
func PageAddr(idx uint32) Pa_t {
	return Pa_t(idx) << PageShift
}

// Errors returned by FrameMap operations. Resource exhaustion and
// caller-detectable misuse are named errors per spec §7 ("Resource
// exhaustion... surfaced as a named error to the caller"); everything
// else in this kernel's core is an assertion/panic.
var (
	ErrOutOfMemory   = kerrors.New("mem", "no free physical frame")
	ErrDoubleMap     = kerrors.New("mem", "frame already mapped by this caller")
	ErrUnderflowFree = kerrors.New("mem", "refcount underflow on free")
)

type frame struct {
	refcnt uint32
	used   uint32 // 0/1, kept separate from refcnt so "used" is an explicit bit per spec §3(i)
}

// FrameMap is the refcounted bitmap over physical frames described in
// spec §3/§4.1. It is a process-wide singleton created once at boot
// and held for the kernel's lifetime (Lifecycle, spec §3).
//
// Grounded on biscuit/src/mem/mem.go's Physmem_t: a fixed frame table
// with atomically-maintained per-frame refcounts protected against
// concurrent mutation by a mutex standing in for the "interrupts
// disabled" discipline of spec §5.
type FrameMap struct {
	mu     sync.Mutex
	frames [NumFrames]frame

	// OOM is notified whenever AllocFrame exhausts the frame map. It is
	// a diagnostic/observability hook, not a resize-and-retry protocol
	// (this design has no swapping or reclaim-on-demand, spec.md §1
	// Non-goals): sends are non-blocking and drop the event if nothing
	// is listening, so a production boot with no monitor attached never
	// stalls an allocator on an unread channel.
	//
	// Grounded on biscuit/src/oommsg/oommsg.go's OomCh/Oommsg_t,
	// narrowed from biscuit's "pause allocation and wait for a reply on
	// Resume" protocol (meaningless here: there is nothing this kernel
	// can free in response, since it has no swap or page reclaim) down
	// to a fire-and-forget notification a boot-time diagnostic logger
	// can subscribe to.
	OOM chan OomEvent

	// content models the bytes living in each physical frame: a
	// freestanding build addresses physical memory directly through
	// whatever virtual window it mapped; the hosted model has no real
	// RAM behind a Pa_t; content[idx] is the backing store every
	// mapping of frame idx, in any task's page directory, ultimately
	// reads and writes, so a byte written through one task's window
	// and read through another's observes the same content, the same
	// way two PDEs mapping the same physical frame would on real
	// hardware. Allocated lazily per frame since NumFrames*PageSize4M
	// would otherwise reserve 4 GiB up front.
	contentMu sync.Mutex
	content   map[uint32][]byte
}

// Frame returns the PageSize4M-byte slice backing the physical frame
// containing pa, allocating and zeroing it on first use. The returned
// slice aliases the frame map's own storage: writes through it are
// visible to every other caller addressing the same pa, matching a
// real mapped physical frame.
func (fm *FrameMap) Frame(pa Pa_t) []byte {
	idx := PageIndex(pa)
	fm.contentMu.Lock()
	defer fm.contentMu.Unlock()
	if fm.content == nil {
		fm.content = make(map[uint32][]byte)
	}
	buf, ok := fm.content[idx]
	if !ok {
		buf = make([]byte, PageSize4M)
		fm.content[idx] = buf
	}
	return buf
}

// OomEvent is sent on FrameMap.OOM each time AllocFrame fails.
type OomEvent struct {
	Start uint32 // the search start index that was passed to AllocFrame
}

// New constructs an empty frame map with nothing reserved.
func New() *FrameMap {
	return &FrameMap{OOM: make(chan OomEvent, 1)}
}

// Reserve marks the first n frames used, per spec §4.1: "idempotent
// with respect to the bit; not idempotent on refcount." Used once at
// boot to exclude low RAM (spec §9: allocators start searching from
// frame 1, never frame 0).
func (fm *FrameMap) Reserve(n int) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for i := 0; i < n && i < NumFrames; i++ {
		fm.frames[i].refcnt++
		fm.frames[i].used = 1
	}
}

// NextFree returns the physical address of the first frame with
// refcount 0 at or after frame index start. It does not mark the
// frame used; spec §4.1 "next_free(start)".
func (fm *FrameMap) NextFree(start uint32) (Pa_t, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for i := start; i < NumFrames; i++ {
		if fm.frames[i].refcnt == 0 {
			return PageAddr(i), nil
		}
	}
	return 0, ErrOutOfMemory
}

// MarkUsed increments the refcount of the frame containing pa and
// sets its used bit. Spec §4.1 "mark_used(idx)": the DoubleMap
// contract is the caller's to enforce (e.g. a PageDirectory must not
// map the same physical frame into the same PDE twice); this method
// only performs the bookkeeping increment.
func (fm *FrameMap) MarkUsed(pa Pa_t) {
	idx := PageIndex(pa)
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.frames[idx].refcnt++
	fm.frames[idx].used = 1
}

// MarkFree decrements the refcount of the frame containing pa,
// clearing the used bit only once the refcount reaches zero. Spec
// §4.1 "mark_free(idx)". Returns ErrUnderflowFree if the frame was
// already free, matching biscuit's Refdown panic-on-negative
// invariant but surfaced as an error per spec §7.
func (fm *FrameMap) MarkFree(pa Pa_t) (freed bool, err error) {
	idx := PageIndex(pa)
	fm.mu.Lock()
	defer fm.mu.Unlock()
	f := &fm.frames[idx]
	if f.refcnt == 0 {
		return false, ErrUnderflowFree
	}
	f.refcnt--
	if f.refcnt == 0 {
		f.used = 0
		return true, nil
	}
	return false, nil
}

// Refcnt reports the current reference count of the frame containing
// pa, mirroring biscuit's Physmem_t.Refcnt.
func (fm *FrameMap) Refcnt(pa Pa_t) int {
	idx := PageIndex(pa)
	return int(atomic.LoadUint32(&fm.frames[idx].refcnt))
}

// IsUsed reports whether the frame containing pa is marked used.
func (fm *FrameMap) IsUsed(pa Pa_t) bool {
	idx := PageIndex(pa)
	return atomic.LoadUint32(&fm.frames[idx].used) != 0
}

// AllocFrame finds and marks used the first free frame at or after
// start, atomically with respect to other allocators. It is the
// combination next_free+mark_used that every caller other than boot
// reservation actually wants.
func (fm *FrameMap) AllocFrame(start uint32) (Pa_t, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for i := start; i < NumFrames; i++ {
		if fm.frames[i].refcnt == 0 {
			fm.frames[i].refcnt = 1
			fm.frames[i].used = 1
			return PageAddr(i), nil
		}
	}
	select {
	case fm.OOM <- OomEvent{Start: start}:
	default:
	}
	return 0, ErrOutOfMemory
}
