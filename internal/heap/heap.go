// Package heap implements the kernel's freestanding allocator: a
// first-fit walk over a singly-linked chain of chunk headers living in
// a growing virtual region, backed by 4 MiB frames mapped on demand.
//
// Grounded on original_source/utils/allocator.cpp's Allocator (the
// CanUseChunk alignment-splitting predicate, the realloc shrink/grow
// split rules, and the forward-coalescing free), translated into the
// teacher's idiom: a mutex-guarded singleton standing in for the
// "disable interrupts for the duration of each malloc/free/realloc"
// discipline spec.md §5 requires, the same way internal/mem and
// internal/vmm model "interrupts disabled" critical sections.
package heap

import (
	"encoding/binary"
	"sync"

	"toykernel/internal/kerrors"
	"toykernel/internal/mem"
	"toykernel/internal/util"
	"toykernel/internal/vmm"
)

// headerSize is sizeof(MallocHeader) in original_source/utils/include/allocator.h:
// a packed 4-byte {size:31, used:1} bitfield.
const headerSize = 4

// usedBit is bit 31 of the packed header.
const usedBit = uint32(1) << 31

var (
	ErrZeroSize       = kerrors.New("heap", "malloc of size 0 returns nil")
	ErrHeapExhausted  = kerrors.New("heap", "heap top reached KHEAP_END")
	ErrBadAlignment   = kerrors.New("heap", "alignment must be a power of two")
	ErrNotAllocated   = kerrors.New("heap", "pointer was not returned by this heap")
	ErrDoubleFree     = kerrors.New("heap", "chunk is already free")
)

// Heap is the first-fit allocator over [begin, end), per spec §4.3.
// mem is the software model's view of the heap's bytes: it grows, via
// Grow, exactly as far as frames have been mapped into the virtual
// range, so an out-of-bounds access here would equally fault against
// an unmapped PDE on real hardware.
type Heap struct {
	mu    sync.Mutex
	pd    *vmm.PageDirectory
	fm    *mem.FrameMap
	begin uintptr
	end   uintptr // 0 == unbounded (no KHEAP_END check)
	buf   []byte  // buf[i] models the byte at virtual address begin+i
	used  uint32
}

// New constructs a heap over [begin, end) backed by frames obtained
// from fm and mapped into pd, then performs the one-byte sbrk spec.md
// §4.7 step 4 describes ("Initialize heap by requesting the first
// frame from sbrk"), which also lays down the first chunk header.
func New(pd *vmm.PageDirectory, fm *mem.FrameMap, begin, end uintptr) (*Heap, error) {
	h := &Heap{pd: pd, fm: fm, begin: begin, end: end}
	if err := h.grow(1); err != nil {
		return nil, err
	}
	return h, nil
}

// grow maps whole additional frames until the heap covers at least
// need bytes total, per the sbrk contract in
// original_source/utils/include/allocator.h ("the new heap top
// returned can increase more than what was the request amount"). Each
// newly mapped frame either extends the previous top chunk, if it was
// free and reached the old top exactly, or becomes a fresh free chunk
// header — this module's resolution of how the original's externally
// defined sbrk_ keeps the chunk chain contiguous across a grow.
func (h *Heap) grow(need int) error {
	for len(h.buf) < need {
		if h.end != 0 && h.begin+uintptr(len(h.buf))+mem.PageSize4M > h.end {
			return ErrHeapExhausted
		}
		paddr, err := h.fm.NextFree(1)
		if err != nil {
			return mem.ErrOutOfMemory
		}
		oldTop := len(h.buf)
		vaddr := h.begin + uintptr(oldTop)
		if err := h.pd.AddPage(vaddr, paddr, 0, false); err != nil {
			return err
		}
		h.buf = append(h.buf, make([]byte, mem.PageSize4M)...)

		if off := lastChunkOffset(h.buf[:oldTop]); off >= 0 {
			size, used := readHeader(h.buf, off)
			if !used && off+int(size) == oldTop {
				writeHeader(h.buf, off, size+mem.PageSize4M, false)
				continue
			}
		}
		writeHeader(h.buf, oldTop, mem.PageSize4M, false)
	}
	return nil
}

// lastChunkOffset walks the chunk chain in buf and returns the offset
// of the final chunk header, or -1 if buf holds no chunks yet.
func lastChunkOffset(buf []byte) int {
	if len(buf) < headerSize {
		return -1
	}
	off := 0
	for {
		size, _ := readHeader(buf, off)
		if size == 0 || off+int(size) >= len(buf) {
			return off
		}
		off += int(size)
	}
}

func readHeader(buf []byte, off int) (size uint32, used bool) {
	raw := binary.LittleEndian.Uint32(buf[off : off+4])
	return raw &^ usedBit, raw&usedBit != 0
}

func writeHeader(buf []byte, off int, size uint32, used bool) {
	raw := size &^ usedBit
	if used {
		raw |= usedBit
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], raw)
}

// isPow2 reports whether n is a nonzero power of two.
func isPow2(n uint32) bool { return n != 0 && n&(n-1) == 0 }

// canUseChunk mirrors original_source/utils/allocator.cpp's CanUseChunk
// closure: a chunk is usable if free, large enough, and either already
// aligned with room for (at most) a trailing split, or alignable by
// splitting off an unaligned head chunk at least headerSize long.
func canUseChunk(base uintptr, off int, size uint32, used bool, realsize uint32, alignment uint32) (ok bool, adjust uint32) {
	if used || size < realsize {
		return false, 0
	}
	addr := uint32(base) + uint32(off) + headerSize
	adjust = (alignment - (addr % alignment)) % alignment
	if adjust == 0 {
		return size-realsize == 0 || size-realsize >= headerSize, 0
	}
	if adjust < headerSize {
		return false, 0
	}
	if size < realsize+adjust {
		return false, 0
	}
	return true, adjust
}

// Malloc allocates size bytes aligned to a word boundary. Equivalent to
// Malloc(size, 4) in the original allocator.
func (h *Heap) Malloc(size uint32) (uintptr, error) {
	return h.MallocAligned(size, headerSize)
}

// MallocAligned allocates size bytes whose returned address is a
// multiple of alignment, which must be a power of two. Spec §4.3
// "malloc(size, alignment=word)".
func (h *Heap) MallocAligned(size uint32, alignment uint32) (uintptr, error) {
	if !isPow2(alignment) {
		return 0, ErrBadAlignment
	}
	if size == 0 {
		return 0, nil
	}
	realsize := headerSize + size

	h.mu.Lock()
	defer h.mu.Unlock()

	off := 0
	var adjust uint32
	for {
		if off >= len(h.buf) {
			if err := h.grow(off + int(realsize) + headerSize); err != nil {
				return 0, err
			}
			// grow may have merged the new frames into the previous
			// top chunk instead of starting a fresh header exactly at
			// the old off; re-find the chunk that now covers it.
			off = lastChunkOffset(h.buf)
		}
		chunkSize, used := readHeader(h.buf, off)
		if chunkSize == 0 {
			return 0, kerrors.New("heap", "corrupted chunk marked used but has 0 size")
		}
		ok, adj := canUseChunk(h.begin, off, chunkSize, used, realsize, alignment)
		if ok {
			adjust = adj
			break
		}
		off += int(chunkSize)
	}

	if adjust != 0 {
		chunkSize, _ := readHeader(h.buf, off)
		otherOff := off + int(adjust)
		writeHeader(h.buf, otherOff, chunkSize-adjust, false)
		writeHeader(h.buf, off, adjust, false)
		off = otherOff
	}

	chunkSize, _ := readHeader(h.buf, off)
	if chunkSize == realsize {
		writeHeader(h.buf, off, chunkSize, true)
	} else {
		otherOff := off + int(realsize)
		writeHeader(h.buf, otherOff, chunkSize-realsize, false)
		writeHeader(h.buf, off, realsize, true)
	}

	h.used += realsize
	return h.begin + uintptr(off+headerSize), nil
}

func (h *Heap) headerOffset(p uintptr) (int, error) {
	if p < h.begin+headerSize {
		return 0, ErrNotAllocated
	}
	off := int(p-h.begin) - headerSize
	if off < 0 || off+headerSize > len(h.buf) {
		return 0, ErrNotAllocated
	}
	return off, nil
}

// Free marks the chunk backing p unused, then coalesces every
// immediately following free chunk into it. Spec §4.3 "free(p)".
func (h *Heap) Free(p uintptr) error {
	if p == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	off, err := h.headerOffset(p)
	if err != nil {
		return err
	}
	size, used := readHeader(h.buf, off)
	if !used {
		return ErrDoubleFree
	}
	writeHeader(h.buf, off, size, false)
	h.used -= size

	for off+int(size) < len(h.buf) {
		nextOff := off + int(size)
		nextSize, nextUsed := readHeader(h.buf, nextOff)
		if nextUsed {
			break
		}
		size += nextSize
		writeHeader(h.buf, off, size, false)
	}
	return nil
}

// Realloc resizes the allocation at p. A same-size request is a no-op;
// a shrink that leaves room for a trailing header splits in place;
// everything else falls back to malloc+copy+free. size == 0 returns 0
// without freeing p, per spec §4.3 ("not equivalent to free").
func (h *Heap) Realloc(p uintptr, size uint32) (uintptr, error) {
	if size == 0 {
		return 0, nil
	}

	h.mu.Lock()
	off, err := h.headerOffset(p)
	if err != nil {
		h.mu.Unlock()
		return 0, err
	}
	chunkSize, used := readHeader(h.buf, off)
	if !used {
		h.mu.Unlock()
		return 0, ErrNotAllocated
	}
	realsize := size + headerSize

	if chunkSize == realsize {
		h.mu.Unlock()
		return p, nil
	}
	if chunkSize > realsize+headerSize {
		otherOff := off + int(realsize)
		otherSize := chunkSize - realsize
		writeHeader(h.buf, otherOff, otherSize, false)
		writeHeader(h.buf, off, realsize, true)
		h.used -= otherSize
		h.mu.Unlock()
		return p, nil
	}
	h.mu.Unlock()

	newp, err := h.Malloc(size)
	if err != nil {
		return 0, err
	}
	oldsize := chunkSize - headerSize
	cpysize := util.Min(oldsize, size)
	h.mu.Lock()
	oldOff, _ := h.headerOffset(p)
	newOff, _ := h.headerOffset(newp)
	copy(h.buf[newOff+headerSize:newOff+headerSize+int(cpysize)], h.buf[oldOff+headerSize:oldOff+headerSize+int(cpysize)])
	h.mu.Unlock()

	if err := h.Free(p); err != nil {
		return 0, err
	}
	return newp, nil
}

// Calloc allocates num*sz bytes and zero-fills them.
func (h *Heap) Calloc(num, sz uint32) (uintptr, error) {
	total := num * sz
	p, err := h.Malloc(total)
	if err != nil || p == 0 {
		return p, err
	}
	h.mu.Lock()
	off, _ := h.headerOffset(p)
	for i := range h.buf[off+headerSize : off+headerSize+int(total)] {
		h.buf[off+headerSize+i] = 0
	}
	h.mu.Unlock()
	return p, nil
}

// Used returns the sum of every allocated chunk's byte count,
// including headers, matching the original's heap_used_ accounting.
func (h *Heap) Used() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}
