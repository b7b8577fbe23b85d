package task

// CrossCopy implements the cross-task memory copy used by syscalls
// (spec §4.5): otherVaddr's containing 4 MiB page is resolved to its
// backing physical frame through other's page directory, and the copy
// runs directly against that frame's bytes (internal/mem.FrameMap.Frame),
// the hosted model's stand-in for a freestanding build's temporary
// mapping of the frame into the current PD. toOther selects the
// direction: true copies current->other, false copies other->current.
// buf holds the current task's side of the copy; size is the byte
// count (buf must be at least that long). Unlike a real temporary
// mapping, this needs no current-PD install/remove step and so applies
// uniformly whether or not other == the current task.
//
// Grounded on original_source/kernel/task.cpp's TaskMemcpy<Direction>,
// collapsed from a compile-time template parameter to a bool since Go
// has no equivalent specialization mechanism.
func (s *Scheduler) CrossCopy(other *Task, buf []byte, otherVaddr uintptr, size int, toOther bool) error {
	pageBase := otherVaddr &^ (uintptr(0x400000) - 1)
	offset := int(otherVaddr - pageBase)

	paddr, err := other.PD.GetPhysical(pageBase)
	if err != nil {
		return err
	}

	window := s.mgr.Frames.Frame(paddr)[offset : offset+size]
	if toOther {
		copy(window, buf[:size])
	} else {
		copy(buf[:size], window)
	}
	return nil
}
