// Package accnt accumulates per-task CPU accounting: nanoseconds of
// user time versus nanoseconds of system (kernel) time.
//
// Grounded closely on biscuit/src/accnt/accnt.go's Accnt_t: the same
// Utadd/Systadd/Now/Finish/Add shape and /// doc-comment density,
// trimmed of the POSIX rusage serialization this kernel has no use
// for (no userland wait4) in favor of a Snapshot used by
// internal/profexport to build a pprof profile.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt_t accumulates one task's runtime. The embedded mutex lets
// callers take a consistent snapshot of both fields together.
type Accnt_t struct {
	/// Nanoseconds of user time consumed.
	Userns int64
	/// Nanoseconds of system time consumed.
	Sysns int64
	mu     sync.Mutex
}

/// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

/// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

/// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt_t) Now() int64 {
	return time.Now().UnixNano()
}

/// Finish adds time elapsed since inttime to the system-time counter.
/// The scheduler does not call it; counters change only through
/// explicit calls.
func (a *Accnt_t) Finish(inttime int64) {
	a.Systadd(a.Now() - inttime)
}

/// Add merges n's counters into a, taking a's lock for the duration.
func (a *Accnt_t) Add(n *Accnt_t) {
	un := atomic.LoadInt64(&n.Userns)
	sn := atomic.LoadInt64(&n.Sysns)
	a.mu.Lock()
	a.Userns += un
	a.Sysns += sn
	a.mu.Unlock()
}

// Snapshot is a consistent point-in-time read of both counters.
type Snapshot struct {
	Userns int64
	Sysns  int64
}

/// Fetch returns a consistent snapshot of the accounting counters.
func (a *Accnt_t) Fetch() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{Userns: a.Userns, Sysns: a.Sysns}
}
