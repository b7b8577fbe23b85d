// Package profexport turns accumulated per-task CPU accounting into a
// github.com/google/pprof/profile so the runtime's time distribution
// across tasks can be inspected with standard pprof tooling (spec.md
// §2 domain-stack expansion, fed by internal/accnt). No syscall and no
// shutdown path in the kernel calls it.
//
// Grounded on the pack's only consumer of the profile package,
// github.com/google/pprof itself: a profile is just two sample types
// (user/system nanoseconds) with one sample per task, each carrying a
// synthetic single-frame stack naming the task so `pprof -top` groups
// by task instead of by call site.
package profexport

import (
	"fmt"
	"io"

	"github.com/google/pprof/profile"

	"toykernel/internal/accnt"
)

// TaskSample names one task's accounting snapshot for export.
type TaskSample struct {
	ID   uint64
	Name string
	accnt.Snapshot
}

// Build assembles a profile.Profile with two sample types, "usertime"
// and "systime" (both in nanoseconds), one profile.Sample per task.
// Each sample's single Location carries a synthetic Function named
// after the task so standard pprof report modes (top, list, tree)
// group by task.
func Build(samples []TaskSample) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "usertime", Unit: "nanoseconds"},
			{Type: "systime", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "usertime", Unit: "nanoseconds"},
		Period:     1,
	}

	for i, s := range samples {
		id := uint64(i + 1)
		fn := &profile.Function{
			ID:   id,
			Name: fmt.Sprintf("task[%d]:%s", s.ID, s.Name),
		}
		loc := &profile.Location{
			ID:   id,
			Line: []profile.Line{{Function: fn, Line: 0}},
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{s.Userns, s.Sysns},
			Label:    map[string][]string{"task": {s.Name}},
		})
	}
	return p
}

// Write validates and serializes the profile built from samples to w
// in the standard gzip-compressed protobuf wire format.
func Write(w io.Writer, samples []TaskSample) error {
	p := Build(samples)
	if err := p.CheckValid(); err != nil {
		return err
	}
	return p.Write(w)
}
