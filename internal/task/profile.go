package task

import "toykernel/internal/profexport"

// Samples snapshots every task currently on the ready queue as
// internal/profexport.TaskSample values, for export as a pprof
// profile. Tasks already removed from the queue (completed but not yet
// destroyed) are not included.
func (s *Scheduler) Samples() []profexport.TaskSample {
	s.Queue.mu.Lock()
	tasks := append([]*Task(nil), s.Queue.tasks...)
	s.Queue.mu.Unlock()

	out := make([]profexport.TaskSample, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, profexport.TaskSample{
			ID:       t.ID,
			Name:     t.Name,
			Snapshot: t.Accnt.Fetch(),
		})
	}
	return out
}
