package guard

import (
	"sort"
	"sync"
)

// registry tracks in-flight runs and the pids of their attached processes.
// Each map has its own lock because ForceCancelTest may arrive from any
// goroutine. Only pids are kept: the *os.Process belongs to whoever started
// it and is never released here.
type registry struct {
	testsMu sync.Mutex
	tests   map[string]*runState

	procsMu sync.Mutex
	procs   map[string]int
}

func newRegistry() *registry {
	return &registry{
		tests: make(map[string]*runState),
		procs: make(map[string]int),
	}
}

// add registers a run. It fails if the test id is already active.
func (r *registry) add(run *runState) bool {
	r.testsMu.Lock()
	defer r.testsMu.Unlock()
	if _, ok := r.tests[run.testID]; ok {
		return false
	}
	r.tests[run.testID] = run
	return true
}

// remove deregisters run, leaving a newer run under the same id untouched.
func (r *registry) remove(run *runState) {
	r.testsMu.Lock()
	defer r.testsMu.Unlock()
	if r.tests[run.testID] == run {
		delete(r.tests, run.testID)
	}
}

func (r *registry) lookup(testID string) *runState {
	r.testsMu.Lock()
	defer r.testsMu.Unlock()
	return r.tests[testID]
}

func (r *registry) testIDs() []string {
	r.testsMu.Lock()
	ids := make([]string, 0, len(r.tests))
	for id := range r.tests {
		ids = append(ids, id)
	}
	r.testsMu.Unlock()
	sort.Strings(ids)
	return ids
}

func (r *registry) attach(testID string, pid int) {
	r.procsMu.Lock()
	defer r.procsMu.Unlock()
	r.procs[testID] = pid
}

// detach removes and returns the pid attached to testID, if any.
func (r *registry) detach(testID string) (int, bool) {
	r.procsMu.Lock()
	defer r.procsMu.Unlock()
	pid, ok := r.procs[testID]
	delete(r.procs, testID)
	return pid, ok
}

func (r *registry) processCount() int {
	r.procsMu.Lock()
	defer r.procsMu.Unlock()
	return len(r.procs)
}
