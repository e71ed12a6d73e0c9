package command

import "sync"

// ResettingRunnable runs a command representing the current desired state,
// such as a repeating preview. Each Run cancels the previous instance, if
// still running, and submits a fresh one.
//
// Cancellation is best effort: the previous instance may still be
// unwinding when the new one starts.
type ResettingRunnable struct {
	executor *Executor
	cmd      Command

	mu       sync.Mutex
	inFlight *Handle
}

// NewResettingRunnable binds cmd to executor.
func NewResettingRunnable(executor *Executor, cmd Command) *ResettingRunnable {
	return &ResettingRunnable{executor: executor, cmd: cmd}
}

// Run cancels the previous instance and submits a new one.
func (r *ResettingRunnable) Run() *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight != nil {
		r.inFlight.Cancel()
	}
	r.inFlight = r.executor.Execute(r.cmd)
	return r.inFlight
}
