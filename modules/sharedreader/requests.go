package sharedreader

import (
	"sync"

	"github.com/e7canasta/orion-frameshare/modules/bufferqueue"
)

const repeating = -1

type request struct {
	queue     bufferqueue.Controller[int64]
	remaining int // repeating for every frame
}

// requestFanout pushes each capture timestamp to the queues that asked for
// it.
type requestFanout struct {
	mu       sync.Mutex
	requests []*request
	closed   bool
}

func newRequestFanout() *requestFanout {
	return &requestFanout{}
}

func (f *requestFanout) repeat(q bufferqueue.Controller[int64]) {
	f.add(&request{queue: q, remaining: repeating})
}

func (f *requestFanout) next(q bufferqueue.Controller[int64], n int) {
	if n <= 0 {
		return
	}
	f.add(&request{queue: q, remaining: n})
}

func (f *requestFanout) add(req *request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.requests = append(f.requests, req)
}

// publish delivers ts and drops exhausted or closed requests.
func (f *requestFanout) publish(ts int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.requests[:0]
	for _, req := range f.requests {
		if req.queue.IsClosed() {
			continue
		}
		req.queue.Update(ts)
		if req.remaining != repeating {
			req.remaining--
			if req.remaining == 0 {
				continue
			}
		}
		kept = append(kept, req)
	}
	clear(f.requests[len(kept):])
	f.requests = kept
}

func (f *requestFanout) close() {
	f.mu.Lock()
	reqs := f.requests
	f.requests = nil
	f.closed = true
	f.mu.Unlock()

	for _, req := range reqs {
		if req.remaining == repeating {
			req.queue.Close()
		}
	}
}

func (f *requestFanout) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
