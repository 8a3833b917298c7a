package engine

import (
	"container/heap"
	"sync"

	"github.com/Brennan-Chesley-FLP/kent/scrape"
)

// The request queue is a min-heap ordered by (priority, insertion
// sequence): lowest priority number first, FIFO within equal priority.

type queueItem struct {
	priority int
	seq      uint64
	req      *scrape.Request
}

type requestHeap []*queueItem

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) { *h = append(*h, x.(*queueItem)) }

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// requestQueue is the serial driver's queue: single goroutine, no locking.
type requestQueue struct {
	h   requestHeap
	seq uint64
}

func newRequestQueue() *requestQueue {
	return &requestQueue{}
}

func (q *requestQueue) push(req *scrape.Request, priority int) {
	heap.Push(&q.h, &queueItem{priority: priority, seq: q.seq, req: req})
	q.seq++
}

func (q *requestQueue) pop() *scrape.Request {
	if len(q.h) == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*queueItem).req
}

func (q *requestQueue) len() int { return len(q.h) }

// lockedQueue shares one heap between workers. The mutex guards the heap
// and the monotonic sequence counter that preserves per-priority FIFO; the
// condition variable parks idle workers until work arrives or the pool is
// done (empty queue, nothing in flight).
type lockedQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	h        requestHeap
	seq      uint64
	inflight int
	closed   bool
}

func newLockedQueue() *lockedQueue {
	q := &lockedQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *lockedQueue) push(req *scrape.Request, priority int) {
	q.mu.Lock()
	heap.Push(&q.h, &queueItem{priority: priority, seq: q.seq, req: req})
	q.seq++
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until a request is available, returning false when the pool
// is finished or the queue was closed. Each true return must be balanced
// by a done call once the request is fully processed.
func (q *lockedQueue) pop() (*scrape.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return nil, false
		}
		if len(q.h) > 0 {
			item := heap.Pop(&q.h).(*queueItem)
			q.inflight++
			return item.req, true
		}
		if q.inflight == 0 {
			// Nothing queued and nothing being processed: the run is over.
			q.cond.Broadcast()
			return nil, false
		}
		q.cond.Wait()
	}
}

func (q *lockedQueue) done() {
	q.mu.Lock()
	q.inflight--
	wake := q.inflight == 0 && len(q.h) == 0
	q.mu.Unlock()
	if wake {
		q.cond.Broadcast()
	}
}

// close wakes every worker and makes further pops return false. Pending
// requests stay queued: the parallel driver does not drain on stop.
func (q *lockedQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *lockedQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
