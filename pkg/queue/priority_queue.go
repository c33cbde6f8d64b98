package queue

import (
	"container/heap"
	"sync"

	"github.com/sirupsen/logrus"

	"link-auditor/pkg/models"
)

// queueItem wraps a WorkItem for the heap. Lower priority values pop
// first; priority is the item's depth, so the crawl expands shallow
// pages before deep ones.
type queueItem struct {
	work     *models.WorkItem
	priority int
	index    int // maintained by heap.Interface
}

// itemHeap implements heap.Interface over queueItems.
type itemHeap []*queueItem

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return h[i].priority < h[j].priority }
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// WorkQueue is the blocking, depth-ordered queue feeding crawl workers.
// Pop blocks until an item arrives or the queue is closed; Close wakes
// every blocked worker so the pool can drain and exit.
type WorkQueue struct {
	heap   itemHeap
	mu     sync.Mutex
	cond   *sync.Cond
	closed bool
	log    *logrus.Logger
}

// NewWorkQueue returns an empty open queue.
func NewWorkQueue(logger *logrus.Logger) *WorkQueue {
	q := &WorkQueue{log: logger}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.heap)
	return q
}

// Add enqueues a work item, prioritized by its depth. Adding to a
// closed queue is a logged no-op.
func (q *WorkQueue) Add(item *models.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.Warnf("Attempted to add item to closed queue: %s", item.URL)
		return
	}

	heap.Push(&q.heap, &queueItem{work: item, priority: item.Depth})
	q.cond.Signal()
}

// Pop removes and returns the shallowest pending item. It blocks while
// the queue is empty and open; once the queue is closed and drained it
// returns (nil, false) so workers know to exit.
func (q *WorkQueue) Pop() (*models.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) == 0 {
		if q.closed {
			return nil, false
		}
		// Wait releases the lock until signaled, then reacquires it
		q.cond.Wait()
	}

	item := heap.Pop(&q.heap).(*queueItem)
	return item.work, true
}

// Close marks the queue as accepting no further items and wakes all
// blocked workers. Items already queued remain poppable.
func (q *WorkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
}

// Len reports the number of pending items.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
