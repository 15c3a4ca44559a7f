package engine

import (
	"container/heap"
	"time"

	"github.com/chuliyu/smart-wait/internal/waitjob"
)

// scheduledJob wraps a job with the bookkeeping the scheduler's
// container/heap needs; waitjob.Job itself carries no heap-index field,
// keeping that package free of scheduler internals.
type scheduledJob struct {
	job   *waitjob.Job
	index int
}

// jobHeap is a min-structure over scheduledJob.job.NextCheckAt, giving the
// scheduler O(log n) access to the next job due for evaluation.
type jobHeap []*scheduledJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	return h[i].job.NextCheckAt.Before(h[j].job.NextCheckAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	sj := x.(*scheduledJob)
	sj.index = len(*h)
	*h = append(*h, sj)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	sj := old[n-1]
	old[n-1] = nil
	sj.index = -1
	*h = old[:n-1]
	return sj
}

// heapPush and heapRemove are thin wrappers kept in this file so callers
// elsewhere in the package never import container/heap directly.
func heapPush(h *jobHeap, sj *scheduledJob) {
	heap.Push(h, sj)
}

func heapRemove(h *jobHeap, sj *scheduledJob) {
	if sj.index >= 0 && sj.index < h.Len() {
		heap.Remove(h, sj.index)
	}
}

// nextDeadline returns the earliest NextCheckAt across the heap, and false
// if the heap is empty.
func (h jobHeap) nextDeadline() (time.Time, bool) {
	if len(h) == 0 {
		return time.Time{}, false
	}
	return h[0].job.NextCheckAt, true
}
