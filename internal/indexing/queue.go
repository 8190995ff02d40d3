package indexing

import (
	"container/heap"
	"strings"
	"sync"

	"ckb/internal/errors"
)

// taskHeap is a max-heap on AnalysisTask ordering: priority desc, then
// CreatedAt asc, then TaskID asc.
type taskHeap []*AnalysisTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if !h[i].CreatedAt.Equal(h[j].CreatedAt) {
		return h[i].CreatedAt.Before(h[j].CreatedAt)
	}
	return h[i].TaskID < h[j].TaskID
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(*AnalysisTask))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is a single-mutex priority heap of AnalysisTasks, with backpressure
// once it reaches maxDepth. Metrics are read with the same lock since the
// heap is small enough that a separate RWMutex buys nothing here.
type Queue struct {
	mu       sync.Mutex
	heap     taskHeap
	maxDepth int

	enqueuedTotal int64
	dequeuedTotal int64
}

// NewQueue creates an empty Queue bounded at maxDepth.
func NewQueue(maxDepth int) *Queue {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxQueueDepth
	}
	q := &Queue{maxDepth: maxDepth}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds task to the queue, returning a ResourceExhaustion error if
// the queue is already at capacity.
func (q *Queue) Enqueue(task *AnalysisTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) >= q.maxDepth {
		return errors.NewResourceExhaustionError("analysis queue", q.maxDepth)
	}

	heap.Push(&q.heap, task)
	q.enqueuedTotal++
	return nil
}

// Dequeue pops the highest-priority task, or returns ok=false if empty.
func (q *Queue) Dequeue() (*AnalysisTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil, false
	}
	task := heap.Pop(&q.heap).(*AnalysisTask)
	q.dequeuedTotal++
	return task, true
}

// Len returns the number of tasks currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Stats reports queue-level counters for Progress/operational endpoints.
func (q *Queue) Stats() (depth int, enqueued int64, dequeued int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap), q.enqueuedTotal, q.dequeuedTotal
}

// AssignPriority derives an AnalysisTask's Priority from filename and
// path characteristics, per the fixed rule table: critical entry points
// and config files first, source trees next, tests and docs last.
func AssignPriority(path string) Priority {
	lower := strings.ToLower(path)
	base := lower
	if idx := strings.LastIndexByte(lower, '/'); idx >= 0 {
		base = lower[idx+1:]
	}

	switch {
	case strings.HasPrefix(base, "main.") ||
		base == "lib.rs" || base == "mod.rs" ||
		base == "index.js" || base == "index.ts" ||
		base == "__init__.py" ||
		strings.Contains(base, "config") ||
		strings.Contains(lower, "/src/main/"):
		return PriorityCritical

	case strings.Contains(lower, "/src/") || strings.Contains(lower, "/lib/") ||
		strings.HasSuffix(lower, ".h") || strings.HasSuffix(lower, ".hpp") ||
		strings.HasSuffix(lower, ".d.ts"):
		return PriorityHigh

	case strings.Contains(lower, "/test/") || strings.Contains(lower, "/tests/") ||
		strings.Contains(base, "_test.") || strings.Contains(base, ".test.") ||
		strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".json"):
		return PriorityLow

	default:
		return PriorityNormal
	}
}
