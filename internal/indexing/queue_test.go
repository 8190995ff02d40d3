package indexing

import (
	"testing"
	"time"
)

func TestQueueOrdering(t *testing.T) {
	q := NewQueue(10)

	base := time.Now()
	tasks := []*AnalysisTask{
		{TaskID: "a", Priority: PriorityNormal, CreatedAt: base},
		{TaskID: "b", Priority: PriorityCritical, CreatedAt: base.Add(time.Second)},
		{TaskID: "c", Priority: PriorityLow, CreatedAt: base.Add(2 * time.Second)},
		{TaskID: "d", Priority: PriorityCritical, CreatedAt: base},
	}
	for _, task := range tasks {
		if err := q.Enqueue(task); err != nil {
			t.Fatalf("Enqueue(%s): %v", task.TaskID, err)
		}
	}

	want := []string{"d", "b", "a", "c"}
	for _, id := range want {
		got, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue: queue emptied early, expected %s", id)
		}
		if got.TaskID != id {
			t.Errorf("Dequeue = %s, want %s", got.TaskID, id)
		}
	}

	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue on empty queue should report ok=false")
	}
}

func TestQueueBackpressure(t *testing.T) {
	q := NewQueue(2)

	if err := q.Enqueue(&AnalysisTask{TaskID: "1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(&AnalysisTask{TaskID: "2"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := q.Enqueue(&AnalysisTask{TaskID: "3"}); err == nil {
		t.Error("Enqueue past maxDepth should return an error")
	}
}

func TestQueueStats(t *testing.T) {
	q := NewQueue(5)
	_ = q.Enqueue(&AnalysisTask{TaskID: "1"})
	_ = q.Enqueue(&AnalysisTask{TaskID: "2"})
	q.Dequeue()

	depth, enqueued, dequeued := q.Stats()
	if depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
	if enqueued != 2 {
		t.Errorf("enqueued = %d, want 2", enqueued)
	}
	if dequeued != 1 {
		t.Errorf("dequeued = %d, want 1", dequeued)
	}
}

func TestAssignPriority(t *testing.T) {
	tests := []struct {
		path string
		want Priority
	}{
		{"/repo/main.go", PriorityCritical},
		{"/repo/src/lib.rs", PriorityCritical},
		{"/repo/src/mod.rs", PriorityCritical},
		{"/repo/config.yaml", PriorityCritical},
		{"/repo/src/server.go", PriorityHigh},
		{"/repo/include/header.h", PriorityHigh},
		{"/repo/types/api.d.ts", PriorityHigh},
		{"/repo/tests/server_test.go", PriorityLow},
		{"/repo/README.md", PriorityLow},
		{"/repo/util.go", PriorityNormal},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := AssignPriority(tt.path); got != tt.want {
				t.Errorf("AssignPriority(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
