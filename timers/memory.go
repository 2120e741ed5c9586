// Package timers holds escalation delay queues. Each queue keeps at most one
// timer per alert and hands a due timer to exactly one caller.
package timers

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/phonginreallife/oncall/db"
)

// MemoryQueue is a process-local queue ordered by due time.
type MemoryQueue struct {
	mu      sync.Mutex
	heap    timerHeap
	byAlert map[string]*entry
}

type entry struct {
	timer db.EscalationTimer
	index int
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{byAlert: make(map[string]*entry)}
}

func (q *MemoryQueue) Schedule(ctx context.Context, timer db.EscalationTimer) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.byAlert[timer.AlertID]; ok {
		e.timer = timer
		heap.Fix(&q.heap, e.index)
		return nil
	}
	e := &entry{timer: timer}
	heap.Push(&q.heap, e)
	q.byAlert[timer.AlertID] = e
	return nil
}

// ScheduleIfAbsent adds the timer only when the alert has none pending.
func (q *MemoryQueue) ScheduleIfAbsent(ctx context.Context, timer db.EscalationTimer) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byAlert[timer.AlertID]; ok {
		return false, nil
	}
	e := &entry{timer: timer}
	heap.Push(&q.heap, e)
	q.byAlert[timer.AlertID] = e
	return true, nil
}

func (q *MemoryQueue) Cancel(ctx context.Context, alertID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.byAlert[alertID]; ok {
		heap.Remove(&q.heap, e.index)
		delete(q.byAlert, alertID)
	}
	return nil
}

func (q *MemoryQueue) Due(ctx context.Context, now time.Time, limit int) ([]db.EscalationTimer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []db.EscalationTimer
	for q.heap.Len() > 0 && !q.heap[0].timer.DueAt.After(now) {
		if limit > 0 && len(due) >= limit {
			break
		}
		e := heap.Pop(&q.heap).(*entry)
		delete(q.byAlert, e.timer.AlertID)
		due = append(due, e.timer)
	}
	return due, nil
}

// Pending returns the timer held for an alert, if any.
func (q *MemoryQueue) Pending(alertID string) (db.EscalationTimer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byAlert[alertID]
	if !ok {
		return db.EscalationTimer{}, false
	}
	return e.timer, true
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

type timerHeap []*entry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if !h[i].timer.DueAt.Equal(h[j].timer.DueAt) {
		return h[i].timer.DueAt.Before(h[j].timer.DueAt)
	}
	return h[i].timer.AlertID < h[j].timer.AlertID
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
