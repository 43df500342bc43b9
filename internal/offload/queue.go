// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package offload

import (
	"container/list"
	"sync"

	"github.com/vswitchd/flowoffload/internal/metrics"
)

// Queue is the single-consumer request FIFO fed by an arbitrary number
// of dataplane producer threads. Invariants: items are only
// mutated while holding mu; processing is true strictly while the
// worker holds an item outside the mutex; on exit the worker drains
// remaining items and resets their flows' status to NONE.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	items *list.List // of *Item

	processing bool
	exit       bool
	accepting  bool

	// FeatureEnabled is the global switch checked by queue_put/queue_del
	// before anything else; a process-wide kill switch independent of
	// the per-call pause/resume toggle.
	FeatureEnabled bool

	metrics *metrics.Metrics
}

// WithMetrics attaches m so queue depth and admission counters are
// exported as Prometheus metrics; nil disables recording.
func (q *Queue) WithMetrics(m *metrics.Metrics) *Queue {
	q.metrics = m
	return q
}

// NewQueue constructs a Queue. The worker is not started; call
// (*Worker).Start to spawn it.
func NewQueue() *Queue {
	q := &Queue{
		items:          list.New(),
		accepting:      true,
		FeatureEnabled: true,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put coalesces via IN_PROGRESS, acquires a flow reference, and
// enqueues an ADD or MOD item.
func (q *Queue) Put(flow Flow, priorActions []Action, op Op) {
	if !q.FeatureEnabled {
		return
	}
	q.mu.Lock()
	if !q.accepting {
		q.mu.Unlock()
		return
	}
	if flow.Status().SetInProgress() {
		// Already in progress: coalesce, do nothing further.
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.QueueCoalesced.Inc()
		}
		return
	}
	if !flow.Ref() {
		// Acquisition failed: undo the IN_PROGRESS bit we just set and abort.
		flow.Status().ClearInProgress(flow.Status().Value())
		q.mu.Unlock()
		return
	}
	item := &Item{FlowRef: flow, Op: op, PriorActions: priorActions}
	q.items.PushBack(item)
	depth := q.items.Len()
	idle := !q.processing
	q.mu.Unlock()
	if q.metrics != nil {
		q.metrics.QueueAccepted.Inc()
		q.metrics.QueueDepth.Set(float64(depth))
	}
	if idle {
		q.cond.Signal()
	}
}

// Del is identical to Put with op=DEL and no prior actions.
func (q *Queue) Del(flow Flow) {
	q.Put(flow, nil, OpDel)
}

// pop blocks until an item is available or exit is set, returning
// (item, drain) where drain is true once exit has been observed, even if
// items are still queued (the caller should proceed to drain(), which
// takes them).
func (q *Queue) pop() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.exit {
			return nil, true
		}
		if q.items.Len() > 0 {
			break
		}
		q.processing = false
		q.cond.Wait()
	}
	front := q.items.Front()
	q.items.Remove(front)
	q.processing = true
	depth := q.items.Len()
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(depth))
	}
	return front.Value.(*Item), false
}

// drain pops every remaining item so the caller can reset each flow's
// status to NONE and release the item's resources on exit.
func (q *Queue) drain() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	var drained []*Item
	for q.items.Len() > 0 {
		front := q.items.Front()
		q.items.Remove(front)
		drained = append(drained, front.Value.(*Item))
	}
	q.processing = false
	return drained
}

// len reports the current queue depth.
func (q *Queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
