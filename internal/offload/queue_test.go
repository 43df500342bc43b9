// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package offload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePutEnqueuesAndWakesWorker(t *testing.T) {
	q := NewQueue()
	f := newTestFlow(1, nil)

	q.Put(f, nil, OpAdd)

	item, drain := q.pop()
	require.False(t, drain)
	assert.Equal(t, f, item.FlowRef)
	assert.Equal(t, OpAdd, item.Op)
	assert.True(t, f.Status().Load().InProgress())
}

func TestQueuePutCoalescesWhileInProgress(t *testing.T) {
	q := NewQueue()
	f := newTestFlow(1, nil)

	q.Put(f, nil, OpAdd)
	refsAfterFirst := f.RefCount()

	// Second Put while the first is still IN_PROGRESS must be a no-op:
	// no second queue entry, no second Ref().
	q.Put(f, nil, OpMod)

	assert.Equal(t, 1, q.len())
	assert.Equal(t, refsAfterFirst, f.RefCount())
}

func TestQueuePutRejectedWhenNotAccepting(t *testing.T) {
	q := NewQueue()
	q.accepting = false
	f := newTestFlow(1, nil)

	q.Put(f, nil, OpAdd)

	assert.Equal(t, 0, q.len())
	assert.False(t, f.Status().Load().InProgress())
}

func TestQueuePutNoopWhenFeatureDisabled(t *testing.T) {
	q := NewQueue()
	q.FeatureEnabled = false
	f := newTestFlow(1, nil)

	q.Put(f, nil, OpAdd)

	assert.Equal(t, 0, q.len())
}

func TestQueueDrainResetsStatusAndReleases(t *testing.T) {
	q := NewQueue()
	f1 := newTestFlow(1, nil)
	f2 := newTestFlow(2, nil)
	q.Put(f1, nil, OpAdd)
	q.Put(f2, nil, OpDel)

	drained := q.drain()
	require.Len(t, drained, 2)
	for _, item := range drained {
		item.FlowRef.Status().ClearInProgress(StatusNone)
		item.release()
	}
	assert.Equal(t, StatusNone, f1.Status().Load().Value())
	assert.Equal(t, StatusNone, f2.Status().Load().Value())
	// Back to the single owner reference newTestFlow starts with: the ref
	// Put acquired has been released.
	assert.Equal(t, int32(1), f1.RefCount())
	assert.Equal(t, int32(1), f2.RefCount())
}

func TestQueuePopBlocksUntilExit(t *testing.T) {
	q := NewQueue()
	done := make(chan bool, 1)
	go func() {
		_, drain := q.pop()
		done <- drain
	}()

	time.Sleep(20 * time.Millisecond)
	q.mu.Lock()
	q.exit = true
	q.mu.Unlock()
	q.cond.Signal()

	select {
	case drain := <-done:
		assert.True(t, drain)
	case <-time.After(time.Second):
		t.Fatal("pop did not return after exit was set")
	}
}
