package queue

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/grand-thief-cash/taskmesh/internal/model"
)

func entry(name string, seq int64) model.QueueEntry {
	return model.NewQueueEntry(model.TaskID{LocalID: name}, seq)
}

func TestScenarioPeekPollOffload(t *testing.T) {
	q := NewOrderedQueue("P1")
	require.True(t, q.Insert(entry("T1", 1)))
	require.True(t, q.Insert(entry("T2", 2)))

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "T1", head.TaskID.LocalID)

	polled, ok := q.Poll()
	require.True(t, ok)
	assert.Equal(t, "T1", polled.TaskID.LocalID)
	head, _ = q.Peek()
	assert.Equal(t, "T2", head.TaskID.LocalID)

	out := q.OffloadOldest(0, 10)
	require.Len(t, out, 1)
	assert.Equal(t, "T2", out[0].TaskID.LocalID)
	assert.False(t, q.HasEntries())
	_, ok = q.Poll()
	assert.False(t, ok)
}

func TestInsertRejectsInvalidEntries(t *testing.T) {
	q := NewOrderedQueue("P1")
	assert.False(t, q.Insert(model.QueueEntry{Sequence: 1, HasSequence: true}))
	assert.False(t, q.Insert(model.QueueEntry{TaskID: model.TaskID{LocalID: "a"}}))
	require.True(t, q.Insert(entry("a", 5)))
	assert.False(t, q.Insert(entry("b", 5)), "duplicate sequence")
	assert.False(t, q.Insert(entry("a", 6)), "duplicate identity")
	assert.Equal(t, 1, q.Size())
}

func TestFindAndRemoveMiddle(t *testing.T) {
	q := NewOrderedQueue("P1")
	assert.Equal(t, 3, q.InsertBatch([]model.QueueEntry{entry("c", 30), entry("a", 10), entry("b", 20)}))

	found, ok := q.Find(model.TaskID{LocalID: "b"})
	require.True(t, ok)
	assert.EqualValues(t, 20, found.Sequence)

	_, ok = q.Remove(model.TaskID{LocalID: "b"})
	require.True(t, ok)
	_, ok = q.Remove(model.TaskID{LocalID: "b"})
	assert.False(t, ok)
	_, ok = q.Remove(model.TaskID{LocalID: "a"})
	require.True(t, ok)

	head, _ := q.Peek()
	assert.Equal(t, "c", head.TaskID.LocalID)
	assert.Equal(t, 1, q.Size())
}

func TestOffloadNoOps(t *testing.T) {
	q := NewOrderedQueue("P1")
	q.InsertBatch([]model.QueueEntry{entry("a", 1), entry("b", 2)})
	assert.Nil(t, q.OffloadOldest(5, 10))
	assert.Nil(t, q.OffloadOldest(0, 0))
	assert.Nil(t, q.OffloadOldest(-1, 3))
	assert.Equal(t, 2, q.Size())
}

func TestPollOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seqs := rapid.SliceOfNDistinct(rapid.Int64Range(-1000, 1000), 0, 50, rapid.ID[int64]).Draw(t, "seqs")
		q := NewOrderedQueue("P")
		for _, s := range seqs {
			if !q.Insert(entry(fmt.Sprintf("t%d", s), s)) {
				t.Fatalf("insert %d rejected", s)
			}
		}
		prev := int64(-1 << 62)
		n := 0
		for q.HasEntries() {
			e, _ := q.Poll()
			if e.Sequence <= prev {
				t.Fatalf("out of order: %d after %d", e.Sequence, prev)
			}
			prev = e.Sequence
			n++
		}
		if n != len(seqs) {
			t.Fatalf("polled %d of %d", n, len(seqs))
		}
	})
}

func TestSizeMatchesReachableEntriesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := NewOrderedQueue("P")
		var seq int64
		ops := rapid.IntRange(1, 80).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				seq += rapid.Int64Range(1, 5).Draw(t, "gap")
				q.Insert(entry(fmt.Sprintf("t%d", seq), seq))
			case 1:
				q.Poll()
			case 2:
				if snap := q.Snapshot(); len(snap) > 0 {
					idx := rapid.IntRange(0, len(snap)-1).Draw(t, "idx")
					q.Remove(snap[idx].TaskID)
				}
			}
			if q.Size() != len(q.Snapshot()) {
				t.Fatalf("size %d != reachable %d", q.Size(), len(q.Snapshot()))
			}
		}
	})
}

func TestOffloadOldestProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seqs := rapid.SliceOfNDistinct(rapid.Int64Range(0, 10000), 1, 60, rapid.ID[int64]).Draw(t, "seqs")
		threshold := rapid.IntRange(0, len(seqs)-1).Draw(t, "threshold")
		n := rapid.IntRange(1, 80).Draw(t, "n")

		q := NewOrderedQueue("P")
		for _, s := range seqs {
			q.Insert(entry(fmt.Sprintf("t%d", s), s))
		}
		size := q.Size()
		out := q.OffloadOldest(threshold, n)

		want := min(n, size-threshold)
		if len(out) != want {
			t.Fatalf("offloaded %d, want %d", len(out), want)
		}
		sorted := append([]int64(nil), seqs...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		got := make([]int64, 0, len(out))
		for _, e := range out {
			got = append(got, e.Sequence)
		}
		sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
		for i := range got {
			if got[i] != sorted[i] {
				t.Fatalf("offloaded %v, want lowest %v", got, sorted[:want])
			}
		}
		if q.Size() != size-len(out) {
			t.Fatalf("remaining %d, want %d", q.Size(), size-len(out))
		}
	})
}
