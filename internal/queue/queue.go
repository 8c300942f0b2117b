package queue

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/internal/model"
)

// OrderedQueue 单个参与者的任务队列, 按 sequence 升序, 队头最旧.
// 底层是有序切片 + 二分插入, 所有操作共用一把锁.
type OrderedQueue struct {
	participant string

	mu      sync.Mutex
	entries []model.QueueEntry
	index   map[string]int64 // task local id -> sequence
}

func NewOrderedQueue(participant string) *OrderedQueue {
	return &OrderedQueue{participant: participant, index: make(map[string]int64)}
}

func (q *OrderedQueue) Participant() string { return q.participant }

func cmpSeq(e model.QueueEntry, seq int64) int {
	switch {
	case e.Sequence < seq:
		return -1
	case e.Sequence > seq:
		return 1
	}
	return 0
}

// Insert 非法条目 (无身份/无序号/重复) 直接忽略
func (q *OrderedQueue) Insert(entry model.QueueEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.insertLocked(entry)
}

func (q *OrderedQueue) insertLocked(entry model.QueueEntry) bool {
	if !entry.TaskID.Valid() || !entry.HasSequence {
		logging.Debug(context.Background(), "queue insert ignored: missing identity or sequence",
			zap.String("participant", q.participant), zap.String("task", entry.TaskID.LocalID))
		return false
	}
	if _, dup := q.index[entry.TaskID.LocalID]; dup {
		logging.Debug(context.Background(), "queue insert ignored: task already queued",
			zap.String("participant", q.participant), zap.String("task", entry.TaskID.LocalID))
		return false
	}
	pos, found := slices.BinarySearchFunc(q.entries, entry.Sequence, cmpSeq)
	if found {
		logging.Debug(context.Background(), "queue insert ignored: duplicate sequence",
			zap.String("participant", q.participant), zap.Int64("sequence", entry.Sequence))
		return false
	}
	q.entries = slices.Insert(q.entries, pos, entry)
	q.index[entry.TaskID.LocalID] = entry.Sequence
	return true
}

// InsertBatch returns how many entries were accepted.
func (q *OrderedQueue) InsertBatch(entries []model.QueueEntry) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range entries {
		if q.insertLocked(e) {
			n++
		}
	}
	return n
}

func (q *OrderedQueue) Peek() (model.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return model.QueueEntry{}, false
	}
	return q.entries[0], true
}

func (q *OrderedQueue) Poll() (model.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return model.QueueEntry{}, false
	}
	head := q.entries[0]
	q.entries[0] = model.QueueEntry{}
	q.entries = q.entries[1:]
	delete(q.index, head.TaskID.LocalID)
	return head, true
}

func (q *OrderedQueue) HasEntries() bool { return q.Size() > 0 }

func (q *OrderedQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *OrderedQueue) Find(id model.TaskID) (model.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pos, ok := q.positionLocked(id)
	if !ok {
		return model.QueueEntry{}, false
	}
	return q.entries[pos], true
}

func (q *OrderedQueue) Remove(id model.TaskID) (model.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pos, ok := q.positionLocked(id)
	if !ok {
		return model.QueueEntry{}, false
	}
	removed := q.entries[pos]
	q.entries = slices.Delete(q.entries, pos, pos+1)
	delete(q.index, id.LocalID)
	return removed, true
}

func (q *OrderedQueue) positionLocked(id model.TaskID) (int, bool) {
	if !id.Valid() {
		return 0, false
	}
	seq, ok := q.index[id.LocalID]
	if !ok {
		return 0, false
	}
	return slices.BinarySearchFunc(q.entries, seq, cmpSeq)
}

// OffloadOldest 队列长度超过 threshold 时, 从队头摘下 min(n, size-threshold) 个最旧条目.
// 与常见缓存淘汰最新相反: 旧条目去中心存储, 新条目留在本地.
func (q *OrderedQueue) OffloadOldest(threshold, n int) []model.QueueEntry {
	if n <= 0 || threshold < 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	excess := len(q.entries) - threshold
	if excess <= 0 {
		return nil
	}
	k := min(n, excess)
	out := make([]model.QueueEntry, k)
	copy(out, q.entries[:k])
	q.entries = slices.Delete(q.entries, 0, k)
	for _, e := range out {
		delete(q.index, e.TaskID.LocalID)
	}
	return out
}

// Snapshot 按顺序返回副本
func (q *OrderedQueue) Snapshot() []model.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.entries)
}

// LastSequence returns the highest sequence present, or 0.
func (q *OrderedQueue) LastSequence() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return 0
	}
	return q.entries[len(q.entries)-1].Sequence
}
