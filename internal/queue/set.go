package queue

import (
	"context"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/core"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/model"
)

var queueSizeDesc = prometheus.NewDesc("queue_size", "Entries waiting in a participant queue.", []string{"participant"}, nil)

// QueueSet 参与者 -> 队列, 按需创建. 每个参与者的序号单调递增, 由本节点分配.
type QueueSet struct {
	*core.BaseComponent

	mu     sync.RWMutex
	queues map[string]*OrderedQueue
	next   map[string]int64
}

func NewQueueSet(reg prometheus.Registerer) *QueueSet {
	s := &QueueSet{
		BaseComponent: core.NewBaseComponent(consts.COMP_QUEUE_SET),
		queues:        make(map[string]*OrderedQueue),
		next:          make(map[string]int64),
	}
	if reg != nil {
		if err := reg.Register(s); err != nil {
			logging.Warn(context.Background(), "queue_size collector not registered", zap.Error(err))
		}
	}
	return s
}

// Queue returns the participant's queue, creating it on first use.
// An empty name yields nil.
func (s *QueueSet) Queue(participant string) *OrderedQueue {
	if participant == "" {
		return nil
	}
	s.mu.RLock()
	q, ok := s.queues[participant]
	s.mu.RUnlock()
	if ok {
		return q
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok = s.queues[participant]; !ok {
		q = NewOrderedQueue(participant)
		s.queues[participant] = q
	}
	return q
}

// Enqueue assigns the next sequence for participant and inserts the task.
func (s *QueueSet) Enqueue(participant string, id model.TaskID) (model.QueueEntry, bool) {
	if participant == "" || !id.Valid() {
		logging.Debug(context.Background(), "enqueue ignored: missing participant or identity")
		return model.QueueEntry{}, false
	}
	q := s.Queue(participant)
	s.mu.Lock()
	s.next[participant]++
	seq := s.next[participant]
	s.mu.Unlock()
	entry := model.NewQueueEntry(id, seq)
	if !q.Insert(entry) {
		return model.QueueEntry{}, false
	}
	return entry, true
}

// Restore puts entries back (e.g. onloaded from central storage) and keeps
// the sequence counter ahead of them. An entry whose sequence is already taken
// by a different task gets a fresh sequence at the tail instead of being dropped.
func (s *QueueSet) Restore(participant string, entries []model.QueueEntry) int {
	q := s.Queue(participant)
	if q == nil || len(entries) == 0 {
		return 0
	}
	n := 0
	var collided []model.QueueEntry
	for _, e := range entries {
		if q.Insert(e) {
			n++
			continue
		}
		if !e.TaskID.Valid() || !e.HasSequence {
			continue
		}
		if _, queued := q.Find(e.TaskID); !queued {
			collided = append(collided, e)
		}
	}
	s.Seed(participant, q.LastSequence())
	for _, e := range collided {
		if _, ok := s.Enqueue(participant, e.TaskID); ok {
			logging.Debug(context.Background(), "restored entry re-sequenced", zap.String("participant", participant),
				zap.String("task", e.TaskID.LocalID), zap.Int64("old_sequence", e.Sequence))
			n++
		}
	}
	return n
}

// Seed raises the participant's counter to at least seq, so entries held
// elsewhere keep sequences below anything assigned from now on.
func (s *QueueSet) Seed(participant string, seq int64) {
	if participant == "" {
		return
	}
	s.mu.Lock()
	if seq > s.next[participant] {
		s.next[participant] = seq
	}
	s.mu.Unlock()
}

func (s *QueueSet) Participants() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.queues))
	for name := range s.queues {
		out = append(out, name)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *QueueSet) Sizes() map[string]int {
	s.mu.RLock()
	qs := make([]*OrderedQueue, 0, len(s.queues))
	for _, q := range s.queues {
		qs = append(qs, q)
	}
	s.mu.RUnlock()
	out := make(map[string]int, len(qs))
	for _, q := range qs {
		out[q.Participant()] = q.Size()
	}
	return out
}

func (s *QueueSet) Describe(ch chan<- *prometheus.Desc) { ch <- queueSizeDesc }

func (s *QueueSet) Collect(ch chan<- prometheus.Metric) {
	for name, size := range s.Sizes() {
		ch <- prometheus.MustNewConstMetric(queueSizeDesc, prometheus.GaugeValue, float64(size), name)
	}
}
