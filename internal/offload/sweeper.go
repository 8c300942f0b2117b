package offload

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/core"
	"github.com/grand-thief-cash/taskmesh/internal/cache"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/model"
	"github.com/grand-thief-cash/taskmesh/internal/queue"
)

// Forwarder 把队列中的条目登记到执行者节点, 由 distribution.Manager 实现
type Forwarder interface {
	ForwardPending(ctx context.Context) int
}

// EntryStore 中心存储
type EntryStore interface {
	Save(ctx context.Context, participant string, entries []model.QueueEntry) error
	TakeOldest(ctx context.Context, participant string, n int) ([]model.QueueEntry, error)
	Participants(ctx context.Context) ([]string, error)
}

type Settings struct {
	Interval         time.Duration
	OffloadThreshold int
	OnloadThreshold  int
	Batch            int
}

type Report struct {
	Forwarded int
	Offloaded int
	Onloaded  int
}

// sequenceSource 重启后用中心存储里的最大序号初始化本地计数器
type sequenceSource interface {
	MaxSequences(ctx context.Context) (map[string]int64, error)
}

// Sweeper 周期性地转发队列, 并在本地队列过长/过短时与中心存储交换最旧的条目.
// store 为空时只转发.
type Sweeper struct {
	*core.BaseComponent
	settings Settings
	queues   *queue.QueueSet
	cache    *cache.TaskCache
	forward  Forwarder
	store    EntryStore
	now      func() time.Time
	moved    *prometheus.CounterVec

	mu     sync.Mutex // 串行化 Sweep
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(s Settings, queues *queue.QueueSet, c *cache.TaskCache, forward Forwarder, store EntryStore, reg prometheus.Registerer) *Sweeper {
	if s.Interval <= 0 {
		s.Interval = 5 * time.Second
	}
	if s.Batch <= 0 {
		s.Batch = 200
	}
	moved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offload_entries_total", Help: "Queue entries moved between local queues and central storage.",
	}, []string{"direction"})
	if reg != nil {
		if err := reg.Register(moved); err != nil {
			logging.Warn(context.Background(), "offload metric not registered", zap.Error(err))
		}
	}
	return &Sweeper{
		BaseComponent: core.NewBaseComponent(consts.COMP_OFFLOAD_SWEEPER, consts.COMP_QUEUE_SET, consts.COMP_TASK_CACHE, consts.COMP_DISTRIBUTION),
		settings:      s,
		queues:        queues,
		cache:         c,
		forward:       forward,
		store:         store,
		now:           time.Now,
		moved:         moved,
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	if s.IsActive() {
		return nil
	}
	s.seedSequences(ctx)
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(loopCtx)
	return s.BaseComponent.Start(ctx)
}

func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
	return s.BaseComponent.Stop(ctx)
}

func (s *Sweeper) seedSequences(ctx context.Context) {
	src, ok := s.store.(sequenceSource)
	if !ok {
		return
	}
	maxSeq, err := src.MaxSequences(ctx)
	if err != nil {
		logging.Warn(ctx, "seed queue sequences failed", zap.Error(err))
		return
	}
	for p, seq := range maxSeq {
		s.queues.Seed(p, seq)
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.settings.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r := s.Sweep(ctx)
			if r.Forwarded+r.Offloaded+r.Onloaded > 0 {
				logging.Debug(ctx, "queue sweep", zap.Int("forwarded", r.Forwarded),
					zap.Int("offloaded", r.Offloaded), zap.Int("onloaded", r.Onloaded))
			}
		}
	}
}

// Sweep runs one pass: forward, then offload/onload per participant.
func (s *Sweeper) Sweep(ctx context.Context) Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r Report
	if s.forward != nil {
		r.Forwarded = s.forward.ForwardPending(ctx)
	}
	if s.store == nil {
		return r
	}
	for _, p := range s.participants(ctx) {
		if ctx.Err() != nil {
			break
		}
		q := s.queues.Queue(p)
		switch size := q.Size(); {
		case size > s.settings.OffloadThreshold:
			r.Offloaded += s.offload(ctx, q)
		case size < s.settings.OnloadThreshold:
			r.Onloaded += s.onload(ctx, p)
		}
	}
	return r
}

func (s *Sweeper) participants(ctx context.Context) []string {
	set := make(map[string]struct{})
	for _, p := range s.queues.Participants() {
		set[p] = struct{}{}
	}
	stored, err := s.store.Participants(ctx)
	if err != nil {
		logging.Warn(ctx, "list offloaded participants failed", zap.Error(err))
	}
	for _, p := range stored {
		set[p] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// offload 保存失败时条目按原序号放回队列
func (s *Sweeper) offload(ctx context.Context, q *queue.OrderedQueue) int {
	entries := q.OffloadOldest(s.settings.OffloadThreshold, s.settings.Batch)
	if len(entries) == 0 {
		return 0
	}
	if err := s.store.Save(ctx, q.Participant(), entries); err != nil {
		q.InsertBatch(entries)
		logging.Warn(ctx, "offload failed, entries restored", zap.String("participant", q.Participant()),
			zap.Int("entries", len(entries)), zap.Error(err))
		return 0
	}
	now := s.now()
	for _, e := range entries {
		s.cache.MarkCentral(e.TaskID, consts.StorageSaved, now)
	}
	s.moved.WithLabelValues("out").Add(float64(len(entries)))
	return len(entries)
}

func (s *Sweeper) onload(ctx context.Context, participant string) int {
	entries, err := s.store.TakeOldest(ctx, participant, s.settings.Batch)
	if err != nil {
		logging.Warn(ctx, "onload failed", zap.String("participant", participant), zap.Error(err))
		return 0
	}
	if len(entries) == 0 {
		return 0
	}
	n := s.queues.Restore(participant, entries)
	if n < len(entries) {
		logging.Debug(ctx, "onload skipped entries already queued", zap.String("participant", participant),
			zap.Int("taken", len(entries)), zap.Int("restored", n))
	}
	s.moved.WithLabelValues("in").Add(float64(n))
	return n
}
