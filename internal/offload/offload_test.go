package offload

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grand-thief-cash/taskmesh/infra/components/gormdb"
	"github.com/grand-thief-cash/taskmesh/internal/cache"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/model"
	"github.com/grand-thief-cash/taskmesh/internal/queue"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	g := gormdb.NewGormComponent(&gormdb.Config{
		Enabled:  true,
		LogLevel: "silent",
		DataSources: map[string]*gormdb.DataSourceConfig{
			"central": {Driver: gormdb.DriverSQLite, Database: filepath.Join(t.TempDir(), "central.db"), MaxOpenConns: 1},
		},
	})
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() { _ = g.Stop(context.Background()) })
	s := NewStore(g, "central")
	require.NoError(t, s.Start(context.Background()))
	return s
}

func entries(participant string, seqs ...int64) []model.QueueEntry {
	out := make([]model.QueueEntry, 0, len(seqs))
	for _, s := range seqs {
		out = append(out, model.NewQueueEntry(model.TaskID{LocalID: participant + "-" + string(rune('a'+s)), BusinessID: "b"}, s))
	}
	return out
}

func TestStoreSaveTakeOldest(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Save(ctx, "lab", entries("lab", 5, 1, 3)))
	require.NoError(t, s.Save(ctx, "pharmacy", entries("pharmacy", 2)))
	require.NoError(t, s.Save(ctx, "lab", entries("lab", 3)), "duplicate is an upsert")

	n, err := s.Count(ctx, "lab")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	names, err := s.Participants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lab", "pharmacy"}, names)

	got, err := s.TakeOldest(ctx, "lab", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.EqualValues(t, 1, got[0].Sequence)
	assert.EqualValues(t, 3, got[1].Sequence)
	assert.True(t, got[0].HasSequence)
	assert.Equal(t, "b", got[0].TaskID.BusinessID)

	n, _ = s.Count(ctx, "lab")
	assert.EqualValues(t, 1, n)
	got, _ = s.TakeOldest(ctx, "lab", 10)
	assert.Len(t, got, 1)
	got, _ = s.TakeOldest(ctx, "lab", 10)
	assert.Empty(t, got)
}

func TestStoreNotStarted(t *testing.T) {
	s := NewStore(nil, "central")
	assert.ErrorIs(t, s.Save(context.Background(), "lab", entries("lab", 1)), ErrStoreNotReady)
	_, err := s.TakeOldest(context.Background(), "lab", 1)
	assert.ErrorIs(t, err, ErrStoreNotReady)
	assert.Error(t, s.Start(context.Background()))
}

type countingForwarder struct{ calls int }

func (f *countingForwarder) ForwardPending(ctx context.Context) int { f.calls++; return 0 }

type failingStore struct{ EntryStore }

func (failingStore) Save(context.Context, string, []model.QueueEntry) error { return errors.New("db down") }

func (failingStore) Participants(context.Context) ([]string, error) { return nil, nil }

func fill(t *testing.T, qs *queue.QueueSet, c *cache.TaskCache, participant string, n int) []model.TaskID {
	t.Helper()
	var ids []model.TaskID
	for i := 0; i < n; i++ {
		tk := &model.ActionableTask{ID: model.NewTaskID(""), Performer: participant}
		c.RegisterTask(tk)
		_, ok := qs.Enqueue(participant, tk.ID)
		require.True(t, ok)
		ids = append(ids, tk.ID)
	}
	return ids
}

func TestSweepOffloadsOldestAndOnloadsBack(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	qs := queue.NewQueueSet(nil)
	c := cache.NewTaskCache("ward")
	fwd := &countingForwarder{}
	reg := prometheus.NewRegistry()
	sw := NewSweeper(Settings{OffloadThreshold: 3, OnloadThreshold: 2, Batch: 10}, qs, c, fwd, store, reg)

	ids := fill(t, qs, c, "lab", 5)
	r := sw.Sweep(ctx)
	assert.Equal(t, 1, fwd.calls)
	assert.Equal(t, 2, r.Offloaded)
	assert.Equal(t, 3, qs.Queue("lab").Size())
	head, _ := qs.Queue("lab").Peek()
	assert.Equal(t, ids[2], head.TaskID)

	stored, _ := c.GetTask(ids[0])
	assert.Equal(t, consts.StorageSaved, stored.Traceability.Persistence.CentralStatus)
	n, _ := store.Count(ctx, "lab")
	assert.EqualValues(t, 2, n)
	assert.Equal(t, 2.0, testutil.ToFloat64(sw.moved.WithLabelValues("out")))

	// 本地队列被消费后取回, 旧条目回到队头
	q := qs.Queue("lab")
	for i := 0; i < 2; i++ {
		q.Poll()
	}
	r = sw.Sweep(ctx)
	assert.Equal(t, 2, r.Onloaded)
	assert.Equal(t, 3, q.Size())
	head, _ = q.Peek()
	assert.Equal(t, ids[0], head.TaskID)
	assert.Equal(t, 2.0, testutil.ToFloat64(sw.moved.WithLabelValues("in")))

	// 新的序号仍然在取回的条目之后
	entry, ok := qs.Enqueue("lab", model.NewTaskID(""))
	require.True(t, ok)
	assert.EqualValues(t, 6, entry.Sequence)
}

func TestSweepRestoresEntriesWhenSaveFails(t *testing.T) {
	qs := queue.NewQueueSet(nil)
	c := cache.NewTaskCache("ward")
	sw := NewSweeper(Settings{OffloadThreshold: 1, Batch: 10}, qs, c, nil, failingStore{}, nil)
	ids := fill(t, qs, c, "lab", 3)

	r := sw.Sweep(context.Background())
	assert.Equal(t, 0, r.Offloaded)
	snap := qs.Queue("lab").Snapshot()
	require.Len(t, snap, 3)
	for i, e := range snap {
		assert.Equal(t, ids[i], e.TaskID)
	}
	stored, _ := c.GetTask(ids[0])
	assert.Empty(t, stored.Traceability.Persistence.CentralStatus)
}

func TestSweepWithoutStoreOnlyForwards(t *testing.T) {
	qs := queue.NewQueueSet(nil)
	c := cache.NewTaskCache("ward")
	fwd := &countingForwarder{}
	sw := NewSweeper(Settings{OffloadThreshold: 0, Batch: 10}, qs, c, fwd, nil, nil)
	fill(t, qs, c, "lab", 2)
	r := sw.Sweep(context.Background())
	assert.Equal(t, Report{}, r)
	assert.Equal(t, 1, fwd.calls)
	assert.Equal(t, 2, qs.Queue("lab").Size())
}

func TestSweeperStartSeedsSequencesFromStore(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	// 上一次运行留下的条目
	old := entries("lab", 1, 2, 3)
	require.NoError(t, store.Save(ctx, "lab", old))

	maxSeq, err := store.MaxSequences(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"lab": 3}, maxSeq)

	qs := queue.NewQueueSet(nil)
	c := cache.NewTaskCache("ward")
	sw := NewSweeper(Settings{Interval: time.Hour, OffloadThreshold: 10, OnloadThreshold: 5, Batch: 10}, qs, c, nil, store, nil)
	require.NoError(t, sw.Start(ctx))
	t.Cleanup(func() { _ = sw.Stop(ctx) })

	fresh, ok := qs.Enqueue("lab", model.NewTaskID(""))
	require.True(t, ok)
	assert.EqualValues(t, 4, fresh.Sequence)

	r := sw.Sweep(ctx)
	assert.Equal(t, 3, r.Onloaded)
	snap := qs.Queue("lab").Snapshot()
	require.Len(t, snap, 4)
	for i, e := range old {
		assert.Equal(t, e.TaskID, snap[i].TaskID)
	}
	assert.Equal(t, fresh.TaskID, snap[3].TaskID)
}
