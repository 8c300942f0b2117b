package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/model"
)

func newTask(id, performer, payload string) *model.ActionableTask {
	return &model.ActionableTask{
		ID:        model.TaskID{LocalID: id},
		Performer: performer,
		WorkItem:  model.WorkItem{ContentType: "text/plain", Payload: []byte(payload)},
	}
}

func TestRegisterLastWriteWins(t *testing.T) {
	c := NewTaskCache("mitaf.ingres")
	first := c.RegisterTask(newTask("T1", "P1", "first"))
	require.True(t, first.Registered)
	assert.False(t, first.Replaced)

	second := newTask("T1", "P1", "second")
	second.Origin = "other"
	out := c.RegisterTask(second)
	assert.True(t, out.Replaced)

	got, ok := c.GetTask(model.TaskID{LocalID: "T1"})
	require.True(t, ok)
	assert.Equal(t, "second", string(got.WorkItem.Payload))
	assert.Equal(t, "other", got.Origin)
	assert.True(t, got.Registered)
	assert.Equal(t, consts.TaskRegistered, got.Status)
	p := got.Traceability.Persistence
	assert.Equal(t, "mitaf.ingres", p.LocalParticipant)
	assert.Equal(t, consts.StorageSaved, p.LocalStatus)
	assert.False(t, p.LocalAt.IsZero())
}

func TestRegisterDoesNotAliasCaller(t *testing.T) {
	c := NewTaskCache("p")
	in := newTask("T1", "P1", "abc")
	c.RegisterTask(in)
	in.WorkItem.Payload[0] = 'X'
	got, _ := c.GetTask(in.ID)
	assert.Equal(t, "abc", string(got.WorkItem.Payload))
	got.WorkItem.Payload[0] = 'Y'
	again, _ := c.GetTask(in.ID)
	assert.Equal(t, "abc", string(again.WorkItem.Payload))
}

func TestInvalidInputIsNoOp(t *testing.T) {
	c := NewTaskCache("p")
	assert.False(t, c.RegisterTask(nil).Registered)
	assert.False(t, c.RegisterTask(&model.ActionableTask{}).Registered)
	assert.False(t, c.UpdateTask(newTask("ghost", "P1", "")).Registered)
	c.AddJobCard(model.JobCard{})
	assert.Empty(t, c.ListTaskIDs())
	assert.Zero(t, c.JobCardCount())
}

func TestUpdateKeepsPersistenceStamp(t *testing.T) {
	c := NewTaskCache("p")
	reg := c.RegisterTask(newTask("T1", "P1", "x"))
	upd := newTask("T1", "P1", "y")
	upd.Status = consts.TaskFinished
	out := c.UpdateTask(upd)
	require.True(t, out.Registered)
	assert.Equal(t, reg.Task.Traceability.Persistence, out.Task.Traceability.Persistence)
	assert.Equal(t, consts.TaskFinished, out.Task.Status)
	assert.Empty(t, c.PendingFor("P1"))
}

func TestPendingFor(t *testing.T) {
	c := NewTaskCache("p")
	now := time.Unix(1000, 0)
	c.now = func() time.Time { now = now.Add(time.Second); return now }
	c.RegisterTask(newTask("b", "P1", ""))
	c.RegisterTask(newTask("a", "P1", ""))
	c.RegisterTask(newTask("c", "P2", ""))
	pending := c.PendingFor("P1")
	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].ID.LocalID)
	assert.Nil(t, c.PendingFor(""))

	_, ok := c.RemoveTask(model.TaskID{LocalID: "b"})
	assert.True(t, ok)
	assert.Len(t, c.PendingFor("P1"), 1)
}

func TestJobCardReplacement(t *testing.T) {
	c := NewTaskCache("p")
	now := time.Unix(0, 0)
	c.now = func() time.Time { now = now.Add(time.Minute); return now }
	id := model.TaskID{LocalID: "T1"}

	c.AddJobCard(model.JobCard{TaskID: id, Attempt: 1})
	first, _ := c.GetJobCard(id)
	c.AddJobCard(model.JobCard{TaskID: id, Attempt: 2})
	second, ok := c.GetJobCard(id)
	require.True(t, ok)
	assert.Equal(t, 2, second.Attempt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, 1, c.JobCardCount())

	_, ok = c.RemoveJobCard(id)
	assert.True(t, ok)
	_, ok = c.GetJobCard(id)
	assert.False(t, ok)
}

func TestCloseJobCardKeepsNewerAttempt(t *testing.T) {
	c := NewTaskCache("p")
	id := model.TaskID{LocalID: "T1"}

	first, ok := c.OpenJobCard(id)
	require.True(t, ok)
	second, ok := c.OpenJobCard(id)
	require.True(t, ok)
	assert.Equal(t, 1, first.Attempt)
	assert.Equal(t, 2, second.Attempt)

	assert.False(t, c.CloseJobCard(id, first.Attempt))
	card, ok := c.GetJobCard(id)
	require.True(t, ok)
	assert.Equal(t, 2, card.Attempt)

	assert.True(t, c.CloseJobCard(id, second.Attempt))
	assert.Zero(t, c.JobCardCount())

	_, ok = c.OpenJobCard(model.TaskID{})
	assert.False(t, ok)
}

func TestMarkCentralLeavesLocalStatus(t *testing.T) {
	c := NewTaskCache("p")
	c.RegisterTask(newTask("T1", "P1", ""))
	at := time.Unix(42, 0)
	require.True(t, c.MarkCentral(model.TaskID{LocalID: "T1"}, consts.StorageSaved, at))
	got, _ := c.GetTask(model.TaskID{LocalID: "T1"})
	assert.Equal(t, consts.StorageSaved, got.Traceability.Persistence.CentralStatus)
	assert.Equal(t, at, got.Traceability.Persistence.CentralAt)
	assert.Equal(t, consts.StorageSaved, got.Traceability.Persistence.LocalStatus)
	assert.False(t, c.MarkCentral(model.TaskID{LocalID: "none"}, consts.StorageSaved, at))
}

func TestConcurrentTraceabilityAppend(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		k := rapid.IntRange(1, 64).Draw(rt, "k")
		c := NewTaskCache("p")
		id := model.TaskID{LocalID: "T1"}
		c.RegisterTask(&model.ActionableTask{ID: id})

		seen := make([]int, k)
		var wg sync.WaitGroup
		for i := 0; i < k; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				seq, ok := c.AppendTraceability(id, model.TraceabilityHop{Fulfiller: "f"})
				if !ok {
					seq = -1
				}
				seen[i] = seq
			}(i)
		}
		wg.Wait()

		used := make(map[int]bool, k)
		for _, s := range seen {
			if s < 0 || s >= k || used[s] {
				rt.Fatalf("bad hop sequence %d in %v", s, seen)
			}
			used[s] = true
		}
		got, _ := c.GetTask(id)
		if len(got.Traceability.Hops) != k {
			rt.Fatalf("hops = %d, want %d", len(got.Traceability.Hops), k)
		}
	})
}
