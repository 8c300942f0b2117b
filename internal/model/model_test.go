package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/grand-thief-cash/taskmesh/internal/consts"
)

func TestActionableTaskCloneIsDeep(t *testing.T) {
	retry := NewTaskID("b-0")
	orig := &ActionableTask{
		ID:       NewTaskID("b-1"),
		WorkItem: WorkItem{ContentType: "hl7v2", Payload: []byte("MSH|")},
		Traceability: TraceabilityRecord{
			Hops:    map[int]TraceabilityHop{0: {Fulfiller: "p1"}},
			RetryOf: &retry,
		},
		Result: &WorkItem{Payload: []byte("ok")},
	}
	cp := orig.Clone()
	cp.WorkItem.Payload[0] = 'X'
	cp.Traceability.Hops[1] = TraceabilityHop{Fulfiller: "p2"}
	cp.Traceability.RetryOf.LocalID = "changed"
	cp.Result.Payload[0] = 'X'

	assert.Equal(t, "MSH|", string(orig.WorkItem.Payload))
	assert.Len(t, orig.Traceability.Hops, 1)
	assert.Equal(t, retry.LocalID, orig.Traceability.RetryOf.LocalID)
	assert.Equal(t, "ok", string(orig.Result.Payload))
}

func TestTraceabilityAppendNumbersHops(t *testing.T) {
	var r TraceabilityRecord
	for i := 0; i < 3; i++ {
		assert.Equal(t, i, r.Append(TraceabilityHop{Fulfiller: "p", At: time.Now()}))
	}
	assert.Len(t, r.Hops, 3)
}

func TestPendingAndStringSet(t *testing.T) {
	task := &ActionableTask{Registered: true, Status: consts.TaskActive}
	assert.True(t, task.Pending())
	task.Status = consts.TaskCancelled
	assert.False(t, task.Pending())

	assert.Equal(t, []string{"a", "b"}, StringSet([]string{"b", "", "a", "b"}))
	assert.Nil(t, StringSet(nil))
}

func TestFailedResponseKeepsCorrelation(t *testing.T) {
	r := FailedResponse[ActionableTask]("corr-1", assert.AnError)
	assert.Equal(t, "corr-1", r.CorrelationID)
	assert.False(t, r.Successful)
	assert.Nil(t, r.Content)
	assert.NotEmpty(t, r.Error)
}
