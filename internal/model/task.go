package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/grand-thief-cash/taskmesh/internal/consts"
)

// TaskID 任务身份, 赋值后不可变. LocalID 是缓存与队列的 key
type TaskID struct {
	LocalID    string `json:"local_id"`
	BusinessID string `json:"business_id,omitempty"`
}

func NewTaskID(businessID string) TaskID {
	return TaskID{LocalID: uuid.NewString(), BusinessID: businessID}
}

func (id TaskID) Valid() bool { return id.LocalID != "" }

func (id TaskID) String() string {
	if id.BusinessID == "" {
		return id.LocalID
	}
	return id.LocalID + "/" + id.BusinessID
}

// WorkItem 工作负载描述, 内容对本模块不透明
type WorkItem struct {
	ContentType string `json:"content_type"`
	Payload     []byte `json:"payload,omitempty"`
}

func (w WorkItem) clone() WorkItem {
	if w.Payload != nil {
		w.Payload = append([]byte(nil), w.Payload...)
	}
	return w
}

// ActionableTask 一个待处理的工作单元
type ActionableTask struct {
	ID           TaskID             `json:"id"`
	Origin       string             `json:"origin,omitempty"` // 提交任务的参与者
	Performer    string             `json:"performer"`        // 负责执行的参与者
	WorkItem     WorkItem           `json:"work_item"`
	Status       consts.TaskStatus  `json:"status"`
	Traceability TraceabilityRecord `json:"traceability"`
	Registered   bool               `json:"registered"`
	Result       *WorkItem          `json:"result,omitempty"` // 执行产出, 仅 FINISHED 时存在
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Clone returns a deep copy; caches never alias caller-owned state.
func (t *ActionableTask) Clone() *ActionableTask {
	if t == nil {
		return nil
	}
	cp := *t
	cp.WorkItem = t.WorkItem.clone()
	cp.Traceability = t.Traceability.Clone()
	if t.Result != nil {
		r := t.Result.clone()
		cp.Result = &r
	}
	return &cp
}

// Pending 已登记但尚未结束
func (t *ActionableTask) Pending() bool {
	return t.Registered && !t.Status.Terminal()
}

// JobCard 一次执行尝试的标记, 同一任务重复提交时整体替换
type JobCard struct {
	TaskID    TaskID    `json:"task_id"`
	Attempt   int       `json:"attempt"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueueEntry 队列条目. HasSequence=false 表示序号缺失, 队列会拒绝
type QueueEntry struct {
	TaskID      TaskID `json:"task_id"`
	Sequence    int64  `json:"sequence"`
	HasSequence bool   `json:"has_sequence"`
}

func NewQueueEntry(id TaskID, seq int64) QueueEntry {
	return QueueEntry{TaskID: id, Sequence: seq, HasSequence: true}
}
