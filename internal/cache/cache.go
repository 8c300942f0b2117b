package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/core"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/model"
)

// Outcome 登记/更新的结果. Task 为缓存中状态的副本
type Outcome struct {
	Task       *model.ActionableTask
	Registered bool
	Replaced   bool
}

// TaskCache 任务与 job card 的本地登记表.
// 两张表各一把锁, 需要同时改多个字段的操作在同一临界区内完成, 从不跨表持锁.
type TaskCache struct {
	*core.BaseComponent
	localParticipant string
	now              func() time.Time

	taskMu sync.RWMutex
	tasks  map[string]*model.ActionableTask

	cardMu sync.RWMutex
	cards  map[string]model.JobCard
}

func NewTaskCache(localParticipant string) *TaskCache {
	return &TaskCache{
		BaseComponent:    core.NewBaseComponent(consts.COMP_TASK_CACHE),
		localParticipant: localParticipant,
		now:              time.Now,
		tasks:            make(map[string]*model.ActionableTask),
		cards:            make(map[string]model.JobCard),
	}
}

// RegisterTask 覆盖写 (last-write-wins), 然后打上本地持久化标记
func (c *TaskCache) RegisterTask(task *model.ActionableTask) Outcome {
	if task == nil || !task.ID.Valid() {
		logging.Debug(context.Background(), "register task ignored: missing identity")
		return Outcome{}
	}
	stored := task.Clone()
	now := c.now()
	stored.Registered = true
	if stored.Status == "" {
		stored.Status = consts.TaskRegistered
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	c.taskMu.Lock()
	_, replaced := c.tasks[stored.ID.LocalID]
	p := &stored.Traceability.Persistence
	p.LocalParticipant = c.localParticipant
	p.LocalStatus = consts.StorageSaved
	p.LocalAt = now
	c.tasks[stored.ID.LocalID] = stored
	out := stored.Clone()
	c.taskMu.Unlock()

	return Outcome{Task: out, Registered: true, Replaced: replaced}
}

// UpdateTask replaces an existing task; unknown identities are a no-op.
func (c *TaskCache) UpdateTask(task *model.ActionableTask) Outcome {
	if task == nil || !task.ID.Valid() {
		logging.Debug(context.Background(), "update task ignored: missing identity")
		return Outcome{}
	}
	stored := task.Clone()
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	prev, ok := c.tasks[stored.ID.LocalID]
	if !ok {
		logging.Debug(context.Background(), "update task ignored: not registered", zap.String("task", stored.ID.LocalID))
		return Outcome{}
	}
	if stored.Traceability.Persistence.LocalStatus == "" {
		stored.Traceability.Persistence = prev.Traceability.Persistence
	}
	stored.Registered = prev.Registered
	stored.CreatedAt = prev.CreatedAt
	stored.UpdatedAt = c.now()
	c.tasks[stored.ID.LocalID] = stored
	return Outcome{Task: stored.Clone(), Registered: true, Replaced: true}
}

func (c *TaskCache) GetTask(id model.TaskID) (*model.ActionableTask, bool) {
	c.taskMu.RLock()
	defer c.taskMu.RUnlock()
	t, ok := c.tasks[id.LocalID]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

func (c *TaskCache) RemoveTask(id model.TaskID) (*model.ActionableTask, bool) {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	t, ok := c.tasks[id.LocalID]
	if !ok {
		return nil, false
	}
	delete(c.tasks, id.LocalID)
	return t, true
}

func (c *TaskCache) ListTaskIDs() []model.TaskID {
	c.taskMu.RLock()
	out := make([]model.TaskID, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t.ID)
	}
	c.taskMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LocalID < out[j].LocalID })
	return out
}

// PendingFor 返回某参与者已登记但未结束的任务, 按创建时间排序
func (c *TaskCache) PendingFor(participant string) []*model.ActionableTask {
	if participant == "" {
		return nil
	}
	c.taskMu.RLock()
	var out []*model.ActionableTask
	for _, t := range c.tasks {
		if t.Performer == participant && t.Pending() {
			out = append(out, t.Clone())
		}
	}
	c.taskMu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.LocalID < out[j].ID.LocalID
	})
	return out
}

// AppendTraceability 在锁内分配 hop 序号, 并发追加也不会出现空洞或重复
func (c *TaskCache) AppendTraceability(id model.TaskID, hop model.TraceabilityHop) (int, bool) {
	if hop.At.IsZero() {
		hop.At = c.now()
	}
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	t, ok := c.tasks[id.LocalID]
	if !ok {
		return 0, false
	}
	seq := t.Traceability.Append(hop)
	t.UpdatedAt = hop.At
	return seq, true
}

// MarkCentral 记录中心存储状态, 不影响本地状态
func (c *TaskCache) MarkCentral(id model.TaskID, status consts.StorageStatus, at time.Time) bool {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	t, ok := c.tasks[id.LocalID]
	if !ok {
		return false
	}
	t.Traceability.Persistence.CentralStatus = status
	t.Traceability.Persistence.CentralAt = at
	return true
}

// AddJobCard 同一任务的 card 直接替换并刷新时间
func (c *TaskCache) AddJobCard(card model.JobCard) {
	if !card.TaskID.Valid() {
		logging.Debug(context.Background(), "add job card ignored: missing identity")
		return
	}
	card.UpdatedAt = c.now()
	c.cardMu.Lock()
	c.cards[card.TaskID.LocalID] = card
	c.cardMu.Unlock()
}

// OpenJobCard 原子地为任务开一张新卡, attempt 在上一张卡的基础上加一
func (c *TaskCache) OpenJobCard(id model.TaskID) (model.JobCard, bool) {
	if !id.Valid() {
		logging.Debug(context.Background(), "open job card ignored: missing identity")
		return model.JobCard{}, false
	}
	c.cardMu.Lock()
	defer c.cardMu.Unlock()
	card := model.JobCard{TaskID: id, Attempt: 1, UpdatedAt: c.now()}
	if prev, ok := c.cards[id.LocalID]; ok {
		card.Attempt = prev.Attempt + 1
	}
	c.cards[id.LocalID] = card
	return card, true
}

// CloseJobCard removes the card only while it still belongs to attempt.
func (c *TaskCache) CloseJobCard(id model.TaskID, attempt int) bool {
	c.cardMu.Lock()
	defer c.cardMu.Unlock()
	card, ok := c.cards[id.LocalID]
	if !ok || card.Attempt != attempt {
		return false
	}
	delete(c.cards, id.LocalID)
	return true
}

func (c *TaskCache) RemoveJobCard(id model.TaskID) (model.JobCard, bool) {
	c.cardMu.Lock()
	defer c.cardMu.Unlock()
	card, ok := c.cards[id.LocalID]
	if ok {
		delete(c.cards, id.LocalID)
	}
	return card, ok
}

func (c *TaskCache) GetJobCard(id model.TaskID) (model.JobCard, bool) {
	c.cardMu.RLock()
	defer c.cardMu.RUnlock()
	card, ok := c.cards[id.LocalID]
	return card, ok
}

func (c *TaskCache) JobCardCount() int {
	c.cardMu.RLock()
	defer c.cardMu.RUnlock()
	return len(c.cards)
}
