package offload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	appconsts "github.com/grand-thief-cash/taskmesh/infra/consts"
	"github.com/grand-thief-cash/taskmesh/infra/core"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/model"
)

var ErrStoreNotReady = errors.New("offload store not started")

// DBSource is satisfied by the gorm component.
type DBSource interface {
	GetDB(name string) (*gorm.DB, error)
}

// entryRow 中心存储里的一条队列条目, (participant, task_local_id) 唯一
type entryRow struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	Participant    string    `gorm:"size:128;not null;uniqueIndex:uq_offload_participant_task,priority:1;index:idx_offload_participant_seq,priority:1"`
	TaskLocalID    string    `gorm:"size:64;not null;uniqueIndex:uq_offload_participant_task,priority:2"`
	TaskBusinessID string    `gorm:"size:128"`
	Sequence       int64     `gorm:"not null;index:idx_offload_participant_seq,priority:2"`
	OffloadedAt    time.Time `gorm:"not null"`
}

func (entryRow) TableName() string { return "offloaded_queue_entries" }

// Store 被挤出本地队列的条目落到 gorm 数据源
type Store struct {
	*core.BaseComponent
	source     DBSource
	dataSource string
	now        func() time.Time

	db *gorm.DB
}

func NewStore(source DBSource, dataSource string) *Store {
	return &Store{
		BaseComponent: core.NewBaseComponent(consts.COMP_OFFLOAD_STORE, appconsts.COMPONENT_GORM),
		source:        source,
		dataSource:    dataSource,
		now:           time.Now,
	}
}

func (s *Store) Start(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("offload store: no gorm source")
	}
	db, err := s.source.GetDB(s.dataSource)
	if err != nil {
		return fmt.Errorf("offload store: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&entryRow{}); err != nil {
		return fmt.Errorf("offload store migrate: %w", err)
	}
	s.db = db
	logging.Infof(ctx, "offload store ready on datasource %s", s.dataSource)
	return s.BaseComponent.Start(ctx)
}

// Save 已存在的 (participant, task) 覆盖序号
func (s *Store) Save(ctx context.Context, participant string, entries []model.QueueEntry) error {
	if s.db == nil {
		return ErrStoreNotReady
	}
	if participant == "" || len(entries) == 0 {
		return nil
	}
	now := s.now()
	rows := make([]entryRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, entryRow{
			Participant:    participant,
			TaskLocalID:    e.TaskID.LocalID,
			TaskBusinessID: e.TaskID.BusinessID,
			Sequence:       e.Sequence,
			OffloadedAt:    now,
		})
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "participant"}, {Name: "task_local_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"task_business_id", "sequence", "offloaded_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("save offloaded entries for %s: %w", participant, err)
	}
	return nil
}

// TakeOldest 在一个事务里取出并删除序号最小的 n 条
func (s *Store) TakeOldest(ctx context.Context, participant string, n int) ([]model.QueueEntry, error) {
	if s.db == nil {
		return nil, ErrStoreNotReady
	}
	if participant == "" || n <= 0 {
		return nil, nil
	}
	var rows []entryRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("participant = ?", participant).Order("sequence ASC").Limit(n).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uint64, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
		return tx.Where("id IN ?", ids).Delete(&entryRow{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("take offloaded entries for %s: %w", participant, err)
	}
	out := make([]model.QueueEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.NewQueueEntry(model.TaskID{LocalID: r.TaskLocalID, BusinessID: r.TaskBusinessID}, r.Sequence))
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, participant string) (int64, error) {
	if s.db == nil {
		return 0, ErrStoreNotReady
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&entryRow{}).Where("participant = ?", participant).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count offloaded entries for %s: %w", participant, err)
	}
	return n, nil
}

// MaxSequences 每个参与者在中心存储里的最大序号
func (s *Store) MaxSequences(ctx context.Context) (map[string]int64, error) {
	if s.db == nil {
		return nil, ErrStoreNotReady
	}
	var rows []struct {
		Participant string
		MaxSeq      int64
	}
	err := s.db.WithContext(ctx).Model(&entryRow{}).
		Select("participant, MAX(sequence) AS max_seq").
		Group("participant").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("max offloaded sequences: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Participant] = r.MaxSeq
	}
	return out, nil
}

// Participants 中心存储里还有条目的参与者
func (s *Store) Participants(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, ErrStoreNotReady
	}
	var names []string
	if err := s.db.WithContext(ctx).Model(&entryRow{}).Distinct().Order("participant").Pluck("participant", &names).Error; err != nil {
		return nil, fmt.Errorf("list offloaded participants: %w", err)
	}
	return names, nil
}
