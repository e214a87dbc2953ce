package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/repository"
	"github.com/ngoclaw/agentcore/internal/infrastructure/persistence/models"
	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

// GormStore GORM 实现的会话存储（sqlite / postgres）
type GormStore struct {
	db *gorm.DB
}

var _ repository.Store = (*GormStore)(nil)

// NewGormStore 创建 GORM 存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// SaveConversation implements repository.ConversationStore. Messages are
// append-only, so only rows past the stored count are inserted.
func (s *GormStore) SaveConversation(ctx context.Context, snap *entity.ConversationSnapshot) error {
	if snap == nil || snap.ID == "" || snap.AgentName == "" {
		return apperrors.NewInvalidInputError("conversation snapshot needs an id and an agent name")
	}
	conv, err := toConversationModel(snap)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(conv).Error; err != nil {
			return err
		}

		var stored int64
		scope := tx.Model(&models.MessageModel{}).
			Where("agent_name = ? AND conversation_id = ?", snap.AgentName, snap.ID)
		if err := scope.Count(&stored).Error; err != nil {
			return err
		}
		if int(stored) > len(snap.Messages) {
			// 快照比存储短：整体重写
			if err := tx.Where("agent_name = ? AND conversation_id = ?", snap.AgentName, snap.ID).
				Delete(&models.MessageModel{}).Error; err != nil {
				return err
			}
			stored = 0
		}

		rows := make([]models.MessageModel, 0, len(snap.Messages)-int(stored))
		for i := int(stored); i < len(snap.Messages); i++ {
			m := snap.Messages[i]
			rows = append(rows, models.MessageModel{
				AgentName:      snap.AgentName,
				ConversationID: snap.ID,
				Seq:            i,
				Role:           string(m.Role),
				Content:        m.Content,
				SourceEventID:  m.SourceEventID,
				Timestamp:      m.Timestamp,
			})
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 100).Error
	})
	if err != nil {
		return apperrors.NewPersistenceError("save conversation "+snap.ID, err)
	}
	return nil
}

// LoadConversation implements repository.ConversationStore.
func (s *GormStore) LoadConversation(ctx context.Context, agentName, id string) (*entity.ConversationSnapshot, error) {
	var conv models.ConversationModel
	err := s.db.WithContext(ctx).First(&conv, "agent_name = ? AND id = ?", agentName, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("conversation %s/%s not found", agentName, id))
		}
		return nil, apperrors.NewPersistenceError("find conversation "+id, err)
	}

	var rows []models.MessageModel
	err = s.db.WithContext(ctx).
		Where("agent_name = ? AND conversation_id = ?", agentName, id).
		Order("seq asc").
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.NewPersistenceError("find messages of "+id, err)
	}

	return toSnapshot(&conv, rows)
}

// ListConversations implements repository.ConversationStore.
func (s *GormStore) ListConversations(ctx context.Context) ([]repository.ConversationRef, error) {
	var convs []models.ConversationModel
	err := s.db.WithContext(ctx).
		Select("agent_name", "id", "last_activity_at").
		Order("agent_name asc, id asc").
		Find(&convs).Error
	if err != nil {
		return nil, apperrors.NewPersistenceError("list conversations", err)
	}

	refs := make([]repository.ConversationRef, 0, len(convs))
	for _, c := range convs {
		refs = append(refs, repository.ConversationRef{AgentName: c.AgentName, ID: c.ID, LastActivityAt: c.LastActivityAt})
	}
	return refs, nil
}

// DeleteConversation implements repository.ConversationStore.
func (s *GormStore) DeleteConversation(ctx context.Context, agentName, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("agent_name = ? AND conversation_id = ?", agentName, id).
			Delete(&models.MessageModel{}).Error; err != nil {
			return err
		}
		return tx.Where("agent_name = ? AND id = ?", agentName, id).
			Delete(&models.ConversationModel{}).Error
	})
	if err != nil {
		return apperrors.NewPersistenceError("delete conversation "+id, err)
	}
	return nil
}

// CleanupOlderThan implements repository.ConversationStore.
func (s *GormStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	var stale []models.ConversationModel
	err := s.db.WithContext(ctx).
		Select("agent_name", "id", "last_activity_at").
		Where("last_activity_at < ?", time.Now().Add(-maxAge)).
		Find(&stale).Error
	if err != nil {
		return 0, apperrors.NewPersistenceError("find stale conversations", err)
	}

	refs := make([]repository.ConversationRef, 0, len(stale))
	for _, c := range stale {
		refs = append(refs, repository.ConversationRef{AgentName: c.AgentName, ID: c.ID, LastActivityAt: c.LastActivityAt})
	}
	return cleanupRefs(ctx, s, refs, time.Now().Add(-maxAge))
}

// MarkProcessed implements repository.ProcessedIndex.
func (s *GormStore) MarkProcessed(ctx context.Context, messageID string, at time.Time) error {
	row := models.ProcessedModel{MessageID: messageID, ProcessedAt: at}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return apperrors.NewPersistenceError("mark processed "+messageID, err)
	}
	return nil
}

// IsProcessed implements repository.ProcessedIndex.
func (s *GormStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	_, ok, err := s.ProcessedAt(ctx, messageID)
	return ok, err
}

// ProcessedAt implements repository.ProcessedIndex.
func (s *GormStore) ProcessedAt(ctx context.Context, messageID string) (time.Time, bool, error) {
	var row models.ProcessedModel
	err := s.db.WithContext(ctx).First(&row, "message_id = ?", messageID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, apperrors.NewPersistenceError("find processed "+messageID, err)
	}
	return row.ProcessedAt, true, nil
}

// Close implements repository.Store.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// toConversationModel 实体转换为模型
func toConversationModel(snap *entity.ConversationSnapshot) (*models.ConversationModel, error) {
	var metadata string
	if len(snap.Metadata) > 0 {
		data, err := json.Marshal(snap.Metadata)
		if err != nil {
			return nil, apperrors.NewPersistenceError("encode conversation metadata", err)
		}
		metadata = string(data)
	}
	return &models.ConversationModel{
		AgentName:      snap.AgentName,
		ID:             snap.ID,
		CreatedAt:      snap.CreatedAt,
		LastActivityAt: snap.LastActivityAt,
		Metadata:       metadata,
	}, nil
}

// toSnapshot 模型转换为快照
func toSnapshot(conv *models.ConversationModel, rows []models.MessageModel) (*entity.ConversationSnapshot, error) {
	snap := &entity.ConversationSnapshot{
		ID:             conv.ID,
		AgentName:      conv.AgentName,
		CreatedAt:      conv.CreatedAt,
		LastActivityAt: conv.LastActivityAt,
		Messages:       make([]entity.Message, 0, len(rows)),
	}
	if conv.Metadata != "" {
		if err := json.Unmarshal([]byte(conv.Metadata), &snap.Metadata); err != nil {
			return nil, apperrors.NewPersistenceError("decode conversation metadata", err)
		}
	}
	for _, r := range rows {
		snap.Messages = append(snap.Messages, entity.Message{
			Role:          entity.Role(r.Role),
			Content:       r.Content,
			Timestamp:     r.Timestamp,
			SourceEventID: r.SourceEventID,
		})
	}
	return snap, nil
}
