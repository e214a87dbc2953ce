package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/repository"
	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

type conversationKey struct {
	agent string
	id    string
}

// MemoryStore 内存存储（测试或临时运行使用）
// 快照以 JSON 形式保存，读写都经过编解码，行为与持久化实现一致
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[conversationKey][]byte
	activity      map[conversationKey]time.Time
	processed     map[string]time.Time
}

var _ repository.Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[conversationKey][]byte),
		activity:      make(map[conversationKey]time.Time),
		processed:     make(map[string]time.Time),
	}
}

// SaveConversation implements repository.ConversationStore.
func (s *MemoryStore) SaveConversation(ctx context.Context, snap *entity.ConversationSnapshot) error {
	if snap == nil || snap.ID == "" || snap.AgentName == "" {
		return apperrors.NewInvalidInputError("conversation snapshot needs an id and an agent name")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return apperrors.NewPersistenceError("encode conversation", err)
	}

	key := conversationKey{snap.AgentName, snap.ID}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[key] = data
	s.activity[key] = snap.LastActivityAt
	return nil
}

// LoadConversation implements repository.ConversationStore.
func (s *MemoryStore) LoadConversation(ctx context.Context, agentName, id string) (*entity.ConversationSnapshot, error) {
	s.mu.RLock()
	data, ok := s.conversations[conversationKey{agentName, id}]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("conversation %s/%s not found", agentName, id))
	}

	var snap entity.ConversationSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, apperrors.NewPersistenceError("decode conversation "+id, err)
	}
	return &snap, nil
}

// ListConversations implements repository.ConversationStore.
func (s *MemoryStore) ListConversations(ctx context.Context) ([]repository.ConversationRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := make([]repository.ConversationRef, 0, len(s.activity))
	for key, at := range s.activity {
		refs = append(refs, repository.ConversationRef{AgentName: key.agent, ID: key.id, LastActivityAt: at})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].AgentName != refs[j].AgentName {
			return refs[i].AgentName < refs[j].AgentName
		}
		return refs[i].ID < refs[j].ID
	})
	return refs, nil
}

// DeleteConversation implements repository.ConversationStore.
func (s *MemoryStore) DeleteConversation(ctx context.Context, agentName, id string) error {
	key := conversationKey{agentName, id}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, key)
	delete(s.activity, key)
	return nil
}

// CleanupOlderThan implements repository.ConversationStore.
func (s *MemoryStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	refs, err := s.ListConversations(ctx)
	if err != nil {
		return 0, err
	}
	return cleanupRefs(ctx, s, refs, time.Now().Add(-maxAge))
}

// MarkProcessed implements repository.ProcessedIndex.
func (s *MemoryStore) MarkProcessed(ctx context.Context, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[messageID] = at
	return nil
}

// IsProcessed implements repository.ProcessedIndex.
func (s *MemoryStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	_, ok, err := s.ProcessedAt(ctx, messageID)
	return ok, err
}

// ProcessedAt implements repository.ProcessedIndex.
func (s *MemoryStore) ProcessedAt(ctx context.Context, messageID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.processed[messageID]
	return at, ok, nil
}

// Close implements repository.Store.
func (s *MemoryStore) Close() error { return nil }
