package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/repository"
	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

// RedisStore go-redis 实现的会话存储
//
//	<prefix>:conv:<agent>:<id>   string, JSON snapshot
//	<prefix>:conversations       zset, member "<agent>/<id>", score = last activity (unix ms)
//	<prefix>:processed           hash, message id → RFC3339Nano
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ repository.Store = (*RedisStore)(nil)

// NewRedisClient parses redisURL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisStore 创建 Redis 存储
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "agentcore"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) conversationKey(agentName, id string) string {
	return s.prefix + ":conv:" + member(agentName, id)
}

func (s *RedisStore) indexKey() string     { return s.prefix + ":conversations" }
func (s *RedisStore) processedKey() string { return s.prefix + ":processed" }

func member(agentName, id string) string {
	return url.PathEscape(agentName) + "/" + url.PathEscape(id)
}

func parseMember(m string) (agentName, id string, ok bool) {
	a, i, found := strings.Cut(m, "/")
	if !found {
		return "", "", false
	}
	agentName, err1 := url.PathUnescape(a)
	id, err2 := url.PathUnescape(i)
	return agentName, id, err1 == nil && err2 == nil
}

// SaveConversation implements repository.ConversationStore.
func (s *RedisStore) SaveConversation(ctx context.Context, snap *entity.ConversationSnapshot) error {
	if snap == nil || snap.ID == "" || snap.AgentName == "" {
		return apperrors.NewInvalidInputError("conversation snapshot needs an id and an agent name")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return apperrors.NewPersistenceError("encode conversation", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.conversationKey(snap.AgentName, snap.ID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(snap.LastActivityAt.UnixMilli()),
		Member: member(snap.AgentName, snap.ID),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.NewPersistenceError("save conversation "+snap.ID, err)
	}
	return nil
}

// LoadConversation implements repository.ConversationStore.
func (s *RedisStore) LoadConversation(ctx context.Context, agentName, id string) (*entity.ConversationSnapshot, error) {
	data, err := s.client.Get(ctx, s.conversationKey(agentName, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("conversation %s/%s not found", agentName, id))
		}
		return nil, apperrors.NewPersistenceError("load conversation "+id, err)
	}

	var snap entity.ConversationSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, apperrors.NewPersistenceError("decode conversation "+id, err)
	}
	return &snap, nil
}

// ListConversations implements repository.ConversationStore.
func (s *RedisStore) ListConversations(ctx context.Context) ([]repository.ConversationRef, error) {
	zs, err := s.client.ZRangeWithScores(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, apperrors.NewPersistenceError("list conversations", err)
	}
	return refsFromZ(zs), nil
}

// DeleteConversation implements repository.ConversationStore.
func (s *RedisStore) DeleteConversation(ctx context.Context, agentName, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.conversationKey(agentName, id))
	pipe.ZRem(ctx, s.indexKey(), member(agentName, id))
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.NewPersistenceError("delete conversation "+id, err)
	}
	return nil
}

// CleanupOlderThan implements repository.ConversationStore.
func (s *RedisStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	zs, err := s.client.ZRangeByScoreWithScores(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, apperrors.NewPersistenceError("find stale conversations", err)
	}
	return cleanupRefs(ctx, s, refsFromZ(zs), cutoff)
}

// MarkProcessed implements repository.ProcessedIndex.
func (s *RedisStore) MarkProcessed(ctx context.Context, messageID string, at time.Time) error {
	if err := s.client.HSet(ctx, s.processedKey(), messageID, at.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return apperrors.NewPersistenceError("mark processed "+messageID, err)
	}
	return nil
}

// IsProcessed implements repository.ProcessedIndex.
func (s *RedisStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	ok, err := s.client.HExists(ctx, s.processedKey(), messageID).Result()
	if err != nil {
		return false, apperrors.NewPersistenceError("check processed "+messageID, err)
	}
	return ok, nil
}

// ProcessedAt implements repository.ProcessedIndex.
func (s *RedisStore) ProcessedAt(ctx context.Context, messageID string) (time.Time, bool, error) {
	raw, err := s.client.HGet(ctx, s.processedKey(), messageID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, apperrors.NewPersistenceError("read processed "+messageID, err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, apperrors.NewPersistenceError("decode processed time", err)
	}
	return at, true, nil
}

// Close implements repository.Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func refsFromZ(zs []redis.Z) []repository.ConversationRef {
	refs := make([]repository.ConversationRef, 0, len(zs))
	for _, z := range zs {
		m, _ := z.Member.(string)
		agentName, id, ok := parseMember(m)
		if !ok {
			continue
		}
		refs = append(refs, repository.ConversationRef{
			AgentName:      agentName,
			ID:             id,
			LastActivityAt: time.UnixMilli(int64(z.Score)),
		})
	}
	return refs
}
