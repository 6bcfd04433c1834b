package chunks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStore keeps chunk sets in Redis so sessions survive a relay
// restart. One hash per upload: a meta field plus one field per chunk
// index; expiry rides on the key TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

const chunkKeyPrefix = "chunks:"

type redisMeta struct {
	FileName    string    `json:"file_name"`
	TotalChunks int       `json:"total_chunks"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewRedisStore creates a Redis-backed chunk store
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func chunkKey(uploadID string) string {
	return chunkKeyPrefix + uploadID
}

func chunkField(index int) string {
	return "c:" + strconv.Itoa(index)
}

func (s *RedisStore) Init(ctx context.Context, uploadID, fileName string, totalChunks int) error {
	meta, err := json.Marshal(redisMeta{
		FileName:    fileName,
		TotalChunks: totalChunks,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session meta: %w", err)
	}

	key := chunkKey(uploadID)
	created, err := s.client.HSetNX(ctx, key, "meta", meta).Result()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !created {
		return ErrDuplicateSession
	}

	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("upload_id", uploadID).Msg("failed to set session expiry")
	}

	log.Info().
		Str("upload_id", uploadID).
		Str("file_name", fileName).
		Int("total_chunks", totalChunks).
		Msg("chunked upload session initialized in redis")

	return nil
}

func (s *RedisStore) meta(ctx context.Context, uploadID string) (*redisMeta, error) {
	raw, err := s.client.HGet(ctx, chunkKey(uploadID), "meta").Result()
	if err == redis.Nil {
		return nil, ErrUnknownSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session meta: %w", err)
	}

	var meta redisMeta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode session meta: %w", err)
	}
	return &meta, nil
}

func (s *RedisStore) Put(ctx context.Context, uploadID string, index int, data []byte) (int, error) {
	if _, err := s.meta(ctx, uploadID); err != nil {
		return 0, err
	}

	key := chunkKey(uploadID)
	if err := s.client.HSet(ctx, key, chunkField(index), data).Err(); err != nil {
		return 0, fmt.Errorf("failed to store chunk %d: %w", index, err)
	}
	// chunk activity keeps the session alive
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("upload_id", uploadID).Msg("failed to refresh session expiry")
	}

	count, err := s.client.HLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	// the meta field is not a chunk
	return int(count) - 1, nil
}

func (s *RedisStore) Meta(ctx context.Context, uploadID string) (*Meta, error) {
	meta, err := s.meta(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	count, err := s.client.HLen(ctx, chunkKey(uploadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	return &Meta{
		UploadID:    uploadID,
		FileName:    meta.FileName,
		TotalChunks: meta.TotalChunks,
		Received:    int(count) - 1,
		CreatedAt:   meta.CreatedAt,
	}, nil
}

func (s *RedisStore) Assemble(ctx context.Context, uploadID string) ([]byte, error) {
	meta, err := s.meta(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	fields, err := s.client.HGetAll(ctx, chunkKey(uploadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	have := make(map[int][]byte, len(fields))
	for field, value := range fields {
		if !strings.HasPrefix(field, "c:") {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(field, "c:"))
		if err != nil {
			continue
		}
		have[index] = []byte(value)
	}

	if missing := missingIndices(have, meta.TotalChunks); len(missing) > 0 {
		return nil, &IncompleteError{Expected: meta.TotalChunks, Missing: missing}
	}

	var size int
	for _, chunk := range have {
		size += len(chunk)
	}

	out := make([]byte, 0, size)
	for i := 0; i < meta.TotalChunks; i++ {
		out = append(out, have[i]...)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, uploadID string) error {
	return s.client.Del(ctx, chunkKey(uploadID)).Err()
}
