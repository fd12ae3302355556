package upload

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rinkside/rinkside/pkg/utils"
)

const defaultRedisPrefix = "upload:"

// createScript writes the metadata hash only if it does not exist yet.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// putChunkScript stores a chunk only while the session exists, so a chunk
// racing a delete can never resurrect it.
var putChunkScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[1], 'lastActivity', ARGV[3])
return redis.call('HLEN', KEYS[2])
`)

var deleteScript = redis.NewScript(`
local existed = redis.call('DEL', KEYS[1])
redis.call('DEL', KEYS[2])
return existed
`)

var expireScript = redis.NewScript(`
local last = redis.call('HGET', KEYS[1], 'lastActivity')
if not last then
	return 0
end
if tonumber(last) < tonumber(ARGV[1]) then
	redis.call('DEL', KEYS[1], KEYS[2])
	return 1
end
return 0
`)

// unlockScript releases the finalize lock only if the caller still owns it
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore keeps sessions in Redis: a metadata hash per session and a
// second hash mapping chunk index to payload. Every key of a session carries
// the id as a hash tag so the scripts stay on one cluster slot.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store using keys under prefix (defaults to "upload:")
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (rs *RedisStore) sessionKey(id string) string {
	return rs.prefix + "{" + id + "}:session"
}

func (rs *RedisStore) chunksKey(id string) string {
	return rs.prefix + "{" + id + "}:chunks"
}

func (rs *RedisStore) finalizeKey(id string) string {
	return rs.prefix + "{" + id + "}:finalize"
}

func (rs *RedisStore) Create(ctx context.Context, session *Session) error {
	args := []interface{}{
		"id", session.ID,
		"fileKey", session.FileKey,
		"fileName", session.FileName,
		"fileSize", session.FileSize,
		"mimeType", session.MimeType,
		"totalChunks", session.TotalChunks,
		"createdAt", session.CreatedAt.UnixMilli(),
		"lastActivity", session.LastActivity.UnixMilli(),
	}

	created, err := createScript.Run(ctx, rs.client, []string{rs.sessionKey(session.ID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if created == 0 {
		return ErrSessionExists
	}

	for index, data := range session.Chunks {
		if _, err := rs.PutChunk(ctx, session.ID, index, data, session.LastActivity); err != nil {
			return err
		}
	}
	return nil
}

func (rs *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	pipe := rs.client.TxPipeline()
	metaCmd := pipe.HGetAll(ctx, rs.sessionKey(id))
	chunksCmd := pipe.HGetAll(ctx, rs.chunksKey(id))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	meta := metaCmd.Val()
	if len(meta) == 0 {
		return nil, ErrSessionNotFound
	}

	session, err := decodeSession(meta)
	if err != nil {
		return nil, err
	}

	for field, data := range chunksCmd.Val() {
		index, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("corrupt chunk index %q: %w", field, err)
		}
		session.Chunks[index] = []byte(data)
	}
	return session, nil
}

func (rs *RedisStore) Meta(ctx context.Context, id string) (*Session, error) {
	pipe := rs.client.TxPipeline()
	metaCmd := pipe.HGetAll(ctx, rs.sessionKey(id))
	indicesCmd := pipe.HKeys(ctx, rs.chunksKey(id))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	meta := metaCmd.Val()
	if len(meta) == 0 {
		return nil, ErrSessionNotFound
	}

	session, err := decodeSession(meta)
	if err != nil {
		return nil, err
	}

	for _, field := range indicesCmd.Val() {
		index, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("corrupt chunk index %q: %w", field, err)
		}
		session.Chunks[index] = nil
	}
	return session, nil
}

func (rs *RedisStore) PutChunk(ctx context.Context, id string, index int, data []byte, at time.Time) (int, error) {
	keys := []string{rs.sessionKey(id), rs.chunksKey(id)}
	received, err := putChunkScript.Run(ctx, rs.client, keys, index, data, at.UnixMilli()).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to store chunk: %w", err)
	}
	if received < 0 {
		return 0, ErrSessionNotFound
	}
	return received, nil
}

func (rs *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	keys := []string{rs.sessionKey(id), rs.chunksKey(id)}
	existed, err := deleteScript.Run(ctx, rs.client, keys).Int()
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return existed > 0, nil
}

func (rs *RedisStore) DeleteExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	var expired []string
	err := rs.scanSessions(ctx, func(id string) error {
		keys := []string{rs.sessionKey(id), rs.chunksKey(id)}
		removed, err := expireScript.Run(ctx, rs.client, keys, cutoff.UnixMilli()).Int()
		if err != nil {
			return fmt.Errorf("failed to expire session %s: %w", id, err)
		}
		if removed > 0 {
			expired = append(expired, id)
		}
		return nil
	})
	return expired, err
}

func (rs *RedisStore) Len(ctx context.Context) (int, error) {
	count := 0
	err := rs.scanSessions(ctx, func(string) error {
		count++
		return nil
	})
	return count, err
}

// LockFinalize takes a SET NX lock so that only one gateway replica writes a
// given upload to the blob store at a time
func (rs *RedisStore) LockFinalize(ctx context.Context, id string, ttl time.Duration) (func(context.Context) error, error) {
	token, err := utils.RandomHex(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate lock token: %w", err)
	}

	key := rs.finalizeKey(id)
	acquired, err := rs.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to take finalize lock: %w", err)
	}
	if !acquired {
		return nil, ErrFinalizeInProgress
	}

	return func(ctx context.Context) error {
		if err := unlockScript.Run(ctx, rs.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release finalize lock: %w", err)
		}
		return nil
	}, nil
}

func (rs *RedisStore) scanSessions(ctx context.Context, fn func(id string) error) error {
	keyPrefix := rs.prefix + "{"
	const keySuffix = "}:session"
	iter := rs.client.Scan(ctx, 0, keyPrefix+"*"+keySuffix, 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimSuffix(strings.TrimPrefix(iter.Val(), keyPrefix), keySuffix)
		if err := fn(id); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan sessions: %w", err)
	}
	return nil
}

func decodeSession(meta map[string]string) (*Session, error) {
	fileSize, err := strconv.ParseInt(meta["fileSize"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt fileSize: %w", err)
	}
	totalChunks, err := strconv.Atoi(meta["totalChunks"])
	if err != nil {
		return nil, fmt.Errorf("corrupt totalChunks: %w", err)
	}
	createdAt, err := strconv.ParseInt(meta["createdAt"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt createdAt: %w", err)
	}
	lastActivity, err := strconv.ParseInt(meta["lastActivity"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt lastActivity: %w", err)
	}

	return &Session{
		ID:           meta["id"],
		FileKey:      meta["fileKey"],
		FileName:     meta["fileName"],
		FileSize:     fileSize,
		MimeType:     meta["mimeType"],
		TotalChunks:  totalChunks,
		Chunks:       make(map[int][]byte, totalChunks),
		CreatedAt:    time.UnixMilli(createdAt),
		LastActivity: time.UnixMilli(lastActivity),
	}, nil
}
