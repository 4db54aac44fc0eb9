package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// IngestLock 防止同一文档被重复投递的消息并发处理。
type IngestLock interface {
	// Acquire 返回释放函数；锁已被占用时 ok 为 false。
	Acquire(ctx context.Context, docID string, ttl time.Duration) (release func(), ok bool, err error)
}

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type redisIngestLock struct {
	redisClient *redis.Client
}

func NewRedisIngestLock(redisClient *redis.Client) IngestLock {
	return &redisIngestLock{redisClient: redisClient}
}

func IngestLockKey(docID string) string {
	return "ingest:lock:" + docID
}

func (l *redisIngestLock) Acquire(ctx context.Context, docID string, ttl time.Duration) (func(), bool, error) {
	key := IngestLockKey(docID)
	owner := uuid.NewString()
	ok, err := l.redisClient.SetNX(ctx, key, owner, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		_ = releaseScript.Run(context.Background(), l.redisClient, []string{key}, owner).Err()
	}
	return release, true, nil
}
