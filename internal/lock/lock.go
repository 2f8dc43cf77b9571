package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLocked возвращается, когда ключ уже удерживается другим обработчиком
var ErrLocked = errors.New("lock is held by another worker")

// Locker сериализует обработку одной записи между инстансами
type Locker interface {
	// Acquire захватывает ключ на ttl; release нужно вызвать после обработки
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Удаляем ключ только если он все еще принадлежит нам
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLocker struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisLocker(client *redis.Client, logger *zap.Logger) Locker {
	return &redisLocker{
		client: client,
		prefix: "verification:lock:",
		logger: logger,
	}
}

// NewRedisClient создает клиента по URL и проверяет соединение
func NewRedisClient(ctx context.Context, url, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

func (l *redisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	l.logger.Debug("lock acquired", zap.String("key", fullKey))

	release := func() {
		// контекст запроса может быть уже отменен
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err(); err != nil {
			l.logger.Warn("failed to release lock", zap.String("key", fullKey), zap.Error(err))
		}
	}
	return release, nil
}

type noopLocker struct{}

// NewNoopLocker используется, когда Redis не настроен; защиту дает условный UPDATE в БД
func NewNoopLocker() Locker {
	return noopLocker{}
}

func (noopLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return func() {}, nil
}
