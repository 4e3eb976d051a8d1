// Package lock はパイプライン実行の重複を防ぐ排他ロックを提供する。
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired は他の実行がロックを保持していることを示す。
var ErrNotAcquired = errors.New("ロックは他の実行が保持しています")

// Locker は名前付きの排他ロック。
type Locker interface {
	// Acquire はロックを取得し、解放関数を返す。取得できない場合は ErrNotAcquired。
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, err error)
}

// releaseScript は自分のトークンを保持している場合のみキーを削除する。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker は SET NX PX によるRedisロック。
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker はRedisLockerを生成する。
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "anpi:lock:"}
}

// NewRedisLockerFromURL は redis:// 形式のURLからRedisLockerを生成する。
func NewRedisLockerFromURL(rawURL string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLの解析に失敗しました: %w", err)
	}
	return NewRedisLocker(redis.NewClient(opts)), nil
}

// Acquire はロックを取得する。TTLを過ぎたロックは自動的に失効する。
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	key := l.prefix + name
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("ロックの取得に失敗しました: %w", err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("ロックの解放に失敗しました: %w", err)
		}
		return nil
	}
	return release, nil
}

// Close はRedisクライアントを閉じる。
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// Nop は常に取得に成功するLocker。Redis未設定時に使う。
type Nop struct{}

func (Nop) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = Nop{}
)
