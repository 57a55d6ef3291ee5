package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/sportlens/internal/localstore"
)

// Medium persists the local cache in Redis so it survives agent restarts.
// Values larger than MaxValueBytes, and writes Redis refuses under
// maxmemory (OOM), surface as localstore.ErrQuotaExceeded.
type Medium struct {
	rdb           *redis.Client
	maxValueBytes int
	timeout       time.Duration
}

type Options struct {
	Addr          string
	Password      string
	DB            int
	MaxValueBytes int
}

func New(opts Options) (*Medium, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(rdb, opts.MaxValueBytes), nil
}

func NewWithClient(rdb *redis.Client, maxValueBytes int) *Medium {
	return &Medium{rdb: rdb, maxValueBytes: maxValueBytes, timeout: 2 * time.Second}
}

func (m *Medium) Close() error {
	return m.rdb.Close()
}

func (m *Medium) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.timeout)
}

func (m *Medium) Get(key string) (string, bool, error) {
	ctx, cancel := m.ctx()
	defer cancel()
	v, err := m.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (m *Medium) Set(key, value string) error {
	if m.maxValueBytes > 0 && len(value) > m.maxValueBytes {
		return localstore.ErrQuotaExceeded
	}
	ctx, cancel := m.ctx()
	defer cancel()
	if err := m.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		if isOOM(err) {
			return fmt.Errorf("%w: %v", localstore.ErrQuotaExceeded, err)
		}
		return err
	}
	return nil
}

func (m *Medium) Remove(key string) error {
	ctx, cancel := m.ctx()
	defer cancel()
	return m.rdb.Del(ctx, key).Err()
}

func (m *Medium) Keys(prefix string) ([]string, error) {
	ctx, cancel := m.ctx()
	defer cancel()

	var out []string
	iter := m.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func isOOM(err error) bool {
	return strings.HasPrefix(err.Error(), "OOM ")
}
