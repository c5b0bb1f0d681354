package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces registry keys.
const KeyPrefix = "complyledger:policy:"

// Redis stores each version under its own key, written with SETNX so a
// concurrent publisher cannot overwrite it.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to addr, either host:port or a redis:// URL.
func NewRedis(ctx context.Context, addr, password string) (*Redis, error) {
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}
	if password != "" {
		opts.Password = password
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unavailable: %w", err)
	}
	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func redisKey(name, version string) string {
	return KeyPrefix + name + ":" + version
}

func (r *Redis) Publish(ctx context.Context, name, version string, data []byte) error {
	if err := validateRef(name, version); err != nil {
		return err
	}
	key := redisKey(name, version)
	created, err := r.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("publish %s@%s: %w", name, version, err)
	}
	if created {
		return nil
	}

	existing, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return fmt.Errorf("publish %s@%s: %w", name, version, err)
	}
	if bytes.Equal(existing, data) {
		return nil
	}
	return fmt.Errorf("%s@%s: %w", name, version, ErrImmutable)
}

func (r *Redis) Get(ctx context.Context, name, version string) ([]byte, error) {
	data, err := r.client.Get(ctx, redisKey(name, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s@%s: %w", name, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s@%s: %w", name, version, err)
	}
	return data, nil
}

func (r *Redis) Versions(ctx context.Context, name string) ([]string, error) {
	prefix := KeyPrefix + name + ":"
	var out []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", name, err)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
