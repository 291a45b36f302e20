package backend

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/lostatc/acid-store/pkg/apierr"
)

// Redis is a backend driver over a Redis instance, for deployments
// that already run Redis as shared infrastructure (spec §1 names
// Redis explicitly among the backends acid-store targets). Keys are
// namespaced under a configurable prefix so several repositories can
// share one Redis keyspace.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedis dials a Redis instance and returns a backend over it.
func NewRedis(opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, apierr.New(apierr.CodeBackendUnavailable, "connecting to redis", err)
	}
	return &Redis{client: client, prefix: opts.Prefix}, nil
}

func (r *Redis) fullKey(key string) string {
	return r.prefix + key
}

func (r *Redis) Write(ctx context.Context, key string, data []byte) error {
	if err := r.client.Set(ctx, r.fullKey(key), data, 0).Err(); err != nil {
		return apierr.New(apierr.CodeBackendUnavailable, "redis set", err)
	}
	return nil
}

func (r *Redis) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apierr.New(apierr.CodeNotFound, "key "+key, err)
	}
	if err != nil {
		return nil, apierr.New(apierr.CodeBackendUnavailable, "redis get", err)
	}
	return data, nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
		return apierr.New(apierr.CodeBackendUnavailable, "redis del", err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(r.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, apierr.New(apierr.CodeBackendUnavailable, "redis scan", err)
	}
	return keys, nil
}

func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		return apierr.New(apierr.CodeIO, "closing redis client", err)
	}
	return nil
}

var _ Backend = (*Redis)(nil)
