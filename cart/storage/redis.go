package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cardhaus/cartsync/internal/log"
	"github.com/cardhaus/cartsync/internal/otel"
)

// RedisBackend persists the cart record in redis so demo tabs can span
// processes. Cross-tab signalling rides the pub/sub broadcast channel, which
// is always available alongside redis, so Watch is a no-op here.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Get(c context.Context, key string) ([]byte, error) {
	c, span := otel.Tracer.Start(c, "RedisBackend Get")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "RedisBackend Get").
		Str(log.KEY_STORAGE_KEY, key).
		Logger()

	value, err := r.client.Get(c, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		err = fmt.Errorf("failed getting cart record with error=%w", err)
		otel.RecordError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return nil, err
	}
	return value, nil
}

func (r *RedisBackend) Set(c context.Context, key string, value []byte) error {
	c, span := otel.Tracer.Start(c, "RedisBackend Set")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "RedisBackend Set").
		Str(log.KEY_STORAGE_KEY, key).
		Logger()

	err := r.client.Set(c, key, value, 0).Err()
	if err != nil {
		err = fmt.Errorf("failed setting cart record with error=%w", err)
		otel.RecordError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return err
	}
	return nil
}

func (r *RedisBackend) Delete(c context.Context, key string) error {
	c, span := otel.Tracer.Start(c, "RedisBackend Delete")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "RedisBackend Delete").
		Str(log.KEY_STORAGE_KEY, key).
		Logger()

	err := r.client.Del(c, key).Err()
	if err != nil {
		err = fmt.Errorf("failed deleting cart record with error=%w", err)
		otel.RecordError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return err
	}
	return nil
}

func (r *RedisBackend) Watch(string, func(value []byte)) func() {
	return func() {}
}
