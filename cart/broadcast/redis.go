package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cardhaus/cartsync/internal/log"
	"github.com/cardhaus/cartsync/internal/otel"
)

// RedisChannel spans processes via redis pub/sub. Unlike the in-process Bus,
// pub/sub has no self-exclusion, so a tab receives its own publishes; the
// version reconciler's ignore rule makes those echoes harmless.
type RedisChannel struct {
	client *redis.Client
	name   string

	mu     sync.Mutex
	pubsub []*redis.PubSub
	closed bool
}

func NewRedisChannel(client *redis.Client, name string) *RedisChannel {
	return &RedisChannel{client: client, name: name}
}

func (r *RedisChannel) Publish(c context.Context, msg Message) error {
	c, span := otel.Tracer.Start(c, "RedisChannel Publish")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "RedisChannel Publish").
		Str(log.KEY_CHANNEL, r.name).
		Int64(log.KEY_VERSION, msg.Version).
		Logger()

	payload, err := json.Marshal(msg)
	if err != nil {
		err = fmt.Errorf("failed marshaling broadcast message with error=%w", err)
		otel.RecordError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return err
	}

	err = r.client.Publish(c, r.name, payload).Err()
	if err != nil {
		err = fmt.Errorf("failed publishing broadcast message with error=%w", err)
		otel.RecordError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return err
	}
	return nil
}

func (r *RedisChannel) Subscribe(fn func(Message)) func() {
	c := context.Background()
	pubsub := r.client.Subscribe(c, r.name)

	r.mu.Lock()
	r.pubsub = append(r.pubsub, pubsub)
	r.mu.Unlock()

	go func() {
		logger := zerolog.Ctx(c).
			With().
			Str(log.KEY_TAG, "RedisChannel Subscribe").
			Str(log.KEY_CHANNEL, r.name).
			Logger()
		for raw := range pubsub.Channel() {
			msg := Message{}
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				err = fmt.Errorf("failed unmarshaling broadcast message with error=%w", err)
				logger.Error().Err(err).Msg(err.Error())
				continue
			}
			fn(msg)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { _ = pubsub.Close() })
	}
}

func (r *RedisChannel) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs error
	for _, pubsub := range r.pubsub {
		if err := pubsub.Close(); err != nil {
			errs = err
		}
	}
	return errs
}
