package broker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the Redis address and credentials. Pool sizing,
// timeouts, and retry backoff are fixed in NewRedis, tuned the way
// the teacher's cache.Config is (internal/cache/cache.go).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type redisBroker struct {
	client *redis.Client
}

// NewRedis dials Redis with the teacher's pool/timeout/retry settings.
func NewRedis(cfg RedisConfig) (Broker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:        25,
		MinIdleConns:    5,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &redisBroker{client: client}, nil
}

func (b *redisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *redisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return newRedisSubscription(ps), nil
}

func (b *redisBroker) PSubscribe(ctx context.Context, pattern string) (Subscription, error) {
	ps := b.client.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return newRedisSubscription(ps), nil
}

func (b *redisBroker) Set(ctx context.Context, key string, value []byte) error {
	return b.client.Set(ctx, key, value, 0).Err()
}

func (b *redisBroker) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return v, err
}

func (b *redisBroker) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

func (b *redisBroker) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (b *redisBroker) Close() error {
	return b.client.Close()
}

// redisSubscription adapts go-redis's *redis.PubSub to Subscription,
// translating its internal message shape into broker.Message the same
// way the original RedisEventBus._subscribe_redis loop reads
// msg["channel"]/msg["data"] off the raw PSUBSCRIBE stream.
type redisSubscription struct {
	ps  *redis.PubSub
	out chan Message
}

func newRedisSubscription(ps *redis.PubSub) *redisSubscription {
	s := &redisSubscription{
		ps:  ps,
		out: make(chan Message, 256),
	}
	go s.pump()
	return s
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	ch := s.ps.Channel()
	for msg := range ch {
		s.out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}
	}
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) Unsubscribe() error {
	return s.ps.Close()
}
