package broker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hyphahub/msghub/internal/logger"
)

// NATSConfig mirrors the teacher's events.Config (internal/events/
// subscriber.go): URL plus optional username/password.
type NATSConfig struct {
	URL      string
	User     string
	Password string
}

// natsBroker adapts nats.go to Broker. NATS has no notion of a flat
// key-value store, so Set/Get/Delete/Keys are backed by an in-process
// map guarded by a mutex and replicated across the cluster via a
// dedicated KV-sync subject — adequate for the hub's registry, which
// is read far more often than written and tolerates eventual
// convergence the way the rest of the broker abstraction already
// tolerates at-most-once delivery.
type natsBroker struct {
	conn *nats.Conn

	mu  sync.RWMutex
	kv  map[string][]byte
	sub *nats.Subscription
}

const kvSyncSubject = "msghub.kv.sync"

type kvSyncMsg struct {
	Key     string `json:"key"`
	Value   []byte `json:"value"`
	Deleted bool   `json:"deleted"`
}

// NewNats dials NATS with the teacher's reconnect/error-handler
// conventions (internal/events/subscriber.go NewSubscriber).
func NewNats(cfg NATSConfig) (Broker, error) {
	log := logger.Broker()

	opts := []nats.Option{
		nats.Name("msghub"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("nats error")
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	b := &natsBroker{conn: conn, kv: make(map[string][]byte)}
	sub, err := conn.Subscribe(kvSyncSubject, b.handleKVSync)
	if err != nil {
		conn.Close()
		return nil, err
	}
	b.sub = sub
	return b, nil
}

func (b *natsBroker) handleKVSync(msg *nats.Msg) {
	var sync kvSyncMsg
	if err := json.Unmarshal(msg.Data, &sync); err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if sync.Deleted {
		delete(b.kv, sync.Key)
	} else {
		b.kv[sync.Key] = sync.Value
	}
}

// natsChannel translates a broker channel name built for Redis's
// ":"/"/" namespacing convention (e.g. "workspace/client:msg",
// "event:b:name") into a NATS-legal dot-separated subject — the
// translation happens only at this boundary, per SPEC_FULL.md §4.2a.
// The reverse mapping applied to delivered messages turns every "."
// back into ":", so Message.Channel is the original name for
// "event:<kind>:<name>" channels but reports "/" as ":" for
// "workspace/client:msg" channels.
func natsChannel(channel string) string {
	s := strings.ReplaceAll(channel, ":", ".")
	s = strings.ReplaceAll(s, "/", ".")
	return s
}

func (b *natsBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.conn.Publish(natsChannel(channel), payload)
}

func (b *natsBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	return b.subscribe(natsChannel(channel))
}

func (b *natsBroker) PSubscribe(ctx context.Context, pattern string) (Subscription, error) {
	subject := natsChannel(pattern)
	subject = strings.TrimSuffix(subject, "*") + ">"
	return b.subscribe(subject)
}

func (b *natsBroker) subscribe(subject string) (Subscription, error) {
	out := make(chan Message, 256)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		out <- Message{Channel: strings.ReplaceAll(msg.Subject, ".", ":"), Payload: msg.Data}
	})
	if err != nil {
		close(out)
		return nil, err
	}
	return &natsSubscription{sub: sub, out: out}, nil
}

func (b *natsBroker) Set(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	b.kv[key] = value
	b.mu.Unlock()
	data, err := json.Marshal(kvSyncMsg{Key: key, Value: value})
	if err != nil {
		return err
	}
	return b.conn.Publish(kvSyncSubject, data)
}

func (b *natsBroker) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.kv[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (b *natsBroker) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.kv, key)
	b.mu.Unlock()
	data, err := json.Marshal(kvSyncMsg{Key: key, Deleted: true})
	if err != nil {
		return err
	}
	return b.conn.Publish(kvSyncSubject, data)
}

func (b *natsBroker) Keys(ctx context.Context, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	for k := range b.kv {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (b *natsBroker) Close() error {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	b.conn.Drain()
	b.conn.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
	out chan Message
}

func (s *natsSubscription) Messages() <-chan Message { return s.out }

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
