package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyphahub/msghub/internal/broker"
	"github.com/hyphahub/msghub/internal/logger"
)

// kind tags how a federated event's payload is encoded on the broker
// wire, inferred from the payload's Go shape: raw bytes, a UTF-8
// string, or an arbitrary JSON-able value.
type kind string

const (
	kindBytes  kind = "b"
	kindString kind = "s"
	kindJSON   kind = "d"
)

const eventChannelPrefix = "event:"

// Federated combines a Local bus for same-process delivery with a
// broker.Broker subscription on the "event:*" pattern for cross-node
// delivery. Emit publishes to both; handlers registered with On fire
// for every broker-delivered event (including the loopback of this
// process's own emits), while OnLocal fires only for same-process emits.
type Federated struct {
	local  *Local
	remote *Local
	kv     broker.Broker
	sub    broker.Subscription
}

// NewFederated builds a Federated bus bound to kv and immediately
// subscribes to every federated event the broker carries.
func NewFederated(ctx context.Context, kv broker.Broker) (*Federated, error) {
	f := &Federated{
		local:  NewLocal(),
		remote: NewLocal(),
		kv:     kv,
	}
	sub, err := kv.PSubscribe(ctx, eventChannelPrefix+"*")
	if err != nil {
		return nil, err
	}
	f.sub = sub
	go f.pump(sub)
	return f, nil
}

// On registers handler for event, firing only for broker-delivered
// occurrences (including the loopback of this process's own Emit
// calls). Use OnLocal for same-process-only delivery.
func (f *Federated) On(event string, handler Handler) string {
	return f.remote.On(event, handler)
}

// OnLocal registers handler for event, firing only for same-process
// emits (never for broker-delivered ones).
func (f *Federated) OnLocal(event string, handler Handler) string {
	return f.local.On(event, handler)
}

// Off removes a handler registered via On or OnLocal.
func (f *Federated) Off(event, id string) {
	f.local.Off(event, id)
	f.remote.Off(event, id)
}

// Emit dispatches payload on the local bus and publishes it to the
// broker under event:<kind>:<event>, where kind is inferred from
// payload's shape ([]byte -> b, string -> s, anything else -> d).
func (f *Federated) Emit(ctx context.Context, event string, payload any) error {
	f.local.Emit(event, payload)

	k, wire, err := encodeByKind(payload)
	if err != nil {
		return err
	}
	channel := fmt.Sprintf("%s%s:%s", eventChannelPrefix, k, event)
	return f.kv.Publish(ctx, channel, wire)
}

// EmitLocal dispatches payload to local handlers only, never touching
// the broker. Used for connection-scoped bookkeeping events.
func (f *Federated) EmitLocal(event string, payload any) {
	f.local.Emit(event, payload)
}

func encodeByKind(payload any) (kind, []byte, error) {
	switch v := payload.(type) {
	case []byte:
		return kindBytes, v, nil
	case string:
		return kindString, []byte(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", nil, err
		}
		return kindJSON, data, nil
	}
}

func decodeByKind(k kind, data []byte) (any, error) {
	switch k {
	case kindBytes:
		return data, nil
	case kindString:
		return string(data), nil
	case kindJSON:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return data, nil
	}
}

func (f *Federated) pump(sub broker.Subscription) {
	log := logger.Bus()
	for msg := range sub.Messages() {
		rest := strings.TrimPrefix(msg.Channel, eventChannelPrefix)
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			log.Warn().Str("channel", msg.Channel).Msg("malformed federated channel name")
			continue
		}
		payload, err := decodeByKind(kind(parts[0]), msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("channel", msg.Channel).Msg("malformed federated payload")
			continue
		}
		f.remote.Emit(parts[1], payload)
	}
}

// WaitFor blocks until event matches pattern on either the local or
// remote bus and predicate accepts the payload, or ctx is done —
// racing both buses the way the original wait_for races its local
// queue against the broker-subscribed one.
func (f *Federated) WaitFor(ctx context.Context, pattern string, predicate func(payload any) bool) (any, error) {
	result := make(chan any, 1)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	localID := f.local.On(pattern, func(payload any) error {
		if predicate == nil || predicate(payload) {
			select {
			case result <- payload:
			default:
			}
		}
		return nil
	})
	defer f.local.Off(pattern, localID)

	remoteID := f.remote.On(pattern, func(payload any) error {
		if predicate == nil || predicate(payload) {
			select {
			case result <- payload:
			default:
			}
		}
		return nil
	})
	defer f.remote.Off(pattern, remoteID)

	select {
	case payload := <-result:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the broker subscription backing this bus.
func (f *Federated) Close() error {
	if f.sub != nil {
		return f.sub.Unsubscribe()
	}
	return nil
}

// Broker exposes the underlying broker for components (Connection,
// Store) that need raw channel pub/sub outside the event-kind
// envelope — the `{ws}/{cid}:msg` channel family carries rewritten
// binary frames directly, never wrapped in event:<kind>: framing.
func (f *Federated) Broker() broker.Broker { return f.kv }
