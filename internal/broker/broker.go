// Package broker abstracts the external pub/sub and key-value
// substrate the hub uses as its sole cross-node coordination primitive
// (SPEC_FULL.md §4.2a). Two implementations are provided: redisBroker
// (default) and natsBroker (selectable via config.Config.BrokerKind).
package broker

import "context"

// Message is one payload delivered on a subscription.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live subscription to a channel or pattern. Callers
// must range over Messages() until the broker closes it, and call
// Unsubscribe to release broker-side resources.
type Subscription interface {
	Messages() <-chan Message
	Unsubscribe() error
}

// Broker is the hub's only cross-node coordination primitive: message
// fan-out (Publish/Subscribe/PSubscribe) for the Connection and
// Federated EventBus, and a flat key space (Set/Get/Delete/Keys) for
// the Store's workspace/client/service registry.
type Broker interface {
	// Publish sends payload to every current subscriber of channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe opens a subscription to exactly one channel.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// PSubscribe opens a subscription to every channel matching
	// pattern (trailing "*" wildcard).
	PSubscribe(ctx context.Context, pattern string) (Subscription, error)

	// Set writes value under key, with no expiry.
	Set(ctx context.Context, key string, value []byte) error

	// Get reads the value under key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. It is not an error if key is already absent.
	Delete(ctx context.Context, key string) error

	// Keys lists every key matching pattern (trailing "*" wildcard).
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Close releases all broker-side resources.
	Close() error
}

// ErrNotFound is returned by Get when key does not exist.
var ErrNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "broker: key not found" }
