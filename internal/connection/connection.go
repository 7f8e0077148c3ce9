// Package connection implements the per-client object bound to a
// (workspace, client_id, user) triple and its two broker subscriptions
// (SPEC_FULL.md §4.4).
package connection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hyphahub/msghub/internal/apperrors"
	"github.com/hyphahub/msghub/internal/broker"
	"github.com/hyphahub/msghub/internal/envelope"
	"github.com/hyphahub/msghub/internal/logger"
)

// SendFunc delivers a raw frame to the underlying transport.
type SendFunc func(frame []byte) error

// Connection is the hub's handle on one connected client. Exactly one
// subscription pair is active at a time; disconnect is idempotent.
type Connection struct {
	Workspace string
	ClientID  string
	User      any

	kv   broker.Broker
	send SendFunc

	closed int32

	mu             sync.Mutex
	onConnect      func()
	onDisconnected func(reason string)

	direct    broker.Subscription
	broadcast broker.Subscription
}

// New builds a Connection bound to kv, with frames written out via
// send.
func New(workspace, clientID string, user any, kv broker.Broker, send SendFunc) *Connection {
	return &Connection{
		Workspace: workspace,
		ClientID:  clientID,
		User:      user,
		kv:        kv,
		send:      send,
	}
}

// OnConnect registers h to run once, asynchronously, immediately
// after OnMessage wires up delivery.
func (c *Connection) OnConnect(h func()) {
	c.mu.Lock()
	c.onConnect = h
	c.mu.Unlock()
}

// OnDisconnected registers h to run exactly once when the connection
// closes.
func (c *Connection) OnDisconnected(h func(reason string)) {
	c.mu.Lock()
	c.onDisconnected = h
	c.mu.Unlock()
}

// OnMessage subscribes h to both the client's direct channel and the
// workspace broadcast channel, then schedules OnConnect's callback.
func (c *Connection) OnMessage(ctx context.Context, h func(frame []byte)) error {
	directChannel := fmt.Sprintf("%s/%s:msg", c.Workspace, c.ClientID)
	broadcastChannel := fmt.Sprintf("%s/*:msg", c.Workspace)

	direct, err := c.kv.Subscribe(ctx, directChannel)
	if err != nil {
		return err
	}
	broadcast, err := c.kv.Subscribe(ctx, broadcastChannel)
	if err != nil {
		_ = direct.Unsubscribe()
		return err
	}
	c.direct = direct
	c.broadcast = broadcast

	go pump(direct, h)
	go pump(broadcast, h)

	c.mu.Lock()
	onConnect := c.onConnect
	c.mu.Unlock()
	if onConnect != nil {
		go onConnect()
	}
	return nil
}

func pump(sub broker.Subscription, h func(frame []byte)) {
	for msg := range sub.Messages() {
		h(msg.Payload)
	}
}

// EmitMessage parses frame's header, applies the §4.3 rewrite rule for
// this connection's identity, and publishes the rewritten frame to the
// target's direct-message channel. The tail is never touched.
func (c *Connection) EmitMessage(ctx context.Context, frame []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return apperrors.Closedf("connection %s/%s is closed", c.Workspace, c.ClientID)
	}

	in, offset, err := envelope.Decode(frame)
	if err != nil {
		return err
	}
	tail := frame[offset:]

	out, err := envelope.Rewrite(in, envelope.Source{
		Workspace:    c.Workspace,
		ClientID:     c.ClientID,
		UserSnapshot: c.User,
	})
	if err != nil {
		return err
	}

	rewritten, err := envelope.Encode(out, tail)
	if err != nil {
		return err
	}

	channel := fmt.Sprintf("%s:msg", out.To)
	return c.kv.Publish(ctx, channel, rewritten)
}

// Disconnect marks the connection closed, tears down both
// subscriptions, and invokes the disconnection callback exactly once.
func (c *Connection) Disconnect(reason string) {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}

	if c.direct != nil {
		_ = c.direct.Unsubscribe()
	}
	if c.broadcast != nil {
		_ = c.broadcast.Unsubscribe()
	}

	c.mu.Lock()
	onDisconnected := c.onDisconnected
	c.mu.Unlock()

	if onDisconnected != nil {
		onDisconnected(reason)
	}

	logger.Connection().Info().
		Str("workspace", c.Workspace).
		Str("client_id", c.ClientID).
		Str("reason", reason).
		Msg("connection closed")
}

// Send writes frame directly to the transport, bypassing the broker —
// used to deliver frames received on the connection's subscriptions.
func (c *Connection) Send(frame []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return apperrors.Closedf("connection %s/%s is closed", c.Workspace, c.ClientID)
	}
	return c.send(frame)
}

// Closed reports whether Disconnect has already run.
func (c *Connection) Closed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}
