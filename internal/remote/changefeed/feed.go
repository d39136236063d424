// Package changefeed lets processes sharing a local store learn about each
// other's writes through an AMQP fanout exchange.
package changefeed

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Tiliavir/trivial-work-log/internal/logging"
	"github.com/Tiliavir/trivial-work-log/internal/remote"
)

// LocalStore is a store that can be told about foreign writes.
type LocalStore interface {
	remote.Store
	remote.Notifier
}

// Transport carries change messages between processes. *Client is the AMQP
// implementation.
type Transport interface {
	Publish(ctx context.Context, msg *Message) error
	Consume(ctx context.Context, handler func(*Message) error) error
	Close() error
}

// Feed wraps a LocalStore. Successful writes are announced on the transport
// and announcements from other processes are replayed as NotifyChanged.
type Feed struct {
	LocalStore
	transport Transport
	origin    string
	log       *logging.Logger
}

// New wraps local. Each Feed has its own origin id.
func New(local LocalStore, transport Transport, logger *logging.Logger) *Feed {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Feed{
		LocalStore: local,
		transport:  transport,
		origin:     uuid.NewString(),
		log:        logger.WithComponent("changefeed"),
	}
}

// Origin identifies this feed in published messages.
func (f *Feed) Origin() string { return f.origin }

// announce publishes a write. The write already happened, so a failed
// publish is only logged.
func (f *Feed) announce(ctx context.Context, path string) {
	if err := f.transport.Publish(ctx, NewMessage(f.origin, path)); err != nil {
		f.log.Warn("announcing change failed", "path", path, "error", err)
	}
}

// Set implements remote.Store.
func (f *Feed) Set(ctx context.Context, path string, value any) error {
	if err := f.LocalStore.Set(ctx, path, value); err != nil {
		return err
	}
	f.announce(ctx, path)
	return nil
}

// Update implements remote.Store.
func (f *Feed) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := f.LocalStore.Update(ctx, path, fields); err != nil {
		return err
	}
	f.announce(ctx, path)
	return nil
}

// Push implements remote.Store.
func (f *Feed) Push(ctx context.Context, path string, value any) (string, error) {
	key, err := f.LocalStore.Push(ctx, path, value)
	if err != nil {
		return "", err
	}
	f.announce(ctx, remote.Join(path, key))
	return key, nil
}

// Remove implements remote.Store.
func (f *Feed) Remove(ctx context.Context, path string) error {
	if err := f.LocalStore.Remove(ctx, path); err != nil {
		return err
	}
	f.announce(ctx, path)
	return nil
}

// Handle applies a message from the transport. Own messages are ignored.
func (f *Feed) Handle(msg *Message) error {
	if msg.Origin == f.origin {
		return nil
	}
	p, err := remote.CleanPath(msg.Path)
	if err != nil {
		return fmt.Errorf("change message: %w", err)
	}
	f.log.Debug("foreign change", "origin", msg.Origin, "path", p)
	f.LocalStore.NotifyChanged(p)
	return nil
}

// Run consumes the transport until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	return f.transport.Consume(ctx, f.Handle)
}

// Close closes the transport and the wrapped store.
func (f *Feed) Close() error {
	terr := f.transport.Close()
	if err := f.LocalStore.Close(); err != nil {
		return err
	}
	return terr
}
