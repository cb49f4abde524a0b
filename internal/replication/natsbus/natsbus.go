// Package natsbus carries replicated session snapshots over NATS.
package natsbus

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
	"github.com/tomz197/skirmish/internal/logging"
	"github.com/tomz197/skirmish/internal/replication"
)

const syncTimeout = 2 * time.Second

// Bus publishes snapshots on one subject and answers late joiners on
// "<subject>.sync".
type Bus struct {
	nc      *nats.Conn
	subject string
	log     *log.Logger
}

// Compile-time check that Bus implements replication.Transport.
var _ replication.Transport = (*Bus)(nil)

// Connect dials NATS with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the state subject for a session.
func Subject(prefix, sessionID string) string {
	return prefix + "." + sessionID + ".state"
}

// New creates a bus on an existing connection.
func New(nc *nats.Conn, subject string, l *log.Logger) *Bus {
	if l == nil {
		l = logging.Discard()
	}
	return &Bus{nc: nc, subject: subject, log: l}
}

// PublishState implements replication.Transport. NATS buffers the publish,
// so this does not wait for the network.
func (b *Bus) PublishState(_ context.Context, s replication.Snapshot) error {
	data, err := replication.Encode(s)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", b.subject, err)
	}
	return nil
}

// ServeSync answers sync requests with the latest authoritative snapshot.
func (b *Bus) ServeSync(latest func() replication.Snapshot) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(b.subject+".sync", func(msg *nats.Msg) {
		data, err := replication.Encode(latest())
		if err != nil {
			b.log.Warn("Failed to encode sync snapshot", "err", err)
			return
		}
		if err := msg.Respond(data); err != nil {
			b.log.Warn("Failed to answer sync request", "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s.sync: %w", b.subject, err)
	}
	return sub, nil
}

// Follow feeds every snapshot on the subject into mirror until ctx is done.
// It first asks the authority for the current state so a late joiner does
// not wait for the next change.
func (b *Bus) Follow(ctx context.Context, mirror *replication.Mirror) error {
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		s, err := replication.Decode(msg.Data)
		if err != nil {
			b.log.Warn("Dropping malformed snapshot", "subject", msg.Subject, "err", err)
			return
		}
		mirror.Apply(s)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	b.initialSync(ctx, mirror)

	<-ctx.Done()
	return nil
}

func (b *Bus) initialSync(ctx context.Context, mirror *replication.Mirror) {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	reply, err := b.nc.RequestWithContext(ctx, b.subject+".sync", nil)
	if err != nil {
		b.log.Debug("Initial sync unavailable", "subject", b.subject, "err", err)
		return
	}
	s, err := replication.Decode(reply.Data)
	if err != nil {
		b.log.Warn("Dropping malformed sync snapshot", "err", err)
		return
	}
	mirror.Apply(s)
}
