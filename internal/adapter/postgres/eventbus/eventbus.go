package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyang/lead-mesh/internal/adapter/postgres"
	"github.com/alanyang/lead-mesh/internal/domain/event"
	porteventbus "github.com/alanyang/lead-mesh/internal/port/eventbus"
)

var _ porteventbus.EventBus = (*EventBus)(nil)

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// EventBus fans domain events out across replicas with LISTEN/NOTIFY. Every
// replica sees every event, including its own.
type EventBus struct {
	pool *pgxpool.Pool

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

func New(pool *pgxpool.Pool) *EventBus {
	return &EventBus{
		pool: pool,
		subs: make(map[*subscription]struct{}),
	}
}

// Publish sends an event via Postgres NOTIFY on the domain channel for the event type.
func (eb *EventBus) Publish(ctx context.Context, e event.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	channel := channelName(event.ChannelFor(e.Type))
	if _, err := eb.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(payload)); err != nil {
		return postgres.Classify("publishing event on channel "+channel, err)
	}
	return nil
}

// Subscribe holds one pooled connection in LISTEN for the lifetime of the
// subscription and invokes handler for every event on that channel. A dropped
// connection is replaced with backoff; notifications sent while no listener is
// attached are lost.
func (eb *EventBus) Subscribe(ctx context.Context, ch event.Channel, handler porteventbus.Handler) (porteventbus.Subscription, error) {
	channel := channelName(ch)
	conn, err := eb.listen(ctx, channel)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	sub.pid.Store(conn.Conn().PgConn().PID())

	eb.mu.Lock()
	eb.subs[sub] = struct{}{}
	eb.mu.Unlock()

	go func() {
		defer func() {
			if conn != nil {
				conn.Exec(context.Background(), "UNLISTEN "+channel) //nolint:errcheck
				conn.Release()
			}
			eb.mu.Lock()
			delete(eb.subs, sub)
			eb.mu.Unlock()
			close(sub.done)
		}()

		for {
			err := consume(subCtx, conn, channel, handler)
			if subCtx.Err() != nil {
				return
			}
			slog.Warn("eventbus: listener connection lost, reconnecting", "channel", channel, "error", err)

			// Closing before release makes the pool discard the connection.
			conn.Conn().Close(context.Background()) //nolint:errcheck
			conn.Release()
			conn = eb.relisten(subCtx, channel)
			if conn == nil {
				return
			}
			sub.pid.Store(conn.Conn().PgConn().PID())
			slog.Info("eventbus: listener reconnected", "channel", channel)
		}
	}()

	return sub, nil
}

func (eb *EventBus) listen(ctx context.Context, channel string) (*pgxpool.Conn, error) {
	conn, err := eb.pool.Acquire(ctx)
	if err != nil {
		return nil, postgres.Classify("acquiring connection for LISTEN", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("executing LISTEN on channel %s: %w", channel, err)
	}
	return conn, nil
}

// relisten retries listen with exponential backoff until it succeeds or ctx
// ends, in which case it returns nil.
func (eb *EventBus) relisten(ctx context.Context, channel string) *pgxpool.Conn {
	delay := minBackoff
	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := eb.listen(ctx, channel)
		if err == nil {
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("eventbus: relisten failed", "channel", channel, "retry_in", delay, "error", err)
		delay = min(delay*2, maxBackoff)
	}
}

// consume delivers notifications until the connection fails or ctx ends.
func consume(ctx context.Context, conn *pgxpool.Conn, channel string, handler porteventbus.Handler) error {
	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var e event.Event
		if err := json.Unmarshal([]byte(notification.Payload), &e); err != nil {
			slog.Warn("eventbus: dropping malformed payload", "channel", channel, "error", err)
			continue
		}
		handler(ctx, e)
	}
}

// Close stops every live subscription and waits for their listeners to exit.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	subs := make([]*subscription, 0, len(eb.subs))
	for s := range eb.subs {
		subs = append(subs, s)
	}
	eb.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

// channelName converts a domain Channel to a safe Postgres channel identifier.
func channelName(ch event.Channel) string {
	return "lead_mesh_" + string(ch)
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	pid    atomic.Uint32 // backend PID of the current listener connection
}

func (s *subscription) Unsubscribe() {
	s.cancel()
	<-s.done
}
