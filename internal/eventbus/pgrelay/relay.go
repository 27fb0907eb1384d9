// Package pgrelay cross-process-relays eventbus.Bus publishes over
// PostgreSQL LISTEN/NOTIFY, adapted from the teacher's pkg/pgnotify Bus.
// Every local publish also issues pg_notify on a single shared channel;
// a background listener goroutine decodes notifications from other
// processes and re-publishes them into the local in-process Bus, so SSE
// subscribers on any server instance behind a load balancer observe the
// same events. Notifications this process itself produced are dropped by
// origin tag instead of being re-delivered.
package pgrelay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/r3e-labs/docweave/internal/eventbus"
)

// Channel is the single Postgres NOTIFY channel every docweave process
// listens and publishes on. Routing within the channel is carried in the
// envelope's Topic field, not the Postgres channel name, since LISTEN
// channels are a fixed, small namespace in Postgres and topics are not.
const Channel = "docweave_events"

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
)

// envelope is the JSON payload carried by pg_notify. Origin lets a process
// recognize and discard its own notifications, since Publish already
// handed the event to the local Bus before NOTIFY ever reaches the wire.
type envelope struct {
	Origin  string          `json:"origin"`
	Topic   string          `json:"topic"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Relay bridges an eventbus.Bus to Postgres LISTEN/NOTIFY.
type Relay struct {
	db       *sql.DB
	listener *pq.Listener
	bus      *eventbus.Bus
	origin   string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onError func(error)
}

// New starts relaying bus through db. origin should be unique per process
// (a hostname+pid, or a uuid) so the relay can recognize its own
// notifications. The returned Relay owns a background listener goroutine;
// call Close to stop it.
func New(db *sql.DB, dsn string, bus *eventbus.Bus, origin string) (*Relay, error) {
	reportProblem := func(_ pq.ListenerEventType, _ error) {}
	listener := pq.NewListener(dsn, minReconnectInterval, maxReconnectInterval, reportProblem)
	if err := listener.Listen(Channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("pgrelay: listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		db:       db,
		listener: listener,
		bus:      bus,
		origin:   origin,
		ctx:      ctx,
		cancel:   cancel,
	}
	r.wg.Add(1)
	go r.listen()
	return r, nil
}

// OnError installs a callback for listener/publish errors. Optional.
func (r *Relay) OnError(fn func(error)) { r.onError = fn }

// Publish delivers event to local subscribers via the wrapped Bus and then
// relays it to every other process listening on Channel. Local delivery
// happens first and unconditionally, so a Postgres outage degrades this
// process to single-node fan-out rather than losing local delivery too.
func (r *Relay) Publish(event eventbus.Event) error {
	r.bus.Publish(event)

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("pgrelay: marshal payload: %w", err)
	}
	env := envelope{Origin: r.origin, Topic: event.Topic, Kind: event.Kind, Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pgrelay: marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", Channel, string(data)); err != nil {
		return fmt.Errorf("pgrelay: notify: %w", err)
	}
	return nil
}

func (r *Relay) Close() error {
	r.cancel()
	r.wg.Wait()
	return r.listener.Close()
}

func (r *Relay) listen() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return

		case n := <-r.listener.Notify:
			if n == nil {
				continue // connection dropped, pq.Listener reconnects and relists on its own
			}
			r.handle(n.Extra)

		case <-time.After(90 * time.Second):
			go r.listener.Ping()
		}
	}
}

func (r *Relay) handle(raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		if r.onError != nil {
			r.onError(fmt.Errorf("pgrelay: decode notification: %w", err))
		}
		return
	}
	if env.Origin == r.origin {
		return
	}

	var payload interface{}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			if r.onError != nil {
				r.onError(fmt.Errorf("pgrelay: decode payload: %w", err))
			}
			return
		}
	}
	r.bus.Publish(eventbus.Event{Topic: env.Topic, Kind: env.Kind, Payload: payload})
}
