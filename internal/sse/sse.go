// Package sse implements the SSE transport half of §4.6: each subscription
// streams eventbus.Event as "event: <kind>\ndata: <json>\n\n", with
// keep-alive comment lines and stall-timeout backpressure. The per-client
// registration/fan-out/unregister-on-disconnect shape follows the teacher
// pack's SSE router (homveloper-boss-raid-game's internal/delivery/sse),
// adapted to subscribe through internal/eventbus rather than push into a
// router-owned client map directly.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/r3e-labs/docweave/internal/eventbus"
)

// Config controls keep-alive cadence and stall tolerance.
type Config struct {
	Keepalive          time.Duration
	StallTimeout       time.Duration
	OutboundBufferSize int
}

func DefaultConfig() Config {
	return Config{
		Keepalive:          15 * time.Second,
		StallTimeout:       30 * time.Second,
		OutboundBufferSize: 64,
	}
}

// Handler streams events from a Bus as Server-Sent Events.
type Handler struct {
	bus *eventbus.Bus
	cfg Config
}

func NewHandler(bus *eventbus.Bus, cfg Config) *Handler {
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 15 * time.Second
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 30 * time.Second
	}
	if cfg.OutboundBufferSize <= 0 {
		cfg.OutboundBufferSize = 64
	}
	return &Handler{bus: bus, cfg: cfg}
}

// Serve subscribes the request to topics and streams matching events until
// the client disconnects or the connection stalls for longer than
// StallTimeout. It blocks for the lifetime of the connection.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, topics []string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return fmt.Errorf("sse: ResponseWriter does not implement http.Flusher")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	outbound := make(chan eventbus.Event, h.cfg.OutboundBufferSize)
	cancel := h.bus.Subscribe(topics, func(ctx context.Context, e eventbus.Event) error {
		select {
		case outbound <- e:
		default:
			// Buffer full: drop rather than block the publisher. Staleness
			// is caught by the stall timer below, which tears the whole
			// subscription down once it has been full for too long.
		}
		return nil
	})
	defer cancel()

	keepalive := time.NewTicker(h.cfg.Keepalive)
	defer keepalive.Stop()

	stallTimer := time.NewTimer(h.cfg.StallTimeout)
	defer stallTimer.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil

		case e := <-outbound:
			if err := writeEvent(w, e); err != nil {
				return err
			}
			flusher.Flush()
			if !stallTimer.Stop() {
				<-stallTimer.C
			}
			stallTimer.Reset(h.cfg.StallTimeout)

		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return err
			}
			flusher.Flush()

		case <-stallTimer.C:
			return fmt.Errorf("sse: subscription stalled past %s", h.cfg.StallTimeout)
		}
	}
}

func writeEvent(w http.ResponseWriter, e eventbus.Event) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("sse: marshal payload: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
	return err
}
