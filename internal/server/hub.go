// Package server coordinates client registration, location events, and
// broadcast fan-out for the relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/sofarelay/internal/location"
	"github.com/Tyrowin/sofarelay/internal/metrics"
	"github.com/Tyrowin/sofarelay/internal/role"
)

// ErrHubStopped is returned when the hub no longer accepts requests.
var ErrHubStopped = errors.New("hub stopped")

type inboundEvent struct {
	client *Client
	event  string
	data   json.RawMessage
}

type eventHandler func(h *Hub, c *Client, p location.Position)

// roleHandlers lists the events each role may send. Anything missing from a
// role's table is dropped without touching state.
var roleHandlers = map[role.Role]map[string]eventHandler{
	role.Admin: {
		EventAdminLocation: (*Hub).handleAdminLocation,
	},
	role.Delivery: {
		EventScooterLocation: (*Hub).handleScooterLocation,
	},
}

// Hub owns the client registry and the shared location state. Every mutation
// happens on the goroutine running Run, one event at a time, so neither needs
// a lock.
type Hub struct {
	clients     map[*Client]bool
	state       *location.State
	register    chan *Client
	unregister  chan *Client
	inbound     chan inboundEvent
	snapshotReq chan chan location.Snapshot
	countReq    chan chan int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	logger      *zap.Logger
	metrics     *metrics.Relay
}

// NewHub creates a Hub around state. Call Run to start processing.
func NewHub(state *location.State, logger *zap.Logger, m *metrics.Relay) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[*Client]bool),
		state:       state,
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		inbound:     make(chan inboundEvent),
		snapshotReq: make(chan chan location.Snapshot),
		countReq:    make(chan chan int),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		logger:      logger.Named("hub"),
		metrics:     m,
	}
}

// Register hands a newly classified client to the hub. The hub assigns a
// reporter id or sends the init snapshot, then starts the client's pumps.
func (h *Hub) Register(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	}
}

func (h *Hub) requestUnregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// Snapshot returns a copy of the shared state as seen by the hub goroutine.
func (h *Hub) Snapshot(ctx context.Context) (location.Snapshot, error) {
	reply := make(chan location.Snapshot, 1)
	select {
	case h.snapshotReq <- reply:
	case <-ctx.Done():
		return location.Snapshot{}, ctx.Err()
	case <-h.ctx.Done():
		return location.Snapshot{}, ErrHubStopped
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return location.Snapshot{}, ctx.Err()
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	select {
	case h.countReq <- reply:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.ctx.Done():
		return 0, ErrHubStopped
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Run starts the hub's event loop. It returns after Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)
	h.logger.Info("Hub running", zap.Stringer("id_policy", h.state.Policy()))

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case ev := <-h.inbound:
			h.dispatch(ev)

		case reply := <-h.snapshotReq:
			reply <- h.state.Snapshot()

		case reply := <-h.countReq:
			reply <- len(h.clients)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		h.logger.Warn("Received nil client registration; skipping")
		return
	}

	client.closed = false
	h.clients[client] = true
	h.metrics.ActiveConnections.WithLabelValues(client.role.String()).Inc()

	switch client.role {
	case role.Admin:
		msg, err := encodeInit(h.state.Snapshot())
		if err != nil {
			h.logger.Error("Failed to encode init snapshot", zap.Error(err))
		} else {
			h.deliver(client, msg)
		}
		client.logger.Info("Admin connected", zap.Int("clients", len(h.clients)))
	default:
		client.reporterID = h.state.AssignID()
		client.logger = client.logger.With(zap.Int("reporter_id", client.reporterID))
		client.logger.Info("Delivery connected", zap.Int("clients", len(h.clients)))
	}

	if client.conn == nil {
		return
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleUnregister(client *Client) {
	if !h.clients[client] {
		return
	}
	h.removeClient(client)
	client.logger.Info("Client disconnected", zap.Int("clients", len(h.clients)))
	h.clientGone(client)
}

// removeClient drops client from the registry. After it returns no broadcast
// reaches the client.
func (h *Hub) removeClient(client *Client) {
	delete(h.clients, client)
	client.closed = true
	close(client.send)
	h.metrics.ActiveConnections.WithLabelValues(client.role.String()).Dec()
}

// clientGone applies the disconnect side effects of a removed client.
func (h *Hub) clientGone(client *Client) {
	if client.role != role.Delivery {
		return
	}

	h.state.RemoveScooter(client.reporterID)
	h.metrics.Reporters.Set(float64(h.state.ScooterCount()))

	msg, err := encodeScooterDisconnected(client.reporterID)
	if err != nil {
		h.logger.Error("Failed to encode disconnect", zap.Error(err))
		return
	}
	h.broadcast(EventScooterDisconnected, msg)
}

func (h *Hub) dispatch(ev inboundEvent) {
	if !h.clients[ev.client] {
		return
	}

	handler, ok := roleHandlers[ev.client.role][ev.event]
	if !ok {
		reason := "unknown_event"
		if isKnownEvent(ev.event) {
			reason = "role_mismatch"
		}
		ev.client.logger.Debug("Ignoring event", zap.String("event", ev.event), zap.String("reason", reason))
		h.metrics.EventsIgnored.WithLabelValues(reason).Inc()
		return
	}

	h.metrics.EventsReceived.WithLabelValues(ev.event).Inc()
	handler(h, ev.client, location.Position(ev.data))
}

func isKnownEvent(event string) bool {
	for _, handlers := range roleHandlers {
		if _, ok := handlers[event]; ok {
			return true
		}
	}
	return false
}

func (h *Hub) handleAdminLocation(c *Client, p location.Position) {
	h.state.SetSofa(p)
	c.logger.Debug("Admin location updated", zap.ByteString("position", p))

	msg, err := encodeSofaUpdate(p)
	if err != nil {
		c.logger.Error("Failed to encode sofa update", zap.Error(err))
		return
	}
	h.broadcast(EventSofaUpdate, msg)
}

func (h *Hub) handleScooterLocation(c *Client, p location.Position) {
	h.state.SetScooter(c.reporterID, p)
	h.metrics.Reporters.Set(float64(h.state.ScooterCount()))

	msg, err := encodeScooterUpdate(c.reporterID, p)
	if err != nil {
		c.logger.Error("Failed to encode scooter update", zap.Error(err))
		return
	}
	h.broadcast(EventScooterUpdate, msg)
}

// deliver queues msg for client without blocking the hub.
func (h *Hub) deliver(client *Client, msg []byte) bool {
	if client.closed {
		return false
	}
	select {
	case client.send <- msg:
		return true
	default:
		return false
	}
}

// broadcast sends msg to every registered client, sender included. Clients
// whose buffers are full are evicted and handled as disconnects.
func (h *Hub) broadcast(event string, msg []byte) {
	h.metrics.Broadcasts.WithLabelValues(event).Inc()
	h.logger.Debug("Broadcasting", zap.String("event", event), zap.Int("clients", len(h.clients)))

	var failed []*Client
	for client := range h.clients {
		if !h.deliver(client, msg) {
			failed = append(failed, client)
		}
	}

	for _, client := range failed {
		if !h.clients[client] {
			continue
		}
		client.logger.Warn("Client removed due to full send buffer")
		h.metrics.EvictedClients.Inc()
		h.removeClient(client)
		h.clientGone(client)
	}
}

// shutdownClients closes every client so the pumps exit.
func (h *Hub) shutdownClients() {
	h.logger.Info("Shutting down all client connections...")

	closed := 0
	for client := range h.clients {
		h.removeClient(client)
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				client.logger.Warn("Error closing client connection", zap.Error(err))
			}
		}
		closed++
	}

	h.logger.Info("Closed client connections", zap.Int("count", closed))
}

// Shutdown stops the hub and waits for all client goroutines to finish or
// for timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
