package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/samber/lo"
)

// ErrHubClosed is returned to callers submitting work after shutdown began.
var ErrHubClosed = errors.New("hub closed")

const commandBuffer = 256

type command any

type connectCmd struct {
	id   chat.ConnID
	sink chat.Sink
}

type disconnectCmd struct {
	id chat.ConnID
}

type inboundCmd struct {
	id chat.ConnID
	in protocol.Inbound
}

type statsCmd struct {
	reply chan chat.Stats
}

// Hub is the event gateway. It owns the chat state and applies every
// connect, inbound event and disconnect in arrival order from a single
// goroutine, then pushes the resulting notifications to the affected
// connections.
type Hub struct {
	state    *chat.State
	presence *chat.Coordinator
	router   *chat.Router
	commands chan command
	log      *slog.Logger
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHub creates a Hub with an empty state. Run must be started before any
// work is submitted.
func NewHub(log *slog.Logger, opts chat.Options) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	state := chat.NewState()
	return &Hub{
		state:    state,
		presence: chat.NewCoordinator(log, state, opts),
		router:   chat.NewRouter(state, opts),
		commands: make(chan command, commandBuffer),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Connect registers a live connection. The connection receives a
// "connected" event carrying its id.
func (h *Hub) Connect(id chat.ConnID, sink chat.Sink) error {
	if !h.enqueue(connectCmd{id: id, sink: sink}) {
		return ErrHubClosed
	}
	return nil
}

// Disconnect runs the disconnect cleanup of id. Extra calls for the same id
// are no-ops.
func (h *Hub) Disconnect(id chat.ConnID) {
	h.enqueue(disconnectCmd{id: id})
}

// Submit queues a decoded client event from id.
func (h *Hub) Submit(id chat.ConnID, in protocol.Inbound) error {
	if !h.enqueue(inboundCmd{id: id, in: in}) {
		return ErrHubClosed
	}
	return nil
}

// Stats returns a snapshot of connections and room occupancy.
func (h *Hub) Stats(ctx context.Context) (chat.Stats, error) {
	reply := make(chan chat.Stats, 1)
	if !h.enqueue(statsCmd{reply: reply}) {
		return chat.Stats{}, ErrHubClosed
	}
	select {
	case stats := <-reply:
		return stats, nil
	case <-ctx.Done():
		return chat.Stats{}, ctx.Err()
	case <-h.done:
		return chat.Stats{}, ErrHubClosed
	}
}

func (h *Hub) enqueue(cmd command) bool {
	select {
	case <-h.ctx.Done():
		return false
	default:
	}
	select {
	case h.commands <- cmd:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// goTracked runs fn in a goroutine that Shutdown waits for.
func (h *Hub) goTracked(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

// Run starts the hub's main event loop. This method should be called in a
// separate goroutine as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownSessions()
			return
		case cmd := <-h.commands:
			h.dispatch(cmd)
		}
	}
}

func (h *Hub) dispatch(cmd command) {
	switch c := cmd.(type) {
	case connectCmd:
		h.handleConnect(c.id, c.sink)
	case disconnectCmd:
		h.handleDisconnect(c.id)
	case inboundCmd:
		h.handleInbound(c.id, c.in)
	case statsCmd:
		c.reply <- h.state.Stats()
	default:
		h.log.Error("unknown hub command", "type", fmt.Sprintf("%T", cmd))
	}
}

func (h *Hub) handleConnect(id chat.ConnID, sink chat.Sink) {
	if sink == nil {
		h.log.Warn("received nil connection registration; skipping", "connId", id)
		return
	}
	if !h.state.Conns.Register(id, sink) {
		h.log.Warn("connection already registered", "connId", id)
		return
	}
	h.log.Info("client registered", "connId", id, "connections", h.state.Conns.Len())
	h.deliver(chat.Delivery{To: []chat.ConnID{id}, Event: chat.Connected{ID: id}})
}

func (h *Hub) handleDisconnect(id chat.ConnID) {
	sink, ok := h.state.Conns.Sink(id)
	if !ok {
		h.log.Debug("disconnect for unknown connection", "connId", id)
		return
	}

	deliveries := h.presence.Disconnect(id)
	if err := sink.Close(); err != nil && !isExpectedCloseError(err) {
		h.log.Warn("error closing connection", "connId", id, "error", err)
	}
	h.log.Info("client unregistered", "connId", id, "connections", h.state.Conns.Len())
	h.deliver(deliveries...)
}

func (h *Hub) handleInbound(id chat.ConnID, in protocol.Inbound) {
	var (
		deliveries []chat.Delivery
		err        error
	)
	switch e := in.(type) {
	case *protocol.JoinRoom:
		deliveries, err = h.presence.Join(id, e.Room, e.Username)
	case *protocol.LeaveRoom:
		deliveries, err = h.presence.Leave(id, e.Room)
	case *protocol.SendMessage:
		var d chat.Delivery
		d, err = h.router.Route(id, e.Room, e.Message, e.Sender)
		deliveries = []chat.Delivery{d}
		if err == nil {
			h.log.Debug("routing message", "room", e.Room, "connId", id, "recipients", len(d.To))
		}
	default:
		err = fmt.Errorf("%w: unsupported event %q", chat.ErrValidation, in.EventName())
	}

	if err != nil {
		h.reject(id, in.EventName(), err)
		return
	}
	h.deliver(deliveries...)
}

// reject answers a refused event. Missing rooms or connections are expected
// under leave and disconnect races and are only logged.
func (h *Hub) reject(id chat.ConnID, event string, err error) {
	if errors.Is(err, chat.ErrNotFound) {
		h.log.Debug("ignoring event", "event", event, "connId", id, "error", err)
		return
	}
	h.log.Info("rejected event", "event", event, "connId", id, "error", err)
	h.deliver(chat.Delivery{
		To:    []chat.ConnID{id},
		Event: chat.Rejected{Event: event, Message: err.Error()},
	})
}

// deliver pushes each event to its recipients. A failed recipient never
// stops the others. Recipients whose queue is full are disconnected once the
// whole batch is out.
func (h *Hub) deliver(deliveries ...chat.Delivery) {
	var overflowed []chat.ConnID

	for _, d := range deliveries {
		if len(d.To) == 0 {
			continue
		}
		payload, err := protocol.Encode(d.Event)
		if err != nil {
			h.log.Error("failed to encode event", "event", d.Event.EventName(), "error", err)
			continue
		}
		for _, id := range d.To {
			sink, ok := h.state.Conns.Sink(id)
			if !ok {
				continue
			}
			if err := sink.Send(payload); err != nil {
				h.log.Warn("delivery failed", "event", d.Event.EventName(), "connId", id, "error", err)
				if errors.Is(err, chat.ErrSendBufferFull) {
					overflowed = append(overflowed, id)
				}
			}
		}
	}

	for _, id := range lo.Uniq(overflowed) {
		h.log.Warn("client removed due to full send buffer", "connId", id)
		h.handleDisconnect(id)
	}
}

// shutdownSessions closes every registered connection.
func (h *Hub) shutdownSessions() {
	h.log.Info("shutting down all client connections")

	ids := h.state.Conns.IDs()
	for _, id := range ids {
		sink, _ := h.state.Conns.Sink(id)
		if err := sink.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Warn("error closing client connection", "connId", id, "error", err)
		}
	}
	h.log.Info("closed client connections", "count", len(ids))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")
	h.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		h.log.Warn("hub shutdown timeout reached before the event loop stopped")
		return context.DeadlineExceeded
	}

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.log.Info("hub shutdown completed successfully")
		return nil
	case <-timer.C:
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
