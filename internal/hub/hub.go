package hub

import (
	"context"
	"log/slog"
	"sync"

	"classroomhub/internal/logging"
	"classroomhub/internal/websocket"
	"classroomhub/pkg/types"
)

// DefaultQueueSize bounds pending room broadcasts.
const DefaultQueueSize = 1000

// outbound is one queued room broadcast.
type outbound struct {
	event  types.Event
	except string
}

// Hub delivers events to the live members of a session room.
// ARCHITECTURAL DISCOVERY: Central delivery point for all room traffic keeps
// mutation paths free of transport I/O; callers enqueue after their state change
// returns and one goroutine performs the sends in enqueue order
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channel absorbs bursts such as a whole
	// classroom submitting scores at a section boundary
	queue    chan outbound
	shutdown chan struct{}
	done     chan struct{}

	registry *websocket.Registry
	logger   *slog.Logger

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub delivering through registry.
func NewHub(registry *websocket.Registry, logger *slog.Logger) *Hub {
	return &Hub{
		queue:    make(chan outbound, DefaultQueueSize),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		registry: registry,
		logger:   logging.OrDiscard(logger),
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true

	h.logger.Info("starting broadcast hub")
	go h.run(ctx)
	return nil
}

// Stop shuts the hub down and waits for the delivery loop to exit. Queued
// broadcasts are delivered before it returns.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	h.mu.Unlock()

	<-h.done
	h.logger.Info("broadcast hub stopped")
	return nil
}

// Broadcast queues event for every user live in event.SessionID except the
// user named by except (empty sends to all).
func (h *Hub) Broadcast(event types.Event, except string) error {
	if event.SessionID == "" {
		return ErrMissingSession
	}

	// TECHNICAL DISCOVERY: The read lock is held across the enqueue so Stop
	// cannot close the loop between the running check and the send
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	select {
	case h.queue <- outbound{event: event, except: except}:
		return nil
	default:
		h.logger.Warn("broadcast dropped, queue full",
			"session_id", event.SessionID,
			"event_type", event.Type)
		return ErrBroadcastChannelFull
	}
}

// SendTo delivers event directly to one user's connection.
func (h *Hub) SendTo(userID string, event types.Event) error {
	conn, ok := h.registry.Connection(userID)
	if !ok {
		return ErrRecipientNotConnected
	}
	return conn.Send(event)
}

// Deliver sends event to the room synchronously, bypassing the queue. Used
// when the room is about to be torn down and queued delivery would find it gone.
func (h *Hub) Deliver(event types.Event, except string) {
	h.deliver(outbound{event: event, except: except})
}

// run is the delivery loop.
func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case out := <-h.queue:
			h.deliver(out)
		case <-h.shutdown:
			h.drain()
			return
		case <-ctx.Done():
			h.logger.Info("broadcast hub context cancelled")
			h.drain()
			return
		}
	}
}

func (h *Hub) drain() {
	for {
		select {
		case out := <-h.queue:
			h.deliver(out)
		default:
			return
		}
	}
}

// deliver sends one broadcast.
// FUNCTIONAL DISCOVERY: Delivery continues to the remaining recipients when one
// send fails; exactly-once delivery to dropped clients is not attempted
func (h *Hub) deliver(out outbound) {
	for _, r := range h.registry.LiveConnections(out.event.SessionID) {
		if r.UserID == out.except {
			continue
		}
		if err := r.Conn.Send(out.event); err != nil {
			h.logger.Warn("broadcast delivery failed",
				"session_id", out.event.SessionID,
				"user_id", r.UserID,
				"event_type", out.event.Type,
				"error", err)
		}
	}
}
