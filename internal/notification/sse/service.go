// Package sse streams follow-up activity to operator dashboards as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"procurement_followup/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventType is the SSE event name the dashboard listens for.
type EventType string

const (
	EventFollowUpDispatched EventType = "followup_dispatched"
	EventReplyReceived      EventType = "reply_received"
	EventOrderStatusChanged EventType = "order_status_changed"
	EventEscalationCreated  EventType = "escalation_created"
)

const (
	clientBuffer      = 32
	heartbeatInterval = 25 * time.Second
)

// Event is one feed entry. ID is the originating domain event id and is
// sent as the SSE id field.
type Event struct {
	ID      uuid.UUID `json:"id"`
	Type    EventType `json:"type"`
	OrderID uuid.UUID `json:"orderId,omitempty"`
	Data    any       `json:"data,omitempty"`
}

type client struct {
	operatorID uuid.UUID
	// orderID restricts the stream to one order when set.
	orderID uuid.UUID
	events  chan Event
}

func (c *client) wants(e Event) bool {
	return c.orderID == uuid.Nil || c.orderID == e.OrderID
}

// Service fans events out to every connected operator.
type Service struct {
	mu        sync.RWMutex
	clients   map[*client]struct{}
	heartbeat time.Duration
	log       *logger.Logger
}

func New(log *logger.Logger) *Service {
	return &Service{
		clients:   make(map[*client]struct{}),
		heartbeat: heartbeatInterval,
		log:       log,
	}
}

func (s *Service) add(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Service) remove(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.events)
	}
}

// Broadcast queues e for every interested client. A client whose buffer is
// full misses the event; the publisher never blocks.
func (s *Service) Broadcast(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	delivered := 0
	for c := range s.clients {
		if !c.wants(e) {
			continue
		}
		select {
		case c.events <- e:
			delivered++
		default:
			s.log.Warn("sse buffer full, event dropped", "operatorId", c.operatorID, "event", e.Type, "orderId", e.OrderID)
		}
	}
	s.log.Debug("sse event broadcast", "event", e.Type, "clients", delivered)
}

// ClientCount returns the number of open streams.
func (s *Service) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Handler serves GET /admin/events. ?orderId= narrows the stream to one
// order. operator resolves the authenticated caller.
func (s *Service) Handler(operator func(*gin.Context) (uuid.UUID, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		operatorID, ok := operator(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var orderID uuid.UUID
		if raw := c.Query("orderId"); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
				return
			}
			orderID = parsed
		}

		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")

		cl := &client{operatorID: operatorID, orderID: orderID, events: make(chan Event, clientBuffer)}
		s.add(cl)
		defer s.remove(cl)
		s.log.Info("sse client connected", "operatorId", operatorID, "orderId", orderID)

		c.SSEvent("connected", gin.H{"operatorId": operatorID})
		c.Writer.Flush()

		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()

		done := c.Request.Context().Done()
		for {
			select {
			case <-done:
				s.log.Info("sse client disconnected", "operatorId", operatorID)
				return
			case <-ticker.C:
				if _, err := c.Writer.WriteString(": ping\n\n"); err != nil {
					return
				}
				c.Writer.Flush()
			case e, ok := <-cl.events:
				if !ok {
					return
				}
				data, err := json.Marshal(e)
				if err != nil {
					s.log.Warn("sse event marshal failed", "error", err)
					continue
				}
				c.Render(-1, sseEvent{id: e.ID.String(), event: string(e.Type), data: data})
				c.Writer.Flush()
			}
		}
	}
}

// Close ends every open stream.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		close(c.events)
	}
	s.clients = make(map[*client]struct{})
}

// sseEvent renders one frame with an id line, which gin's SSEvent omits.
type sseEvent struct {
	id    string
	event string
	data  []byte
}

func (e sseEvent) Render(w http.ResponseWriter) error {
	if _, err := w.Write([]byte("id: " + e.id + "\nevent: " + e.event + "\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(e.data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}

func (sseEvent) WriteContentType(http.ResponseWriter) {}
