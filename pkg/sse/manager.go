// Package sse fans server-sent events out to connected users.
package sse

import (
	"io"
	"log/slog"
	"sync"

	"github.com/gin-gonic/gin"
)

// Event is one message for one user.
type Event struct {
	UserID string
	Name   string
	Data   interface{}
}

type client struct {
	userID string
	events chan Event
}

// Manager tracks open streams per user. Run must be started before use.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}

	register   chan *client
	unregister chan *client
	broadcast  chan Event
	done       chan struct{}
	closeOnce  sync.Once

	logger *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		clients:    make(map[string]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Event, 256),
		done:       make(chan struct{}),
		logger:     logger.With("component", "sse"),
	}
}

// Run dispatches events until Close is called.
func (m *Manager) Run() {
	for {
		select {
		case c := <-m.register:
			m.mu.Lock()
			if m.clients[c.userID] == nil {
				m.clients[c.userID] = make(map[*client]struct{})
			}
			m.clients[c.userID][c] = struct{}{}
			m.mu.Unlock()

		case c := <-m.unregister:
			m.mu.Lock()
			if set, ok := m.clients[c.userID]; ok {
				if _, ok := set[c]; ok {
					delete(set, c)
					close(c.events)
				}
				if len(set) == 0 {
					delete(m.clients, c.userID)
				}
			}
			m.mu.Unlock()

		case ev := <-m.broadcast:
			m.mu.RLock()
			for c := range m.clients[ev.UserID] {
				select {
				case c.events <- ev:
				default:
					m.logger.Warn("client buffer full, dropping event", "user_id", ev.UserID, "event", ev.Name)
				}
			}
			m.mu.RUnlock()

		case <-m.done:
			m.mu.Lock()
			for userID, set := range m.clients {
				for c := range set {
					close(c.events)
				}
				delete(m.clients, userID)
			}
			m.mu.Unlock()
			return
		}
	}
}

// Close stops Run and ends every open stream.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// SendToUser queues an event for every stream of userID. It never blocks.
func (m *Manager) SendToUser(userID, event string, data interface{}) {
	select {
	case m.broadcast <- Event{UserID: userID, Name: event, Data: data}:
	case <-m.done:
	default:
		m.logger.Warn("event queue full, dropping event", "user_id", userID, "event", event)
	}
}

// Connected returns the number of open streams for userID.
func (m *Manager) Connected(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients[userID])
}

// ServeHTTP streams events for userID until the request ends.
func (m *Manager) ServeHTTP(c *gin.Context, userID string) {
	cl := &client{userID: userID, events: make(chan Event, 16)}
	select {
	case m.register <- cl:
	case <-m.done:
		c.Status(503)
		return
	}
	defer func() {
		select {
		case m.unregister <- cl:
		case <-m.done:
		}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("connected", gin.H{"user_id": userID})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-cl.events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)
			return true
		case <-ctx.Done():
			return false
		}
	})
}
