// Package hub tracks open push streams per installation.
package hub

import (
	"sync"

	"ssepush-lite/internal/model"
)

type Writer interface {
	Write(msg model.Message) error
	Close() error
}

type Connection struct {
	InstallationID string
	Writer         Writer
}

type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[string]map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.InstallationID] == nil {
		h.connections[conn.InstallationID] = make(map[*Connection]struct{})
	}
	h.connections[conn.InstallationID][conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.InstallationID]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.InstallationID)
	}
}

// Send delivers msg to every stream of the installation and returns how many
// accepted it. Streams that fail are closed and dropped.
func (h *Hub) Send(installationID string, msg model.Message) int {
	h.mu.RLock()
	set := h.connections[installationID]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	delivered := 0
	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(msg); err != nil {
			failed = append(failed, c)
			continue
		}
		delivered++
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
	return delivered
}

// Disconnect closes every stream of the installation.
func (h *Hub) Disconnect(installationID string) {
	h.mu.Lock()
	set := h.connections[installationID]
	delete(h.connections, installationID)
	h.mu.Unlock()

	for c := range set {
		_ = c.Writer.Close()
	}
}

func (h *Hub) Connected(installationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[installationID])
}
