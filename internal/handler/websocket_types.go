// internal/handler/websocket_types.go
package handler

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"actuator-hub/internal/service"
)

// Client is one WebSocket connection and the protocol session it carries
type Client struct {
	Session     *service.Session
	Connection  *websocket.Conn
	UserAgent   string
	RemoteAddr  string
	ConnectedAt time.Time
}

// ClientInfo is the admin view of a connected client
type ClientInfo struct {
	service.SessionInfo
	UserAgent string `json:"user_agent"`
}

// ConnectionManager tracks the connected clients
type ConnectionManager struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*Client),
	}
}

// Register adds a client
func (cm *ConnectionManager) Register(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.clients[client.Session.ID()] = client
}

// Unregister removes a client. It reports whether the client was known.
func (cm *ConnectionManager) Unregister(client *Client) bool {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	id := client.Session.ID()
	if _, ok := cm.clients[id]; !ok {
		return false
	}
	delete(cm.clients, id)
	return true
}

// Count returns the number of connected clients
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.clients)
}

// CloseAll ends every session. The transports notice through Session.Done.
func (cm *ConnectionManager) CloseAll(reason string) int {
	cm.mutex.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		clients = append(clients, c)
	}
	cm.mutex.RUnlock()

	for _, c := range clients {
		c.Session.Close(reason)
	}
	return len(clients)
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(cm.clients),
		ByState:          make(map[string]int),
		Clients:          make([]ClientInfo, 0, len(cm.clients)),
	}

	for _, client := range cm.clients {
		info := client.Session.Info()
		stats.ByState[info.State]++
		stats.Clients = append(stats.Clients, ClientInfo{SessionInfo: info, UserAgent: client.UserAgent})
	}
	sort.Slice(stats.Clients, func(i, j int) bool {
		return stats.Clients[i].ConnectedAt.Before(stats.Clients[j].ConnectedAt)
	})

	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ByState          map[string]int `json:"by_state"`
	Clients          []ClientInfo   `json:"clients"`
}
