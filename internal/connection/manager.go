package connection

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// ClientInfo holds information about a connected tracker
type ClientInfo struct {
	ConnectionID  string
	VehicleID     string
	ConnectedAt   time.Time
	LastHeardFrom time.Time
	Conn          net.Conn
	mu            sync.RWMutex
}

// UpdateLastHeardFrom updates the last activity timestamp
func (c *ClientInfo) UpdateLastHeardFrom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastHeardFrom = time.Now()
}

// GetLastHeardFrom returns the last activity timestamp
func (c *ClientInfo) GetLastHeardFrom() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LastHeardFrom
}

// Manager tracks identified tracker connections. A vehicle has at most one
// connection; a newer identify supersedes the older one.
type Manager struct {
	clients   map[string]*ClientInfo // key: connection_id
	byVehicle map[string]string      // key: vehicle_id, value: connection_id
	mu        sync.RWMutex
	maxConns  int
}

// NewManager creates a new connection manager
func NewManager(maxConnections int) *Manager {
	return &Manager{
		clients:   make(map[string]*ClientInfo),
		byVehicle: make(map[string]string),
		maxConns:  maxConnections,
	}
}

// Register adds an identified connection. If the vehicle already had a
// connection it is detached and returned so the caller can close it.
func (m *Manager) Register(connectionID, vehicleID string, conn net.Conn) (*ClientInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[connectionID]; exists {
		return nil, fmt.Errorf("connection ID %s already registered", connectionID)
	}

	var superseded *ClientInfo
	if prevID, ok := m.byVehicle[vehicleID]; ok {
		superseded = m.clients[prevID]
		delete(m.clients, prevID)
	}

	if superseded == nil && len(m.clients) >= m.maxConns {
		return nil, ErrMaxConnectionsReached
	}

	now := time.Now()
	m.clients[connectionID] = &ClientInfo{
		ConnectionID:  connectionID,
		VehicleID:     vehicleID,
		ConnectedAt:   now,
		LastHeardFrom: now,
		Conn:          conn,
	}
	m.byVehicle[vehicleID] = connectionID

	return superseded, nil
}

// Unregister removes a connection. Removing a superseded connection is a
// no-op.
func (m *Manager) Unregister(connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, exists := m.clients[connectionID]
	if !exists {
		return fmt.Errorf("connection ID %s not found", connectionID)
	}

	if m.byVehicle[client.VehicleID] == connectionID {
		delete(m.byVehicle, client.VehicleID)
	}
	delete(m.clients, connectionID)

	return nil
}

// Get retrieves client information by connection ID
func (m *Manager) Get(connectionID string) (*ClientInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, exists := m.clients[connectionID]
	return client, exists
}

// GetByVehicle retrieves the live connection for a vehicle
func (m *Manager) GetByVehicle(vehicleID string) (*ClientInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connID, ok := m.byVehicle[vehicleID]
	if !ok {
		return nil, false
	}
	client, exists := m.clients[connID]
	return client, exists
}

// UpdateActivity updates the last heard from timestamp for a connection
func (m *Manager) UpdateActivity(connectionID string) error {
	m.mu.RLock()
	client, exists := m.clients[connectionID]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("connection ID %s not found", connectionID)
	}

	client.UpdateLastHeardFrom()
	return nil
}

// Count returns the total number of active connections
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Stats returns statistics about the connection manager
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		TotalConnections: len(m.clients),
		Vehicles:         len(m.byVehicle),
		MaxConnections:   m.maxConns,
	}
}

// ManagerStats contains statistics about the connection manager
type ManagerStats struct {
	TotalConnections int
	Vehicles         int
	MaxConnections   int
}

var (
	ErrMaxConnectionsReached = &ConnectionError{"maximum connections reached"}
)

// ConnectionError represents a connection error
type ConnectionError struct {
	msg string
}

func (e *ConnectionError) Error() string {
	return e.msg
}
