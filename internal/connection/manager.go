package connection

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"
)

// DeviceInfo holds information about a connected grader controller
type DeviceInfo struct {
	ConnectionID  string
	DeviceID      string
	Slots         int
	ConnectedAt   time.Time
	LastHeardFrom time.Time
	LastReadingAt time.Time
	Readings      int64
	Conn          net.Conn
	mu            sync.RWMutex
}

// UpdateLastHeardFrom updates the last activity timestamp
func (d *DeviceInfo) UpdateLastHeardFrom() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.LastHeardFrom = time.Now()
}

// GetLastHeardFrom returns the last activity timestamp
func (d *DeviceInfo) GetLastHeardFrom() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.LastHeardFrom
}

// RecordReading counts a readings message that was accepted for publishing.
func (d *DeviceInfo) RecordReading(at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.LastReadingAt = at
	d.LastHeardFrom = at
	d.Readings++
}

// Snapshot returns a copy of the mutable fields, safe to read without locks.
func (d *DeviceInfo) Snapshot() DeviceStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DeviceStatus{
		ConnectionID:  d.ConnectionID,
		DeviceID:      d.DeviceID,
		Slots:         d.Slots,
		ConnectedAt:   d.ConnectedAt,
		LastHeardFrom: d.LastHeardFrom,
		LastReadingAt: d.LastReadingAt,
		Readings:      d.Readings,
	}
}

// DeviceStatus is a point-in-time copy of DeviceInfo.
type DeviceStatus struct {
	ConnectionID  string    `json:"connection_id"`
	DeviceID      string    `json:"device_id"`
	Slots         int       `json:"slots"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeardFrom time.Time `json:"last_heard_from"`
	LastReadingAt time.Time `json:"last_reading_at,omitempty"`
	Readings      int64     `json:"readings"`
}

// Manager manages all active device connections
type Manager struct {
	devices  map[string]*DeviceInfo // key: connection_id
	byDevice map[string][]string    // key: device_id, value: []connection_id
	mu       sync.RWMutex
	maxConns int
}

// NewManager creates a new connection manager
func NewManager(maxConnections int) *Manager {
	return &Manager{
		devices:  make(map[string]*DeviceInfo),
		byDevice: make(map[string][]string),
		maxConns: maxConnections,
	}
}

// Register adds a new device connection
func (m *Manager) Register(connectionID, deviceID string, slots int, conn net.Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.devices) >= m.maxConns {
		return ErrMaxConnectionsReached
	}

	if _, exists := m.devices[connectionID]; exists {
		return fmt.Errorf("connection ID %s already registered", connectionID)
	}

	now := time.Now()
	m.devices[connectionID] = &DeviceInfo{
		ConnectionID:  connectionID,
		DeviceID:      deviceID,
		Slots:         slots,
		ConnectedAt:   now,
		LastHeardFrom: now,
		Conn:          conn,
	}
	m.byDevice[deviceID] = append(m.byDevice[deviceID], connectionID)

	return nil
}

// Unregister removes a device connection
func (m *Manager) Unregister(connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.devices[connectionID]
	if !exists {
		return fmt.Errorf("connection ID %s not found", connectionID)
	}

	deviceID := info.DeviceID
	if connIDs, ok := m.byDevice[deviceID]; ok {
		for i, id := range connIDs {
			if id == connectionID {
				m.byDevice[deviceID] = append(connIDs[:i], connIDs[i+1:]...)
				break
			}
		}
		if len(m.byDevice[deviceID]) == 0 {
			delete(m.byDevice, deviceID)
		}
	}

	delete(m.devices, connectionID)

	return nil
}

// Get retrieves device information by connection ID
func (m *Manager) Get(connectionID string) (*DeviceInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, exists := m.devices[connectionID]
	return info, exists
}

// GetByDevice retrieves all connection IDs for a device
func (m *Manager) GetByDevice(deviceID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connIDs := m.byDevice[deviceID]
	result := make([]string, len(connIDs))
	copy(result, connIDs)
	return result
}

// UpdateActivity updates the last heard from timestamp for a connection
func (m *Manager) UpdateActivity(connectionID string) error {
	m.mu.RLock()
	info, exists := m.devices[connectionID]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("connection ID %s not found", connectionID)
	}

	info.UpdateLastHeardFrom()
	return nil
}

// GetInactiveConnections returns connection IDs that haven't been heard from in the given duration
func (m *Manager) GetInactiveConnections(timeout time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var inactive []string

	for connID, info := range m.devices {
		if now.Sub(info.GetLastHeardFrom()) > timeout {
			inactive = append(inactive, connID)
		}
	}

	return inactive
}

// Count returns the total number of active connections
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// Devices returns the status of every connection ordered by device ID.
func (m *Manager) Devices() []DeviceStatus {
	m.mu.RLock()
	out := make([]DeviceStatus, 0, len(m.devices))
	for _, info := range m.devices {
		out = append(out, info.Snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Stats returns statistics about the connection manager
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		TotalConnections: len(m.devices),
		UniqueDevices:    len(m.byDevice),
		MaxConnections:   m.maxConns,
	}
}

// ManagerStats contains statistics about the connection manager
type ManagerStats struct {
	TotalConnections int
	UniqueDevices    int
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
