package connection

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Meter is one identified meter connection
type Meter struct {
	ConnectionID string
	SubjectID    string
	Device       string
	ConnectedAt  time.Time
	Conn         net.Conn

	mu         sync.RWMutex
	lastActive time.Time
	readings   int
}

// LastActive returns when the meter last sent a message
func (m *Meter) LastActive() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastActive
}

// Readings returns the number of readings delivered on this connection
func (m *Meter) Readings() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readings
}

func (m *Meter) recordActivity(reading bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActive = time.Now()
	if reading {
		m.readings++
	}
}

// Manager tracks the meters connected to the gateway
type Manager struct {
	meters    map[string]*Meter            // key: connection ID
	bySubject map[string]map[string]*Meter // key: subject ID, then connection ID
	mu        sync.RWMutex
	maxConns  int
}

// NewManager creates a new connection manager
func NewManager(maxConnections int) *Manager {
	return &Manager{
		meters:    make(map[string]*Meter),
		bySubject: make(map[string]map[string]*Meter),
		maxConns:  maxConnections,
	}
}

// Register adds a meter connection
func (m *Manager) Register(connectionID, subjectID, device string, conn net.Conn) (*Meter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.meters) >= m.maxConns {
		return nil, ErrMaxConnectionsReached
	}

	if _, exists := m.meters[connectionID]; exists {
		return nil, fmt.Errorf("connection ID %s already registered", connectionID)
	}

	now := time.Now()
	meter := &Meter{
		ConnectionID: connectionID,
		SubjectID:    subjectID,
		Device:       device,
		ConnectedAt:  now,
		Conn:         conn,
		lastActive:   now,
	}
	m.meters[connectionID] = meter
	if m.bySubject[subjectID] == nil {
		m.bySubject[subjectID] = make(map[string]*Meter)
	}
	m.bySubject[subjectID][connectionID] = meter

	return meter, nil
}

// Unregister removes a meter connection
func (m *Manager) Unregister(connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meter, exists := m.meters[connectionID]
	if !exists {
		return ErrUnknownConnection
	}

	delete(m.bySubject[meter.SubjectID], connectionID)
	if len(m.bySubject[meter.SubjectID]) == 0 {
		delete(m.bySubject, meter.SubjectID)
	}
	delete(m.meters, connectionID)

	return nil
}

// Get retrieves a meter by connection ID
func (m *Manager) Get(connectionID string) (*Meter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meter, exists := m.meters[connectionID]
	return meter, exists
}

// SubjectMeters returns the meters currently connected for a subject
func (m *Manager) SubjectMeters(subjectID string) []*Meter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meters := make([]*Meter, 0, len(m.bySubject[subjectID]))
	for _, meter := range m.bySubject[subjectID] {
		meters = append(meters, meter)
	}
	return meters
}

// Activity records a message from a meter. reading is true when the
// message delivered a measurement.
func (m *Manager) Activity(connectionID string, reading bool) error {
	meter, exists := m.Get(connectionID)
	if !exists {
		return ErrUnknownConnection
	}

	meter.recordActivity(reading)
	return nil
}

// Count returns the total number of active connections
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.meters)
}

// Meters returns every connected meter
func (m *Manager) Meters() []*Meter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meters := make([]*Meter, 0, len(m.meters))
	for _, meter := range m.meters {
		meters = append(meters, meter)
	}
	return meters
}

// Stats returns statistics about the connection manager
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	readings := 0
	for _, meter := range m.meters {
		readings += meter.Readings()
	}

	return ManagerStats{
		TotalConnections: len(m.meters),
		UniqueSubjects:   len(m.bySubject),
		MaxConnections:   m.maxConns,
		Readings:         readings,
	}
}

// ManagerStats contains statistics about the connection manager
type ManagerStats struct {
	TotalConnections int
	UniqueSubjects   int
	MaxConnections   int
	Readings         int
}

var (
	ErrMaxConnectionsReached = &ConnectionError{"maximum connections reached"}
	ErrUnknownConnection     = &ConnectionError{"connection not registered"}
)

// ConnectionError represents a connection error
type ConnectionError struct {
	msg string
}

func (e *ConnectionError) Error() string {
	return e.msg
}
