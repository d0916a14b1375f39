package engine

import (
	"net"
	"sort"
	"sync"
	"time"
)

// Connection roles.
const (
	RoleAccepted = "accepted"
	RoleOutbound = "outbound"
	RoleDatagram = "datagram"
)

// ConnRecord describes one tracked peer.
type ConnRecord struct {
	Addr     string
	Role     string
	Active   bool
	LastSeen time.Time
	Conn     net.Conn
}

// ConnManager is the registry of live peers an engine is serving. TCP engines
// own the net.Conn so Stop can close it; UDP engines only track addresses.
type ConnManager struct {
	mu    sync.Mutex
	conns map[string]*ConnRecord
}

func NewConnManager() *ConnManager {
	return &ConnManager{conns: make(map[string]*ConnRecord)}
}

// Add registers addr, replacing any previous record.
func (m *ConnManager) Add(addr, role string, conn net.Conn) {
	m.mu.Lock()
	m.conns[addr] = &ConnRecord{Addr: addr, Role: role, Active: true, LastSeen: time.Now(), Conn: conn}
	m.mu.Unlock()
}

// Touch refreshes the last-seen time, registering addr as a datagram peer if
// it is unknown. It reports whether addr was new.
func (m *ConnManager) Touch(addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.conns[addr]
	if !ok {
		m.conns[addr] = &ConnRecord{Addr: addr, Role: RoleDatagram, Active: true, LastSeen: time.Now()}
		return true
	}
	rec.Active = true
	rec.LastSeen = time.Now()
	return false
}

// Remove deletes the record. It does not close the connection.
func (m *ConnManager) Remove(addr string) {
	m.mu.Lock()
	delete(m.conns, addr)
	m.mu.Unlock()
}

// MarkInactive keeps the record but clears its active flag.
func (m *ConnManager) MarkInactive(addr string) {
	m.mu.Lock()
	if rec, ok := m.conns[addr]; ok {
		rec.Active = false
	}
	m.mu.Unlock()
}

// Active returns the sorted addresses of active peers.
func (m *ConnManager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.conns))
	for addr, rec := range m.conns {
		if rec.Active {
			out = append(out, addr)
		}
	}
	sort.Strings(out)
	return out
}

// Len counts active peers.
func (m *ConnManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.conns {
		if rec.Active {
			n++
		}
	}
	return n
}

// Records returns copies of every record, sorted by address.
func (m *ConnManager) Records() []ConnRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ConnRecord, 0, len(m.conns))
	for _, rec := range m.conns {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// CloseAll closes every owned connection and empties the registry.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*ConnRecord)
	m.mu.Unlock()

	for _, rec := range conns {
		if rec.Conn != nil {
			rec.Conn.Close()
		}
	}
}
