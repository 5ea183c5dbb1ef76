package mqttsession

import (
	"errors"
	"sync"
)

var (
	ErrPacketIDExhausted = errors.New("no packet identifiers available")
	ErrPacketIDNotFound  = errors.New("packet identifier not in use")
)

// PacketIDManager hands out message ids 1-65535, skipping ids still awaiting
// an acknowledgement.
type PacketIDManager struct {
	mu   sync.Mutex
	used map[uint16]struct{}
	next uint16
}

// NewPacketIDManager creates a new packet ID manager.
func NewPacketIDManager() *PacketIDManager {
	return &PacketIDManager{used: make(map[uint16]struct{}), next: 1}
}

// Allocate returns the next free id.
func (m *PacketIDManager) Allocate() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for range 65535 {
		id := m.next
		m.next++
		if m.next == 0 {
			m.next = 1
		}
		if _, ok := m.used[id]; !ok {
			m.used[id] = struct{}{}
			return id, nil
		}
	}
	return 0, ErrPacketIDExhausted
}

// Release returns an id to the pool.
func (m *PacketIDManager) Release(id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.used[id]; !ok {
		return ErrPacketIDNotFound
	}
	delete(m.used, id)
	return nil
}

// InUse returns the count of ids currently allocated.
func (m *PacketIDManager) InUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.used)
}

// Reset frees every id. Used when a connection is replaced.
func (m *PacketIDManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.used)
}
