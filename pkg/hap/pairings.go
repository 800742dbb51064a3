package hap

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
)

var ErrPairingNotFound = errors.New("hap: pairing not found")

// Pairing of controller, created by pair-setup or add pairing request
type Pairing struct {
	ClientID    string
	PublicKey   []byte
	Permissions byte
	PairedAt    time.Time
}

func (p *Pairing) IsAdmin() bool {
	return p.Permissions&PermissionAdmin != 0
}

// PairingStore persists pairings. Get returns ErrPairingNotFound for
// unknown controller.
type PairingStore interface {
	Get(clientID string) (*Pairing, error)
	Put(pairing *Pairing) error
	Delete(clientID string) error
	List() ([]*Pairing, error)
}

type MemoryPairings struct {
	pairings map[string]*Pairing
	mu       sync.Mutex
}

func NewMemoryPairings(pairings ...*Pairing) *MemoryPairings {
	m := &MemoryPairings{pairings: map[string]*Pairing{}}
	for _, pairing := range pairings {
		m.pairings[pairing.ClientID] = pairing
	}
	return m
}

func (m *MemoryPairings) Get(clientID string) (*Pairing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pairing, ok := m.pairings[clientID]; ok {
		return pairing, nil
	}
	return nil, ErrPairingNotFound
}

func (m *MemoryPairings) Put(pairing *Pairing) error {
	m.mu.Lock()
	m.pairings[pairing.ClientID] = pairing
	m.mu.Unlock()
	return nil
}

func (m *MemoryPairings) Delete(clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pairings[clientID]; !ok {
		return ErrPairingNotFound
	}
	delete(m.pairings, clientID)
	return nil
}

func (m *MemoryPairings) List() ([]*Pairing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pairings := make([]*Pairing, 0, len(m.pairings))
	for _, pairing := range m.pairings {
		pairings = append(pairings, pairing)
	}
	SortPairings(pairings)
	return pairings, nil
}

// SortPairings by pairing time and controller id
func SortPairings(pairings []*Pairing) {
	slices.SortFunc(pairings, func(a, b *Pairing) int {
		if c := a.PairedAt.Compare(b.PairedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ClientID, b.ClientID)
	})
}
