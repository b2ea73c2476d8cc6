package node

import (
	"sort"
	"sync"
)

// KeyTable maps a peer address to the path, on the owning node, of the
// private key that opens that peer.
type KeyTable struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewKeyTable returns an empty table.
func NewKeyTable() *KeyTable {
	return &KeyTable{keys: make(map[string]string)}
}

// Set records the key path for a peer.
func (t *KeyTable) Set(peer, keyPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys[peer] = keyPath
}

// Get returns the key path recorded for a peer.
func (t *KeyTable) Get(peer string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	k, ok := t.keys[peer]
	return k, ok
}

// Len returns the number of recorded peers.
func (t *KeyTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.keys)
}

// Peers returns the recorded peer addresses in sorted order.
func (t *KeyTable) Peers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	peers := make([]string, 0, len(t.keys))
	for p := range t.keys {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return peers
}
