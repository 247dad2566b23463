// Package registry owns the canonical peer table and the derived
// helper/client role sets.
//
// All other components reference peers by identifier and re-resolve
// through the registry; a *Peer must never be cached across a blocking
// operation, since peers vanish concurrently. Mutations for one peer
// are serialized behind the registry lock; different peers proceed
// concurrently. Outbound delivery runs on a per-peer write pump so a
// slow or dead transport can never stall the caller.
package registry

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lumen-network/lumen/internal/domain"
	"github.com/lumen-network/lumen/internal/validate"
)

// DefaultQueueSize is the per-peer outbound frame queue. Overflow is
// treated as a dead transport.
const DefaultQueueSize = 32

// Registry is the authoritative table of connected peers.
type Registry struct {
	mu      sync.RWMutex
	peers   map[string]*domain.Peer
	helpers map[string]struct{}
	clients map[string]struct{}
	pumps   map[string]*pump

	queueSize int

	// OnRemove, if set, runs after a peer is deleted (outside the
	// registry lock). Used to release rate-limit state and metrics.
	OnRemove func(peerID string)
}

// pump is one peer's outbound queue and its shutdown signal.
type pump struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (p *pump) stop() {
	p.once.Do(func() { close(p.done) })
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		peers:     make(map[string]*domain.Peer),
		helpers:   make(map[string]struct{}),
		clients:   make(map[string]struct{}),
		pumps:     make(map[string]*pump),
		queueSize: DefaultQueueSize,
	}
}

// Register allocates a fresh identifier, inserts a Peer record, and
// starts its write pump. Called exactly once per accepted connection.
func (r *Registry) Register(conn domain.Conn, remoteAddr string) *domain.Peer {
	id := uuid.New().String()
	peer := domain.NewPeer(id, conn, remoteAddr)
	pu := &pump{
		frames: make(chan []byte, r.queueSize),
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	r.peers[id] = peer
	r.pumps[id] = pu
	r.mu.Unlock()

	go r.writeLoop(peer, pu)
	return peer
}

// Get resolves a peer by identifier.
func (r *Registry) Get(peerID string) (*domain.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[peerID]
	return p, ok
}

// SetRole atomically updates a peer's role flags and announcement
// attributes and moves its identifier between the helper and client
// sets. A peer id is in at most one set at any time.
func (r *Registry) SetRole(peerID string, role domain.Role, country string, bandwidth float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[peerID]
	if !ok {
		return fmt.Errorf("set role %s: %w", peerID, domain.ErrPeerNotFound)
	}

	peer.SetRole(role, country, bandwidth)
	delete(r.helpers, peerID)
	delete(r.clients, peerID)
	switch role {
	case domain.RoleHelper:
		r.helpers[peerID] = struct{}{}
	case domain.RoleClient:
		r.clients[peerID] = struct{}{}
	}
	return nil
}

// Remove deletes the peer and clears it from both role sets, reporting
// whether the peer was present. Idempotent: removing an absent id is a
// no-op. Closing the transport here unblocks the connection's read loop
// and drives it to its own (idempotent) cleanup.
func (r *Registry) Remove(peerID string) bool {
	r.mu.Lock()
	peer, ok := r.peers[peerID]
	pu := r.pumps[peerID]
	if ok {
		delete(r.peers, peerID)
		delete(r.helpers, peerID)
		delete(r.clients, peerID)
		delete(r.pumps, peerID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	pu.stop()
	_ = peer.Conn.Close()
	if r.OnRemove != nil {
		r.OnRemove(peerID)
	}
	return true
}

// Send serializes a sanitized copy of msg and queues it for the peer.
// A missing peer returns ErrPeerNotFound; a closed or saturated
// transport triggers Remove instead of surfacing to the caller.
func (r *Registry) Send(peerID string, msg domain.Message) error {
	r.mu.RLock()
	pu, ok := r.pumps[peerID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send to %s: %w", peerID, domain.ErrPeerNotFound)
	}

	data, err := json.Marshal(sanitized(msg))
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", msg.Type(), err)
	}

	select {
	case pu.frames <- data:
		return nil
	case <-pu.done:
		return nil
	default:
		// Queue full: the peer is not draining its socket.
		log.Printf("[registry] send queue full for %s, dropping peer", validate.SanitizeLog(peerID))
		r.Remove(peerID)
		return nil
	}
}

// writeLoop drains one peer's frame queue onto its transport. Any write
// error removes the peer.
func (r *Registry) writeLoop(peer *domain.Peer, pu *pump) {
	for {
		select {
		case <-pu.done:
			return
		case frame := <-pu.frames:
			if err := peer.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				r.Remove(peer.ID)
				return
			}
		}
	}
}

// ─── Snapshots ──────────────────────────────────────────────────────────────

// Helpers returns the current helper peers.
func (r *Registry) Helpers() []*domain.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Peer, 0, len(r.helpers))
	for id := range r.helpers {
		if p, ok := r.peers[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Count returns the number of connected peers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// HelperCount returns the size of the helper set.
func (r *Registry) HelperCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.helpers)
}

// ClientCount returns the size of the client set.
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// InHelperSet reports role-set membership for an id. Used by invariant
// tests; membership always agrees with the peer's own role flag.
func (r *Registry) InHelperSet(peerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.helpers[peerID]
	return ok
}

// InClientSet reports client-set membership for an id.
func (r *Registry) InClientSet(peerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[peerID]
	return ok
}

// sanitized returns a copy of msg with every string field stripped of
// control characters and truncated, so nothing a peer supplied can
// smuggle raw bytes to another peer.
func sanitized(msg domain.Message) domain.Message {
	out := make(domain.Message, len(msg))
	for key, value := range msg {
		if s, ok := value.(string); ok {
			out[key] = validate.SanitizeField(s, validate.MaxFieldLength)
			continue
		}
		out[key] = value
	}
	return out
}
