// Package domain holds the core peer and message types.
// A Peer is one live connection to the rendezvous service, either a
// helper (offers relay capacity) or a client (seeks a helper).
package domain

import (
	"sync"
	"time"
)

// Reputation bounds and the trust threshold. A fresh peer starts neutral.
const (
	ReputationMin     = 0
	ReputationMax     = 100
	ReputationInitial = 50
	TrustThreshold    = 60
)

// MaxBandwidth caps the advertised bandwidth a helper may claim.
const MaxBandwidth = 10000

// Role is a peer's announced role. Roles are mutually exclusive and
// derived from the peer's last announcement, never set directly by the
// wire.
type Role int

const (
	RoleNone Role = iota
	RoleHelper
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleHelper:
		return "helper"
	case RoleClient:
		return "client"
	default:
		return "none"
	}
}

// Conn is the transport handle a Peer writes to. *websocket.Conn
// satisfies it; tests substitute a fake.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Peer is one connected participant. Construct through the registry so
// identifiers stay server-generated.
//
// Mutable fields are guarded by mu; callers outside this package use
// the accessor methods. Components must not cache a *Peer across a
// blocking operation — re-resolve through the registry, since peers
// vanish concurrently.
type Peer struct {
	ID          string
	Conn        Conn
	RemoteAddr  string
	ConnectedAt time.Time

	mu            sync.Mutex
	role          Role
	country       string
	bandwidth     float64
	lastActivity  time.Time
	messageCount  int
	authenticated bool
	reputation    int
}

// NewPeer wraps a transport handle in a Peer with neutral reputation.
func NewPeer(id string, conn Conn, remoteAddr string) *Peer {
	now := time.Now()
	return &Peer{
		ID:           id,
		Conn:         conn,
		RemoteAddr:   remoteAddr,
		ConnectedAt:  now,
		lastActivity: now,
		reputation:   ReputationInitial,
	}
}

// Touch records message activity.
func (p *Peer) Touch() {
	p.mu.Lock()
	p.lastActivity = time.Now()
	p.messageCount++
	p.mu.Unlock()
}

// LastActivity returns the time of the last processed message.
func (p *Peer) LastActivity() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActivity
}

// MessageCount returns how many messages this peer has had processed.
func (p *Peer) MessageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messageCount
}

// AdjustReputation applies delta, clamped into [ReputationMin, ReputationMax].
func (p *Peer) AdjustReputation(delta int) {
	p.mu.Lock()
	p.reputation += delta
	if p.reputation < ReputationMin {
		p.reputation = ReputationMin
	}
	if p.reputation > ReputationMax {
		p.reputation = ReputationMax
	}
	p.mu.Unlock()
}

// Reputation returns the current score.
func (p *Peer) Reputation() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reputation
}

// SetAuthenticated marks the peer as having passed the challenge.
func (p *Peer) SetAuthenticated(v bool) {
	p.mu.Lock()
	p.authenticated = v
	p.mu.Unlock()
}

// Authenticated reports whether the peer completed the auth handshake.
func (p *Peer) Authenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authenticated
}

// IsTrusted reports whether the peer may take part in sensitive relay
// operations: authenticated and reputation at or above TrustThreshold.
func (p *Peer) IsTrusted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authenticated && p.reputation >= TrustThreshold
}

// SetRole updates role flags and announcement attributes. Bandwidth is
// clamped to [0, MaxBandwidth]. The registry is the only caller — it
// holds its own lock so the role sets and these flags cannot disagree.
func (p *Peer) SetRole(role Role, country string, bandwidth float64) {
	if bandwidth < 0 {
		bandwidth = 0
	}
	if bandwidth > MaxBandwidth {
		bandwidth = MaxBandwidth
	}
	p.mu.Lock()
	p.role = role
	p.country = country
	p.bandwidth = bandwidth
	p.mu.Unlock()
}

// Role returns the peer's current role.
func (p *Peer) Role() Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role
}

// Country returns the peer's sanitized 2-letter locale tag.
func (p *Peer) Country() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.country
}

// Bandwidth returns the helper's advertised bandwidth.
func (p *Peer) Bandwidth() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bandwidth
}
