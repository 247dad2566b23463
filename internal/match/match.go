// Package match implements helper selection for client help requests.
//
// Policy, in priority order:
//  1. Trusted helpers only (authenticated + reputation over threshold).
//  2. Diversity first: prefer helpers whose country differs from the
//     client's — same-country helpers are assumed to share the
//     client's censorship exposure.
//  3. Rank by reputation desc, bandwidth desc, connection age asc
//     (older connections win ties, favoring stability).
//
// Selection is advisory: nothing is reserved or locked, so one helper
// can legitimately be matched to several clients concurrently. Collision
// handling belongs to the downstream peer-to-peer negotiation.
package match

import (
	"sort"

	"github.com/lumen-network/lumen/internal/domain"
)

// HelperSource yields the current helper peers. Implemented by the
// registry; tests supply a fixed slice.
type HelperSource interface {
	Helpers() []*domain.Peer
}

// Engine selects helpers for clients.
type Engine struct {
	helpers HelperSource
}

// NewEngine creates an Engine reading helpers from src.
func NewEngine(src HelperSource) *Engine {
	return &Engine{helpers: src}
}

// FindBestHelper returns the best eligible helper for the client, or
// nil when no trusted helper exists. The client itself is never a
// candidate.
func (e *Engine) FindBestHelper(client *domain.Peer) *domain.Peer {
	clientCountry := client.Country()

	var trusted, foreign []candidate
	for _, h := range e.helpers.Helpers() {
		if h.ID == client.ID || !h.IsTrusted() {
			continue
		}
		c := candidate{
			peer:       h,
			reputation: h.Reputation(),
			bandwidth:  h.Bandwidth(),
		}
		trusted = append(trusted, c)
		if h.Country() != clientCountry {
			foreign = append(foreign, c)
		}
	}

	pool := foreign
	if len(pool) == 0 {
		pool = trusted
	}
	if len(pool) == 0 {
		return nil
	}

	sort.Slice(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.reputation != b.reputation {
			return a.reputation > b.reputation
		}
		if a.bandwidth != b.bandwidth {
			return a.bandwidth > b.bandwidth
		}
		return a.peer.ConnectedAt.Before(b.peer.ConnectedAt)
	})
	return pool[0].peer
}

// candidate snapshots the fields the sort reads, so ranking stays
// consistent even if the peer mutates mid-sort.
type candidate struct {
	peer       *domain.Peer
	reputation int
	bandwidth  float64
}
