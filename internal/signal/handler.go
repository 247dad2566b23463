// Package signal implements the rendezvous protocol: the websocket
// listener and the per-connection state machine that authenticates,
// validates, and routes messages between the registry, the matchmaking
// engine, and outbound delivery.
package signal

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumen-network/lumen/internal/domain"
	"github.com/lumen-network/lumen/internal/match"
	"github.com/lumen-network/lumen/internal/metrics"
	"github.com/lumen-network/lumen/internal/ratelimit"
	"github.com/lumen-network/lumen/internal/registry"
	"github.com/lumen-network/lumen/internal/store"
	"github.com/lumen-network/lumen/internal/trust"
	"github.com/lumen-network/lumen/internal/validate"
)

// Config holds protocol handler tuning. Zero values fall back to the
// defaults below.
type Config struct {
	MaxMessageSize   int64
	PingInterval     time.Duration
	PongWait         time.Duration
	MessageRate      int           // messages per peer per window
	MessageWindow    time.Duration
	ConnectionRate   int           // connections per address per window
	ConnectionWindow time.Duration
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:   8192,
		PingInterval:     30 * time.Second,
		PongWait:         10 * time.Second,
		MessageRate:      50,
		MessageWindow:    60 * time.Second,
		ConnectionRate:   10,
		ConnectionWindow: 60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.MessageRate <= 0 {
		c.MessageRate = d.MessageRate
	}
	if c.MessageWindow <= 0 {
		c.MessageWindow = d.MessageWindow
	}
	if c.ConnectionRate <= 0 {
		c.ConnectionRate = d.ConnectionRate
	}
	if c.ConnectionWindow <= 0 {
		c.ConnectionWindow = d.ConnectionWindow
	}
	return c
}

// EventSink receives journal events. *store.Journal implements it; a
// nil sink disables journaling.
type EventSink interface {
	Append(kind, peerID, detail string) error
}

// Handler drives the per-connection protocol state machine.
type Handler struct {
	cfg      Config
	registry *registry.Registry
	matcher  *match.Engine
	auth     *trust.Authenticator

	msgLimiter  *ratelimit.Limiter
	connLimiter *ratelimit.Limiter

	journal EventSink
}

// NewHandler wires the protocol handler. journal may be nil.
func NewHandler(cfg Config, reg *registry.Registry, auth *trust.Authenticator, journal EventSink) *Handler {
	cfg = cfg.withDefaults()
	h := &Handler{
		cfg:         cfg,
		registry:    reg,
		matcher:     match.NewEngine(reg),
		auth:        auth,
		msgLimiter:  ratelimit.New(cfg.MessageRate, cfg.MessageWindow),
		connLimiter: ratelimit.New(cfg.ConnectionRate, cfg.ConnectionWindow),
		journal:     journal,
	}
	// Release rate-limit state when a peer goes away, whichever
	// component triggered the removal.
	prev := reg.OnRemove
	reg.OnRemove = func(peerID string) {
		h.msgLimiter.Forget(peerID)
		if prev != nil {
			prev(peerID)
		}
	}
	return h
}

// AdmitAddress applies the connection-admission rate limit for a remote
// address. Called by the listener before peer registration.
func (h *Handler) AdmitAddress(addr string) bool {
	return h.connLimiter.Allow(addr)
}

// Limiters returns the per-peer and per-address limiters for periodic
// cleanup by the daemon.
func (h *Handler) Limiters() (msgs, conns *ratelimit.Limiter) {
	return h.msgLimiter, h.connLimiter
}

// ServeConn runs one connection's message loop until the transport
// closes or a rate-limit violation silences the peer. It registers the
// peer, sends the welcome frame, and guarantees exactly one cleanup on
// every exit path.
func (h *Handler) ServeConn(conn *websocket.Conn, remoteAddr string) {
	peer := h.registry.Register(conn, remoteAddr)

	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()
	h.record(store.EventConnect, peer.ID, remoteAddr)
	log.Printf("[signal] peer connected: %s from %s", peer.ID, validate.SanitizeLog(remoteAddr))

	done := make(chan struct{})
	defer func() {
		close(done)
		if h.registry.Remove(peer.ID) {
			h.record(store.EventDisconnect, peer.ID, "")
		}
		metrics.ConnectionsActive.Dec()
		h.syncRoleGauges()
		log.Printf("[signal] peer disconnected: %s", peer.ID)
	}()

	h.send(peer.ID, domain.Message{
		"type":             domain.TypeWelcome,
		"peer_id":          peer.ID,
		"server_time":      unixNow(),
		"max_message_size": h.cfg.MaxMessageSize,
	})

	conn.SetReadLimit(h.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.cfg.PingInterval + h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PingInterval + h.cfg.PongWait))
	})
	go h.keepalive(conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if !h.msgLimiter.Allow(peer.ID) {
			peer.AdjustReputation(trust.PenaltyRateLimit)
			metrics.SecurityViolations.WithLabelValues("rate_limit").Inc()
			h.record(store.EventViolation, peer.ID, "rate_limit")
			log.Printf("[signal] message rate limit exceeded for %s", peer.ID)
			return
		}

		var msg domain.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			peer.AdjustReputation(trust.PenaltyMalformedFrame)
			metrics.SecurityViolations.WithLabelValues("framing").Inc()
			h.record(store.EventViolation, peer.ID, "framing")
			continue
		}

		if err := validate.Check(msg); err != nil {
			peer.AdjustReputation(trust.PenaltyInvalidMessage)
			metrics.SecurityViolations.WithLabelValues("validation").Inc()
			h.record(store.EventViolation, peer.ID, "validation")
			log.Printf("[signal] invalid message from %s: %v", peer.ID, err)
			continue
		}

		h.dispatch(peer, msg)
		peer.Touch()
	}
}

// dispatch routes one validated frame. Auth handshake messages bypass
// the authentication gate; everything except ping requires it.
func (h *Handler) dispatch(peer *domain.Peer, msg domain.Message) {
	mtype := msg.Type()
	metrics.MessagesReceived.WithLabelValues(mtype).Inc()

	switch mtype {
	case domain.TypeAuthRequest:
		h.handleAuthRequest(peer)
		return
	case domain.TypeAuthResponse:
		h.handleAuthResponse(peer, msg)
		return
	}

	if !peer.Authenticated() && mtype != domain.TypePing {
		h.send(peer.ID, domain.Message{
			"type":    domain.TypeAuthRequired,
			"message": "Authentication required for this operation",
		})
		return
	}

	switch mtype {
	case domain.TypeHelperAvailable:
		h.handleHelperAvailable(peer, msg)
	case domain.TypeRequestHelp:
		h.handleRequestHelp(peer, msg)
	case domain.TypeOffer:
		h.relay(peer, msg, "offer")
	case domain.TypeAnswer:
		h.relay(peer, msg, "answer")
	case domain.TypeICECandidate:
		h.relay(peer, msg, "candidate")
	case domain.TypePing:
		h.send(peer.ID, domain.Message{"type": domain.TypePong, "timestamp": unixNow()})
	default:
		// Valid on the wire but no handler for this state.
		peer.AdjustReputation(trust.PenaltyUnknownType)
		metrics.SecurityViolations.WithLabelValues("unknown_type").Inc()
		log.Printf("[signal] unhandled message type %q from %s", validate.SanitizeLog(mtype), peer.ID)
	}
}

// ─── Auth handshake ─────────────────────────────────────────────────────────

func (h *Handler) handleAuthRequest(peer *domain.Peer) {
	h.send(peer.ID, domain.Message{
		"type":      domain.TypeAuthChallenge,
		"challenge": h.auth.Challenge(peer.ID),
	})
}

func (h *Handler) handleAuthResponse(peer *domain.Peer, msg domain.Message) {
	err := h.auth.VerifyResponse(peer.ID, msg.String("challenge"), msg.String("response"))
	success := err == nil

	if success {
		peer.SetAuthenticated(true)
		peer.AdjustReputation(trust.RewardAuthenticated)
		metrics.AuthAttempts.WithLabelValues("success").Inc()
		h.record(store.EventAuthSuccess, peer.ID, "")
		log.Printf("[signal] peer %s authenticated", peer.ID)
	} else {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		h.record(store.EventAuthFailure, peer.ID, err.Error())
	}

	h.send(peer.ID, domain.Message{"type": domain.TypeAuthResult, "success": success})
}

// ─── Announcements and matchmaking ──────────────────────────────────────────

func (h *Handler) handleHelperAvailable(peer *domain.Peer, msg domain.Message) {
	country := validate.SanitizeCountry(msg.String("country"))
	bandwidth, ok := msg.Number("bandwidth")
	if !ok {
		bandwidth = 0
	}

	if err := h.registry.SetRole(peer.ID, domain.RoleHelper, country, bandwidth); err != nil {
		return // peer vanished mid-message
	}
	h.syncRoleGauges()
	h.record(store.EventHelperChange, peer.ID, country)
	log.Printf("[signal] helper %s available from %q", peer.ID, validate.SanitizeLog(country))

	h.send(peer.ID, domain.Message{
		"type":         domain.TypeHelperRegistered,
		"helper_count": h.registry.HelperCount(),
	})
}

func (h *Handler) handleRequestHelp(peer *domain.Peer, msg domain.Message) {
	country := validate.SanitizeCountry(msg.String("country"))
	if err := h.registry.SetRole(peer.ID, domain.RoleClient, country, 0); err != nil {
		return
	}
	h.syncRoleGauges()
	log.Printf("[signal] client %s requesting help from %q", peer.ID, validate.SanitizeLog(country))

	helper := h.matcher.FindBestHelper(peer)
	if helper == nil {
		metrics.MatchesFailed.Inc()
		h.record(store.EventMatchFailed, peer.ID, "")
		h.send(peer.ID, domain.Message{
			"type":    domain.TypeNoHelperAvailable,
			"message": "No helpers currently available",
		})
		return
	}

	h.send(helper.ID, domain.Message{
		"type":           domain.TypeHelperRequest,
		"from":           peer.ID,
		"client_country": country,
	})
	h.send(peer.ID, domain.Message{
		"type":           domain.TypeHelperFound,
		"helper_id":      helper.ID,
		"helper_country": helper.Country(),
	})

	metrics.MatchesMade.Inc()
	h.record(store.EventMatch, peer.ID, helper.ID)
}

// ─── Relay ──────────────────────────────────────────────────────────────────

// relay forwards an offer/answer/candidate frame to its named target.
// Both ends must be trusted; every failure is a silent drop so a sender
// can never probe which peer ids exist.
func (h *Handler) relay(peer *domain.Peer, msg domain.Message, payloadKey string) {
	targetID := msg.String("to")
	if !validate.ValidUUID(targetID) {
		return
	}

	target, ok := h.registry.Get(targetID)
	if !ok {
		return
	}
	if !peer.IsTrusted() || !target.IsTrusted() {
		metrics.SecurityViolations.WithLabelValues("untrusted_relay").Inc()
		h.record(store.EventViolation, peer.ID, "untrusted_relay")
		log.Printf("[signal] untrusted relay attempt: %s -> %s", peer.ID, targetID)
		return
	}

	h.send(targetID, domain.Message{
		"type":     msg.Type(),
		"from":     peer.ID,
		payloadKey: msg[payloadKey],
	})
	metrics.MessagesRelayed.WithLabelValues(msg.Type()).Inc()
}

// ─── Plumbing ───────────────────────────────────────────────────────────────

// keepalive pings the transport until done closes. Control frames may
// be written concurrently with the registry's data frames.
func (h *Handler) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.PongWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (h *Handler) send(peerID string, msg domain.Message) {
	if err := h.registry.Send(peerID, msg); err != nil && !errors.Is(err, domain.ErrPeerNotFound) {
		log.Printf("[signal] send %s to %s: %v", msg.Type(), peerID, err)
	}
}

func (h *Handler) record(kind, peerID, detail string) {
	if h.journal == nil {
		return
	}
	if err := h.journal.Append(kind, peerID, detail); err != nil {
		log.Printf("[signal] journal %s: %v", kind, err)
	}
}

func (h *Handler) syncRoleGauges() {
	metrics.HelpersAvailable.Set(float64(h.registry.HelperCount()))
	metrics.ClientsWaiting.Set(float64(h.registry.ClientCount()))
}

// unixNow is the wall clock in seconds as JSON-friendly float.
func unixNow() float64 {
	return float64(time.Now().UnixMilli()) / 1000
}
