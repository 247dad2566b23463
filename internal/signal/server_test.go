package signal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lumen-network/lumen/internal/domain"
	"github.com/lumen-network/lumen/internal/registry"
	"github.com/lumen-network/lumen/internal/trust"
)

// ─── Test Harness ───────────────────────────────────────────────────────────

type testEnv struct {
	ts  *httptest.Server
	reg *registry.Registry
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	// All test clients dial from 127.0.0.1, so admission limiting
	// needs headroom unless a test exercises it on purpose.
	if cfg.ConnectionRate == 0 {
		cfg.ConnectionRate = 100
	}
	reg := registry.New()
	auth := trust.NewAuthenticator([]byte("test-challenge-key"), time.Minute)
	h := NewHandler(cfg, reg, auth, nil)
	srv := NewServer(h, reg, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, reg: reg}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMsg(t *testing.T, conn *websocket.Conn, msg domain.Message) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON(%v) error: %v", msg, err)
	}
}

func readMsg(t *testing.T, conn *websocket.Conn) domain.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error: %v", err)
	}
	var msg domain.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("Unmarshal(%q) error: %v", raw, err)
	}
	return msg
}

// expectSilence asserts no frame arrives within the wait.
func expectSilence(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(wait))
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no message, got %q", raw)
	}
}

// connect dials and consumes the welcome frame, returning the
// connection and the assigned peer id.
func (e *testEnv) connect(t *testing.T) (*websocket.Conn, string) {
	t.Helper()
	conn := e.dial(t)
	welcome := readMsg(t, conn)
	if got := welcome.Type(); got != domain.TypeWelcome {
		t.Fatalf("first frame type = %q, want %q", got, domain.TypeWelcome)
	}
	id := welcome.String("peer_id")
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("welcome peer_id %q is not a UUID: %v", id, err)
	}
	return conn, id
}

// authenticate runs the challenge handshake to completion.
func authenticate(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendMsg(t, conn, domain.Message{"type": domain.TypeAuthRequest})
	chal := readMsg(t, conn)
	if got := chal.Type(); got != domain.TypeAuthChallenge {
		t.Fatalf("reply type = %q, want %q", got, domain.TypeAuthChallenge)
	}
	challenge := chal.String("challenge")
	sendMsg(t, conn, domain.Message{
		"type":      domain.TypeAuthResponse,
		"challenge": challenge,
		"response":  trust.ExpectedResponse(challenge),
	})
	result := readMsg(t, conn)
	if got := result.Type(); got != domain.TypeAuthResult {
		t.Fatalf("reply type = %q, want %q", got, domain.TypeAuthResult)
	}
	if ok, _ := result["success"].(bool); !ok {
		t.Fatalf("auth_result success = %v, want true", result["success"])
	}
}

// ─── Connection Lifecycle ───────────────────────────────────────────────────

func TestWelcomeFrame(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := env.dial(t)

	welcome := readMsg(t, conn)
	if got := welcome.Type(); got != domain.TypeWelcome {
		t.Errorf("type = %q, want %q", got, domain.TypeWelcome)
	}
	if size, ok := welcome.Number("max_message_size"); !ok || size != 8192 {
		t.Errorf("max_message_size = %v, want 8192", welcome["max_message_size"])
	}
	if _, ok := welcome.Number("server_time"); !ok {
		t.Error("welcome missing server_time")
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn, id := env.connect(t)

	if _, ok := env.reg.Get(id); !ok {
		t.Fatal("peer not registered after welcome")
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for env.reg.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("peer still registered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ─── Authentication ─────────────────────────────────────────────────────────

func TestAuthHandshake(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn, id := env.connect(t)

	authenticate(t, conn)

	peer, ok := env.reg.Get(id)
	if !ok {
		t.Fatal("peer gone after auth")
	}
	if !peer.Authenticated() {
		t.Error("peer should be authenticated")
	}
	if !peer.IsTrusted() {
		t.Errorf("reputation = %d, peer should be trusted after auth reward", peer.Reputation())
	}
}

func TestAuthHandshake_WrongResponse(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn, id := env.connect(t)

	sendMsg(t, conn, domain.Message{"type": domain.TypeAuthRequest})
	chal := readMsg(t, conn)
	sendMsg(t, conn, domain.Message{
		"type":      domain.TypeAuthResponse,
		"challenge": chal.String("challenge"),
		"response":  "guessed",
	})

	result := readMsg(t, conn)
	if ok, _ := result["success"].(bool); ok {
		t.Error("auth_result success = true for wrong response")
	}
	peer, _ := env.reg.Get(id)
	if peer.Authenticated() {
		t.Error("peer should not be authenticated")
	}
}

func TestUnauthenticatedOperationRejected(t *testing.T) {
	env := newTestEnv(t, Config{})
	sender, _ := env.connect(t)
	target, targetID := env.connect(t)
	authenticate(t, target)

	sendMsg(t, sender, domain.Message{
		"type":  domain.TypeOffer,
		"to":    targetID,
		"offer": map[string]any{"sdp": "v=0"},
	})

	reply := readMsg(t, sender)
	if got := reply.Type(); got != domain.TypeAuthRequired {
		t.Errorf("reply type = %q, want %q", got, domain.TypeAuthRequired)
	}
	expectSilence(t, target, 300*time.Millisecond)
}

func TestPingWithoutAuth(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn, _ := env.connect(t)

	sendMsg(t, conn, domain.Message{"type": domain.TypePing})
	reply := readMsg(t, conn)
	if got := reply.Type(); got != domain.TypePong {
		t.Errorf("reply type = %q, want %q", got, domain.TypePong)
	}
	if _, ok := reply.Number("timestamp"); !ok {
		t.Error("pong missing timestamp")
	}
}

// ─── Matchmaking ────────────────────────────────────────────────────────────

func TestHelperMatchFlow(t *testing.T) {
	env := newTestEnv(t, Config{})

	helper, helperID := env.connect(t)
	authenticate(t, helper)
	sendMsg(t, helper, domain.Message{
		"type":      domain.TypeHelperAvailable,
		"country":   "de",
		"bandwidth": 500,
	})
	reg := readMsg(t, helper)
	if got := reg.Type(); got != domain.TypeHelperRegistered {
		t.Fatalf("reply type = %q, want %q", got, domain.TypeHelperRegistered)
	}
	if n, _ := reg.Number("helper_count"); n != 1 {
		t.Errorf("helper_count = %v, want 1", reg["helper_count"])
	}

	client, clientID := env.connect(t)
	authenticate(t, client)
	sendMsg(t, client, domain.Message{"type": domain.TypeRequestHelp, "country": "us"})

	found := readMsg(t, client)
	if got := found.Type(); got != domain.TypeHelperFound {
		t.Fatalf("reply type = %q, want %q", got, domain.TypeHelperFound)
	}
	if got := found.String("helper_id"); got != helperID {
		t.Errorf("helper_id = %q, want %q", got, helperID)
	}
	if got := found.String("helper_country"); got != "de" {
		t.Errorf("helper_country = %q, want %q", got, "de")
	}

	req := readMsg(t, helper)
	if got := req.Type(); got != domain.TypeHelperRequest {
		t.Fatalf("helper side frame type = %q, want %q", got, domain.TypeHelperRequest)
	}
	if got := req.String("from"); got != clientID {
		t.Errorf("from = %q, want %q", got, clientID)
	}
	if got := req.String("client_country"); got != "us" {
		t.Errorf("client_country = %q, want %q", got, "us")
	}
}

func TestRequestHelp_NoHelpers(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn, _ := env.connect(t)
	authenticate(t, conn)

	sendMsg(t, conn, domain.Message{"type": domain.TypeRequestHelp, "country": "us"})
	reply := readMsg(t, conn)
	if got := reply.Type(); got != domain.TypeNoHelperAvailable {
		t.Errorf("reply type = %q, want %q", got, domain.TypeNoHelperAvailable)
	}
}

// ─── Relay ──────────────────────────────────────────────────────────────────

func TestNegotiationExchange(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice, aliceID := env.connect(t)
	bob, bobID := env.connect(t)
	authenticate(t, alice)
	authenticate(t, bob)

	sendMsg(t, alice, domain.Message{
		"type":  domain.TypeOffer,
		"to":    bobID,
		"offer": map[string]any{"sdp": "v=0\r\no=- 42", "type": "offer"},
	})
	offer := readMsg(t, bob)
	if got := offer.Type(); got != domain.TypeOffer {
		t.Fatalf("frame type = %q, want %q", got, domain.TypeOffer)
	}
	if got := offer.String("from"); got != aliceID {
		t.Errorf("from = %q, want %q", got, aliceID)
	}
	payload, ok := offer["offer"].(map[string]any)
	if !ok {
		t.Fatalf("offer payload = %T, want object", offer["offer"])
	}
	if got := payload["sdp"]; got != "v=0\r\no=- 42" {
		t.Errorf("sdp = %q, payload not preserved", got)
	}

	sendMsg(t, bob, domain.Message{
		"type":   domain.TypeAnswer,
		"to":     aliceID,
		"answer": map[string]any{"sdp": "v=0", "type": "answer"},
	})
	answer := readMsg(t, alice)
	if got := answer.Type(); got != domain.TypeAnswer {
		t.Fatalf("frame type = %q, want %q", got, domain.TypeAnswer)
	}
	if got := answer.String("from"); got != bobID {
		t.Errorf("from = %q, want %q", got, bobID)
	}

	sendMsg(t, alice, domain.Message{
		"type":      domain.TypeICECandidate,
		"to":        bobID,
		"candidate": map[string]any{"candidate": "candidate:1 1 udp 2130706431 10.0.0.1 54321 typ host"},
	})
	cand := readMsg(t, bob)
	if got := cand.Type(); got != domain.TypeICECandidate {
		t.Fatalf("frame type = %q, want %q", got, domain.TypeICECandidate)
	}
	if _, ok := cand["candidate"].(map[string]any); !ok {
		t.Errorf("candidate payload = %T, want object", cand["candidate"])
	}
}

func TestRelayToUntrustedTarget(t *testing.T) {
	env := newTestEnv(t, Config{})
	sender, _ := env.connect(t)
	target, targetID := env.connect(t)
	authenticate(t, sender)
	// target never authenticates: not trusted

	sendMsg(t, sender, domain.Message{
		"type":  domain.TypeOffer,
		"to":    targetID,
		"offer": map[string]any{"sdp": "v=0"},
	})

	expectSilence(t, target, 300*time.Millisecond)
	expectSilence(t, sender, 100*time.Millisecond)
}

func TestRelayToUnknownPeer(t *testing.T) {
	env := newTestEnv(t, Config{})
	sender, _ := env.connect(t)
	authenticate(t, sender)

	sendMsg(t, sender, domain.Message{
		"type":  domain.TypeOffer,
		"to":    uuid.NewString(),
		"offer": map[string]any{"sdp": "v=0"},
	})

	// Silent drop: the next frame the sender sees must be the pong for
	// the ping below, not an error or reply for the offer.
	sendMsg(t, sender, domain.Message{"type": domain.TypePing})
	if got := readMsg(t, sender).Type(); got != domain.TypePong {
		t.Errorf("next frame type = %q, want %q", got, domain.TypePong)
	}
}

// ─── Abuse Handling ─────────────────────────────────────────────────────────

func TestMessageRateLimitDisconnects(t *testing.T) {
	env := newTestEnv(t, Config{MessageRate: 5, MessageWindow: time.Minute})
	conn, id := env.connect(t)

	peer, ok := env.reg.Get(id)
	if !ok {
		t.Fatal("peer not registered")
	}

	for i := 0; i < 5; i++ {
		sendMsg(t, conn, domain.Message{"type": domain.TypePing})
		if got := readMsg(t, conn).Type(); got != domain.TypePong {
			t.Fatalf("ping %d reply type = %q, want %q", i+1, got, domain.TypePong)
		}
	}

	// The next frame trips the limiter; the server tears the
	// connection down without a reply.
	sendMsg(t, conn, domain.Message{"type": domain.TypePing})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection close after rate limit")
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.reg.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("peer still registered after rate-limit teardown")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := peer.Reputation(); got != domain.ReputationInitial+trust.PenaltyRateLimit {
		t.Errorf("reputation = %d, want %d", got, domain.ReputationInitial+trust.PenaltyRateLimit)
	}
}

func TestMalformedFrameSurvivable(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn, id := env.connect(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage() error: %v", err)
	}
	sendMsg(t, conn, domain.Message{"type": domain.TypePing})
	if got := readMsg(t, conn).Type(); got != domain.TypePong {
		t.Errorf("reply type = %q, want %q", got, domain.TypePong)
	}

	peer, _ := env.reg.Get(id)
	if got := peer.Reputation(); got != domain.ReputationInitial+trust.PenaltyMalformedFrame {
		t.Errorf("reputation = %d, want %d", got, domain.ReputationInitial+trust.PenaltyMalformedFrame)
	}
}

func TestInvalidMessagePenalized(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn, id := env.connect(t)

	sendMsg(t, conn, domain.Message{"type": "shutdown_server"})
	sendMsg(t, conn, domain.Message{"type": domain.TypePing})
	if got := readMsg(t, conn).Type(); got != domain.TypePong {
		t.Errorf("reply type = %q, want %q", got, domain.TypePong)
	}

	peer, _ := env.reg.Get(id)
	if got := peer.Reputation(); got != domain.ReputationInitial+trust.PenaltyInvalidMessage {
		t.Errorf("reputation = %d, want %d", got, domain.ReputationInitial+trust.PenaltyInvalidMessage)
	}
}

func TestConnectionAdmissionLimit(t *testing.T) {
	env := newTestEnv(t, Config{ConnectionRate: 2, ConnectionWindow: time.Minute})

	env.connect(t)
	env.connect(t)

	third := env.dial(t)
	third.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := third.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("third connection read error = %v, want close code 1008", err)
	}
}

// ─── HTTP Surface ───────────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp, err := http.Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want %q", body["status"], "ok")
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn, _ := env.connect(t)
	authenticate(t, conn)
	sendMsg(t, conn, domain.Message{"type": domain.TypeHelperAvailable, "country": "fr", "bandwidth": 100})
	readMsg(t, conn) // helper_registered

	resp, err := http.Get(env.ts.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats error: %v", err)
	}
	defer resp.Body.Close()
	var stats map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got := stats["total_peers"]; got != float64(1) {
		t.Errorf("total_peers = %v, want 1", got)
	}
	if got := stats["helpers"]; got != float64(1) {
		t.Errorf("helpers = %v, want 1", got)
	}
}
