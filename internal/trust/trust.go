// Package trust holds the reputation penalty schedule and the
// challenge-response authenticator.
//
// The handshake is anti-automation, not identity verification: the
// response transform is publicly computable, but every challenge
// carries an HMAC tag keyed by this server's identity, so challenges
// cannot be minted offline, replayed for another peer, or reused after
// their TTL.
package trust

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lumen-network/lumen/internal/domain"
)

// Reputation deltas applied by the protocol handler. The ledger itself
// stays policy-free; the handler decides when each applies.
const (
	PenaltyRateLimit      = -10
	PenaltyInvalidMessage = -5
	PenaltyMalformedFrame = -2
	PenaltyUnknownType    = -1
	RewardAuthenticated   = 10
)

// DefaultChallengeTTL bounds how long an issued challenge stays
// answerable.
const DefaultChallengeTTL = 5 * time.Minute

// peerIDPrefixLen is how much of the peer id a challenge is bound to.
const peerIDPrefixLen = 8

// Authenticator issues and verifies auth challenges. Verification is
// stateless: everything needed is recomputed from the challenge string
// and the server key.
type Authenticator struct {
	key []byte
	ttl time.Duration

	now func() time.Time // injectable for tests
}

// NewAuthenticator creates an Authenticator with the given HMAC key.
// A non-positive ttl falls back to DefaultChallengeTTL.
func NewAuthenticator(key []byte, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &Authenticator{key: key, ttl: ttl, now: time.Now}
}

// Challenge issues a challenge bound to the current time and the peer's
// identifier prefix: "challenge-<unix>-<prefix>-<tag>".
func (a *Authenticator) Challenge(peerID string) string {
	ts := a.now().Unix()
	prefix := idPrefix(peerID)
	return fmt.Sprintf("challenge-%d-%s-%s", ts, prefix, a.tag(ts, prefix))
}

// ExpectedResponse is the deterministic transform a peer applies to its
// challenge. Any holder of the challenge can compute it; the secrecy
// lives in the challenge tag, not the transform.
func ExpectedResponse(challenge string) string {
	return "lumen-" + challenge + "-verified"
}

// VerifyResponse checks that challenge was issued by this server for
// this peer, is still fresh, and that response is the correct
// transform of it.
func (a *Authenticator) VerifyResponse(peerID, challenge, response string) error {
	if challenge == "" || response == "" {
		return domain.ErrChallengeInvalid
	}

	parts := strings.Split(challenge, "-")
	if len(parts) != 4 || parts[0] != "challenge" {
		return domain.ErrChallengeInvalid
	}

	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return domain.ErrChallengeInvalid
	}
	prefix := parts[2]
	if prefix != idPrefix(peerID) {
		return domain.ErrChallengeInvalid
	}
	if !hmac.Equal([]byte(parts[3]), []byte(a.tag(ts, prefix))) {
		return domain.ErrChallengeInvalid
	}

	age := a.now().Unix() - ts
	if age < 0 || age > int64(a.ttl.Seconds()) {
		return domain.ErrChallengeExpired
	}

	if response != ExpectedResponse(challenge) {
		return domain.ErrNotAuthenticated
	}
	return nil
}

// tag computes the truncated HMAC binding a timestamp and id prefix.
func (a *Authenticator) tag(ts int64, prefix string) string {
	mac := hmac.New(sha256.New, a.key)
	fmt.Fprintf(mac, "%d|%s", ts, prefix)
	return hex.EncodeToString(mac.Sum(nil))[:16]
}

func idPrefix(peerID string) string {
	if len(peerID) < peerIDPrefixLen {
		return peerID
	}
	return peerID[:peerIDPrefixLen]
}
