// Package validate holds the stateless inbound-message rules and the
// string sanitizers used on every outbound frame and log line.
//
// Check is a pure function of the decoded frame. It never consults peer
// state; authentication gating lives in the protocol handler, which has
// that context. Callers apply reputation penalties on rejection.
package validate

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lumen-network/lumen/internal/domain"
)

// MaxFieldLength is the longest string any single field may carry.
const MaxFieldLength = 1024

// allowedTypes enumerates every message type a peer may send. Anything
// else fails closed.
var allowedTypes = map[string]bool{
	domain.TypeHelperAvailable: true,
	domain.TypeRequestHelp:     true,
	domain.TypeOffer:           true,
	domain.TypeAnswer:          true,
	domain.TypeICECandidate:    true,
	domain.TypePing:            true,
	domain.TypeAuthRequest:     true,
	domain.TypeAuthResponse:    true,
}

// Check validates a decoded inbound frame. It rejects frames with a
// missing or unknown type, oversize string fields, NUL/SUB control
// characters, and offers/answers without a UUID-shaped target.
func Check(m domain.Message) error {
	if m == nil {
		return domain.ErrInvalidMessage
	}

	mtype := m.Type()
	if mtype == "" {
		return fmt.Errorf("type field: %w", domain.ErrInvalidMessage)
	}
	if !allowedTypes[mtype] {
		return fmt.Errorf("%q: %w", mtype, domain.ErrUnknownType)
	}

	for key, value := range m {
		s, ok := value.(string)
		if !ok {
			continue
		}
		if len(s) > MaxFieldLength {
			return fmt.Errorf("field %q: %w", key, domain.ErrFieldTooLong)
		}
		if strings.ContainsAny(s, "\x00\x1a") {
			return fmt.Errorf("field %q: %w", key, domain.ErrForbiddenChars)
		}
	}

	if mtype == domain.TypeOffer || mtype == domain.TypeAnswer {
		if !ValidUUID(m.String("to")) {
			return fmt.Errorf("%s: %w", mtype, domain.ErrMissingTarget)
		}
	}

	return nil
}

// ValidUUID reports whether s is a canonical 8-4-4-4-12 UUID. Peer
// identifiers are always issued in this form, so anything else cannot
// name a peer.
func ValidUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// SanitizeField strips NUL/SUB and other non-printable control
// characters from a string field and truncates it to max runes.
// Applied to every outbound string before serialization.
func SanitizeField(s string, max int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f || r == 0x1a {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > max {
		out = out[:max]
	}
	return strings.TrimSpace(out)
}

// SanitizeCountry reduces a peer-supplied locale to a lowercase
// 2-letter tag, or "" when the input is not plain letters.
func SanitizeCountry(s string) string {
	if len(s) > 2 {
		s = s[:2]
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return ""
		}
	}
	return strings.ToLower(s)
}

// SanitizeLog makes a peer-supplied string safe to embed in a log line:
// no newlines, no NUL, bounded length.
func SanitizeLog(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\x00", "\\0")
	if len(s) > 1000 {
		s = s[:997] + "..."
	}
	return s
}
