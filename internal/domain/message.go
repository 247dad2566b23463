package domain

// Message is one decoded signaling frame: a flat key-value structure
// with a mandatory "type" field. Relay payloads (offer/answer/candidate)
// stay opaque — they pass through untouched, so the map keeps whatever
// JSON value the sender put there.
type Message map[string]any

// Inbound message types a peer may send.
const (
	TypeHelperAvailable = "helper_available"
	TypeRequestHelp     = "request_help"
	TypeOffer           = "offer"
	TypeAnswer          = "answer"
	TypeICECandidate    = "ice_candidate"
	TypePing            = "ping"
	TypeAuthRequest     = "auth_request"
	TypeAuthResponse    = "auth_response"
)

// Outbound message types the server sends.
const (
	TypeWelcome           = "welcome"
	TypeAuthChallenge     = "auth_challenge"
	TypeAuthResult        = "auth_result"
	TypeAuthRequired      = "auth_required"
	TypeHelperRegistered  = "helper_registered"
	TypeHelperFound       = "helper_found"
	TypeHelperRequest     = "helper_request"
	TypeNoHelperAvailable = "no_helper_available"
	TypePong              = "pong"
)

// Type returns the message's type field, or "" if absent or not a string.
func (m Message) Type() string {
	t, _ := m["type"].(string)
	return t
}

// String returns the named field as a string, or "" if absent or of
// another type.
func (m Message) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Number returns the named field as a float64 (JSON's numeric type),
// with ok reporting whether it was present and numeric.
func (m Message) Number(key string) (float64, bool) {
	n, ok := m[key].(float64)
	return n, ok
}
