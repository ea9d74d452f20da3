package protocol

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// ErrPayloadNotObject is returned when a token payload is valid JSON but not an object.
var ErrPayloadNotObject = errors.New("payload is not a JSON object")

// TimestampLayout is the display layout for timestamp claims.
const TimestampLayout = "2006-01-02 15:04:05"

// ClaimName pairs a claim key with its display label.
type ClaimName struct {
	Key   string
	Label string
}

// IdentityClaimNames lists the string claims shown in the common claims table, in display order.
var IdentityClaimNames = []ClaimName{
	{"sub", "sub (Subject)"},
	{"iss", "iss (Issuer)"},
	{"aud", "aud (Audience)"},
	{"azp", "azp (Authorized Party)"},
	{"jti", "jti (JWT ID)"},
	{"scope", "scope (Scope)"},
	{"email", "email (Email Address)"},
	{"name", "name (Full Name)"},
	{"preferred_username", "preferred_username (Preferred Username)"},
}

// TimestampClaimNames lists the Unix-seconds claims shown in the token claims table.
var TimestampClaimNames = []ClaimName{
	{"iat", "iat (Issued At)"},
	{"exp", "exp (Expiration Time)"},
	{"auth_time", "auth_time (Authentication Time)"},
}

// IdentityClaim is a string claim row.
type IdentityClaim struct {
	Key   string
	Label string
	Value string
}

// TimestampClaim is a timestamp claim row.
type TimestampClaim struct {
	Key   string
	Label string
	Unix  int64
	Local string // Unix formatted with TimestampLayout in the formatter's location
}

// Claims holds the claims found in a payload. Absent or mistyped claims are omitted.
type Claims struct {
	Identity   []IdentityClaim
	Timestamps []TimestampClaim
}

// ClaimFormatter extracts well-known claims from a decoded payload.
type ClaimFormatter struct {
	loc *time.Location
}

// NewClaimFormatter returns a formatter that renders timestamps in loc.
// A nil loc means the system local time zone.
func NewClaimFormatter(loc *time.Location) *ClaimFormatter {
	if loc == nil {
		loc = time.Local
	}
	return &ClaimFormatter{loc: loc}
}

// Location returns the display time zone.
func (f *ClaimFormatter) Location() *time.Location {
	return f.loc
}

// FormatTimestamp formats Unix epoch seconds in the formatter's location.
func (f *ClaimFormatter) FormatTimestamp(sec int64) string {
	return time.Unix(sec, 0).In(f.loc).Format(TimestampLayout)
}

// Extract reads the identity and timestamp claims from payload, which is
// expected to be the generic value produced by DecodeJWT.
func (f *ClaimFormatter) Extract(payload any) (*Claims, error) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, ErrPayloadNotObject
	}

	claims := &Claims{}
	for _, n := range IdentityClaimNames {
		if s, ok := stringClaim(obj, n.Key); ok {
			claims.Identity = append(claims.Identity, IdentityClaim{Key: n.Key, Label: n.Label, Value: s})
		}
	}
	for _, n := range TimestampClaimNames {
		if sec, ok := intClaim(obj, n.Key); ok {
			claims.Timestamps = append(claims.Timestamps, TimestampClaim{
				Key:   n.Key,
				Label: n.Label,
				Unix:  sec,
				Local: f.FormatTimestamp(sec),
			})
		}
	}
	return claims, nil
}

func stringClaim(obj map[string]any, key string) (string, bool) {
	s, ok := obj[key].(string)
	return s, ok
}

// intClaim accepts json.Number integers and strings holding a base-10 integer.
// Payloads come from DecodeJWT, which never produces float64.
func intClaim(obj map[string]any, key string) (int64, bool) {
	switch v := obj[key].(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
