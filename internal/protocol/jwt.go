package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/go-jose/go-jose/v4"
	"github.com/tidwall/pretty"
)

// DecodeStage names the step of payload decoding that failed.
type DecodeStage string

const (
	StageBase64 DecodeStage = "base64url"
	StageUTF8   DecodeStage = "utf-8"
	StageJSON   DecodeStage = "json"
)

// ErrSegmentLength is returned for base64url segments whose length mod 4 is 1,
// which no amount of padding can repair.
var ErrSegmentLength = errors.New("invalid base64url segment length")

var errInvalidUTF8 = errors.New("payload is not valid UTF-8")

// DecodeError records the stage at which payload decoding stopped.
type DecodeError struct {
	Stage DecodeStage
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodedToken is the display form of a compact JWT's payload.
type DecodedToken struct {
	Raw      string
	Segments []string

	// PayloadText is the best available text for the payload: the decoded
	// JSON text, or the raw segment when an earlier stage failed.
	PayloadText string

	// Payload is the parsed JSON value (map[string]any for objects, numbers
	// as json.Number). Nil when JSON parsing was not reached or failed; it
	// may be set alongside a StageUTF8 Err.
	Payload any

	// Pretty is the indented JSON, or PayloadText when parsing failed.
	Pretty string

	// Err is the first stage that failed, if any.
	Err *DecodeError
}

// IsJWT returns true if the string has the 3-part JWT structure.
func IsJWT(s string) bool {
	return strings.Count(s, ".") == 2
}

// SplitJWT splits a compact token on ".". ok is false when the token has
// fewer than two segments and therefore carries no payload.
func SplitJWT(token string) (segments []string, ok bool) {
	segments = strings.Split(token, ".")
	return segments, len(segments) >= 2
}

// Base64Padding returns the "=" padding required for a base64 string of length n.
func Base64Padding(n int) string {
	return strings.Repeat("=", (4-n%4)%4)
}

// DecodeSegment base64url-decodes a JWT segment, tolerating missing padding.
func DecodeSegment(seg string) ([]byte, error) {
	seg = strings.TrimRight(seg, "=")
	if len(seg)%4 == 1 {
		return nil, ErrSegmentLength
	}
	return base64.URLEncoding.DecodeString(seg + Base64Padding(len(seg)))
}

// DecodeJWT decodes the payload segment of a compact token. It returns
// (nil, false) when the token has fewer than two segments. Otherwise it
// always returns a DecodedToken; failures are recorded in its Err field and
// the display fields fall back to the most decoded text available.
func DecodeJWT(token string) (*DecodedToken, bool) {
	segments, ok := SplitJWT(token)
	if !ok {
		return nil, false
	}
	dt := &DecodedToken{Raw: token, Segments: segments}

	seg := segments[1]
	b, err := DecodeSegment(seg)
	if err != nil {
		dt.fallback(seg, StageBase64, err)
		return dt, true
	}

	// Invalid UTF-8 is recorded but not fatal: the replaced text still goes
	// through JSON parsing.
	text := string(b)
	if !utf8.Valid(b) {
		text = strings.ToValidUTF8(text, "\uFFFD")
		dt.Err = &DecodeError{Stage: StageUTF8, Err: errInvalidUTF8}
	}

	v, err := parseJSON([]byte(text))
	if err != nil {
		dt.fallback(text, StageJSON, err)
		return dt, true
	}

	dt.PayloadText = text
	dt.Payload = v
	dt.Pretty = PrettyJSON([]byte(text))
	return dt, true
}

// fallback sets the display text and records err unless an earlier stage already failed.
func (dt *DecodedToken) fallback(text string, stage DecodeStage, err error) {
	dt.PayloadText = text
	dt.Pretty = text
	if dt.Err == nil {
		dt.Err = &DecodeError{Stage: stage, Err: err}
	}
}

// parseJSON parses exactly one JSON value, keeping numbers as json.Number.
func parseJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON value")
	}
	return v, nil
}

// PrettyJSON indents valid JSON with two spaces, preserving key order.
// Invalid JSON is returned unchanged.
func PrettyJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if !json.Valid(data) {
		return string(data)
	}
	out := pretty.PrettyOptions(data, &pretty.Options{Width: 80, Indent: "  "})
	return strings.TrimRight(string(out), "\n")
}

// JWTHeaderInfo holds the display fields of a JWS protected header.
type JWTHeaderInfo struct {
	Algorithm string
	KeyID     string
	Type      string
}

var headerAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
}

// ExtractJWTHeaderInfo parses the protected header of a compact JWS without
// verifying it. It returns nil for anything that is not a parseable JWS.
func ExtractJWTHeaderInfo(token string) *JWTHeaderInfo {
	if !IsJWT(token) {
		return nil
	}
	jws, err := jose.ParseSigned(token, headerAlgorithms)
	if err != nil || len(jws.Signatures) == 0 {
		return nil
	}
	h := jws.Signatures[0].Protected
	info := &JWTHeaderInfo{
		Algorithm: h.Algorithm,
		KeyID:     h.KeyID,
	}
	if typ, ok := h.ExtraHeaders[jose.HeaderType].(string); ok {
		info.Type = typ
	}
	return info
}
