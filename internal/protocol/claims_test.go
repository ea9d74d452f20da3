package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodePayload(t *testing.T, payload string) any {
	t.Helper()
	dt, ok := DecodeJWT(rawToken(encodeSegment(payload)))
	require.True(t, ok)
	require.Nil(t, dt.Err)
	return dt.Payload
}

func TestClaimFormatter_Extract(t *testing.T) {
	f := NewClaimFormatter(time.UTC)

	claims, err := f.Extract(decodePayload(t, `{"sub":"u1","iat":1700000000,"exp":1700003600}`))
	require.NoError(t, err)

	require.Len(t, claims.Identity, 1)
	assert.Equal(t, IdentityClaim{Key: "sub", Label: "sub (Subject)", Value: "u1"}, claims.Identity[0])

	require.Len(t, claims.Timestamps, 2)
	assert.Equal(t, TimestampClaim{
		Key:   "iat",
		Label: "iat (Issued At)",
		Unix:  1700000000,
		Local: "2023-11-14 22:13:20",
	}, claims.Timestamps[0])
	assert.Equal(t, TimestampClaim{
		Key:   "exp",
		Label: "exp (Expiration Time)",
		Unix:  1700003600,
		Local: "2023-11-14 23:13:20",
	}, claims.Timestamps[1])
}

func TestClaimFormatter_AllClaimsInOrder(t *testing.T) {
	f := NewClaimFormatter(time.UTC)
	claims, err := f.Extract(decodePayload(t, `{
		"preferred_username":"jdoe","name":"Jane Doe","email":"jane@example.com",
		"scope":"openid email","jti":"id-1","azp":"client","aud":"api",
		"iss":"https://idp.example.com","sub":"u1",
		"auth_time":1699999990,"exp":1700003600,"iat":1700000000
	}`))
	require.NoError(t, err)

	var keys []string
	for _, c := range claims.Identity {
		keys = append(keys, c.Key)
	}
	assert.Equal(t, []string{"sub", "iss", "aud", "azp", "jti", "scope", "email", "name", "preferred_username"}, keys)

	keys = nil
	for _, c := range claims.Timestamps {
		keys = append(keys, c.Key)
	}
	assert.Equal(t, []string{"iat", "exp", "auth_time"}, keys)
}

func TestClaimFormatter_TypeMismatchOmitted(t *testing.T) {
	f := NewClaimFormatter(time.UTC)
	claims, err := f.Extract(decodePayload(t, `{
		"sub":123,"aud":["a","b"],"email":null,"name":{"given":"x"},
		"iat":"1700000000","exp":1.5,"auth_time":true
	}`))
	require.NoError(t, err)

	assert.Empty(t, claims.Identity)
	require.Len(t, claims.Timestamps, 1, "numeric strings are accepted as timestamps")
	assert.Equal(t, "iat", claims.Timestamps[0].Key)
	assert.Equal(t, int64(1700000000), claims.Timestamps[0].Unix)
}

func TestClaimFormatter_EmptyObject(t *testing.T) {
	claims, err := NewClaimFormatter(time.UTC).Extract(decodePayload(t, `{}`))
	require.NoError(t, err)
	assert.Empty(t, claims.Identity)
	assert.Empty(t, claims.Timestamps)
}

func TestClaimFormatter_NotObject(t *testing.T) {
	f := NewClaimFormatter(time.UTC)
	for _, p := range []string{`[1,2]`, `"str"`, `42`, `null`} {
		_, err := f.Extract(decodePayload(t, p))
		assert.ErrorIs(t, err, ErrPayloadNotObject, "payload %s", p)
	}
	_, err := f.Extract(nil)
	assert.ErrorIs(t, err, ErrPayloadNotObject)
}

func TestClaimFormatter_Location(t *testing.T) {
	assert.Equal(t, time.Local, NewClaimFormatter(nil).Location())

	jst := time.FixedZone("JST", 9*60*60)
	f := NewClaimFormatter(jst)
	assert.Equal(t, jst, f.Location())
	assert.Equal(t, "2023-11-15 07:13:20", f.FormatTimestamp(1700000000))

	loc := time.FixedZone("UTC-5", -5*60*60)
	assert.Equal(t, "2023-11-14 17:13:20", NewClaimFormatter(loc).FormatTimestamp(1700000000))
	assert.Equal(t, "1970-01-01 00:00:00", NewClaimFormatter(time.UTC).FormatTimestamp(0))
}

func TestClaimFormatter_NonIntegerTimestamps(t *testing.T) {
	claims, err := NewClaimFormatter(time.UTC).Extract(map[string]any{
		"iat":       json.Number("1700000000"),
		"exp":       json.Number("1.5"),
		"auth_time": float64(1700000000),
	})
	require.NoError(t, err)
	require.Len(t, claims.Timestamps, 1)
	assert.Equal(t, "iat", claims.Timestamps[0].Key)
	assert.Equal(t, "2023-11-14 22:13:20", claims.Timestamps[0].Local)
}
