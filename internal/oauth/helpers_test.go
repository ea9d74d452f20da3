package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/wadahiro/authtester/internal/config"
	"github.com/wadahiro/authtester/internal/protocol"
)

// recordedRequest is a token request as seen by the fake provider.
type recordedRequest struct {
	method string
	form   url.Values // query and body parameters combined
	query  url.Values
	header http.Header
}

// fakeProvider is an httptest authorization server with a scriptable token endpoint.
type fakeProvider struct {
	server *httptest.Server

	mu       sync.Mutex
	status   int
	body     string
	requests []recordedRequest
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{status: http.StatusOK, body: `{"access_token":"default-token","token_type":"Bearer"}`}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fp.mu.Lock()
		fp.requests = append(fp.requests, recordedRequest{
			method: r.Method,
			form:   r.Form,
			query:  r.URL.Query(),
			header: r.Header.Clone(),
		})
		status, body := fp.status, fp.body
		fp.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	})
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		base := fp.server.URL
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 base,
			"authorization_endpoint": base + "/discovered/authorize",
			"token_endpoint":         base + "/token",
			"jwks_uri":               base + "/jwks",
		})
	})

	fp.server = httptest.NewServer(mux)
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakeProvider) respond(status int, body string) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.status = status
	fp.body = body
}

func (fp *fakeProvider) respondToken(accessToken string) {
	b, _ := json.Marshal(map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
	fp.respond(http.StatusOK, string(b))
}

func (fp *fakeProvider) lastRequest(t *testing.T) recordedRequest {
	t.Helper()
	fp.mu.Lock()
	defer fp.mu.Unlock()
	require.NotEmpty(t, fp.requests, "token endpoint was not called")
	return fp.requests[len(fp.requests)-1]
}

func (fp *fakeProvider) requestCount() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return len(fp.requests)
}

func (fp *fakeProvider) oauthConfig() config.OAuthConfig {
	return config.OAuthConfig{
		AuthorizeURL:   fp.server.URL + "/authorize",
		AccessTokenURL: fp.server.URL + "/token",
		ClientID:       "test-client",
		ClientSecret:   "test-secret",
		DefaultScopes:  []string{"openid", "profile"},
		RequestMethod:  "POST",
		AuthStyle:      "params",
		CallbackURL:    "http://localhost:8080/callback",
		CallbackPath:   "/callback",
	}
}

func newTestClient(t *testing.T, cfg config.OAuthConfig, fp *fakeProvider) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), cfg, fp.server.Client())
	require.NoError(t, err)
	return client
}

// newTestMux builds a handler against fp and returns it with its routes mounted.
func newTestMux(t *testing.T, fp *fakeProvider, mutate func(*config.OAuthConfig)) (*Handler, *http.ServeMux) {
	t.Helper()
	cfg := fp.oauthConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := NewHandler(cfg, newTestClient(t, cfg, fp), protocol.NewClaimFormatter(time.UTC))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h, mux
}

func serve(mux http.Handler, target string, cookies ...*http.Cookie) *http.Response {
	r := httptest.NewRequest("GET", target, nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w.Result()
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	return nil
}

// mintToken signs claims with HS256 the way a provider would issue them.
func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = "k1"
	s, err := tok.SignedString([]byte("provider-secret"))
	require.NoError(t, err)
	return s
}

func tokenWithPayload(payload string) string {
	enc := base64.RawURLEncoding.EncodeToString
	return enc([]byte(`{"alg":"none"}`)) + "." + enc([]byte(payload)) + ".sig"
}
