package oauth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/wadahiro/authtester/internal/config"
	"github.com/wadahiro/authtester/internal/protocol"
	"github.com/wadahiro/authtester/internal/ui/templates"
)

// Handler serves the login flow and the token diagnostic page.
type Handler struct {
	Config    config.OAuthConfig
	client    *Client
	sessions  *SessionStore
	formatter *protocol.ClaimFormatter
}

// NewHandler wires a handler for cfg. The client must have been built from the same cfg.
func NewHandler(cfg config.OAuthConfig, client *Client, formatter *protocol.ClaimFormatter) *Handler {
	return &Handler{
		Config:    cfg,
		client:    client,
		sessions:  NewSessionStore(),
		formatter: formatter,
	}
}

// Sessions returns the handler's session store.
func (h *Handler) Sessions() *SessionStore {
	return h.sessions
}

// RegisterRoutes registers the page and flow handlers on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /login", h.handleLogin)
	mux.HandleFunc("GET "+h.Config.CallbackPath, h.handleCallback)
	mux.HandleFunc("GET /logout", h.handleLogout)
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	page := templates.Page{
		LoginURL:  "/login",
		LogoutURL: "/logout",
	}
	if session := h.sessions.Get(r); session != nil {
		page.Token = h.buildTokenView(session.AccessToken)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := templates.Index(page).Render(r.Context(), w); err != nil {
		slog.Error("Failed to render index page", "error", err)
	}
}

// buildTokenView decodes the stored token for display. Decode and claim
// extraction failures degrade the view; they never fail the page.
func (h *Handler) buildTokenView(accessToken string) *templates.TokenView {
	view := &templates.TokenView{AccessToken: accessToken}

	decoded, ok := protocol.DecodeJWT(accessToken)
	if !ok {
		return view
	}
	view.Decoded = true
	view.DecodedPayload = decoded.Pretty

	if decoded.Err != nil {
		slog.Debug("Access token payload decode degraded", "stage", decoded.Err.Stage, "error", decoded.Err.Err)
	}
	// A payload parsed after UTF-8 replacement still gets its claims shown.
	if decoded.Payload == nil && decoded.Err != nil {
		view.ClaimsError = decoded.Err.Error()
	} else if claims, err := h.formatter.Extract(decoded.Payload); err != nil {
		view.ClaimsError = err.Error()
	} else {
		view.IdentityClaims = buildClaimRows(claims.Identity)
		view.TimestampClaims = buildTimestampRows(claims.Timestamps)
	}

	if info := protocol.ExtractJWTHeaderInfo(accessToken); info != nil {
		view.HeaderRows = buildHeaderRows(info)
	}
	return view
}

func buildClaimRows(claims []protocol.IdentityClaim) []templates.ClaimRow {
	var rows []templates.ClaimRow
	for _, c := range claims {
		rows = append(rows, templates.ClaimRow{Label: c.Label, Value: c.Value})
	}
	return rows
}

func buildTimestampRows(claims []protocol.TimestampClaim) []templates.TimestampRow {
	var rows []templates.TimestampRow
	for _, c := range claims {
		rows = append(rows, templates.TimestampRow{Label: c.Label, Unix: c.Unix, Local: c.Local})
	}
	return rows
}

func buildHeaderRows(info *protocol.JWTHeaderInfo) []templates.ClaimRow {
	var rows []templates.ClaimRow
	pairs := []struct{ label, value string }{
		{"alg (Algorithm)", info.Algorithm},
		{"kid (Key ID)", info.KeyID},
		{"typ (Type)", info.Type},
	}
	for _, p := range pairs {
		if p.value != "" {
			rows = append(rows, templates.ClaimRow{Label: p.label, Value: p.value})
		}
	}
	return rows
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	// state is sent for providers that require it; the callback does not check it.
	state, err := protocol.RandomHex(16)
	if err != nil {
		slog.Error("Failed to generate state", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, h.client.AuthCodeURL(state), http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		errDesc := q.Get("error_description")
		slog.Warn("Authorization request failed", "error", errCode, "error_description", errDesc)
		msg := "Authorization failed: " + errCode
		if errDesc != "" {
			msg += " (" + errDesc + ")"
		}
		http.Error(w, msg, http.StatusUnauthorized)
		return
	}

	code := q.Get("code")
	if code == "" {
		// Unauthenticated hit on the callback starts the flow, as /login does.
		h.handleLogin(w, r)
		return
	}

	token, err := h.client.Exchange(r.Context(), code)
	if err != nil {
		attrs := []any{"error", err}
		var ee *ExchangeError
		if errors.As(err, &ee) {
			attrs = append(attrs, "kind", ee.Kind)
			if ee.StatusCode != 0 {
				attrs = append(attrs, "status", ee.StatusCode, "body", ee.Body)
			}
		}
		slog.Error("Token exchange failed", attrs...)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	if err := h.sessions.Create(w, r, &Session{AccessToken: token.AccessToken}); err != nil {
		slog.Error("Failed to create session", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	slog.Info("Session created",
		"token_type", token.TokenType,
		"token_length", len(token.AccessToken),
		"jwt", protocol.IsJWT(token.AccessToken))

	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w, r)
	http.Redirect(w, r, "/", http.StatusFound)
}
