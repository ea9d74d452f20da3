package templates

// ClaimRow is one row of the common claims or token header table.
type ClaimRow struct {
	Label string
	Value string
}

// TimestampRow is one row of the token claims table.
type TimestampRow struct {
	Label string
	Unix  int64
	Local string
}

// TokenView is the display data for the stored access token.
type TokenView struct {
	AccessToken string

	// Decoded is false for tokens that are not JWTs; only AccessToken is shown then.
	Decoded         bool
	ClaimsError     string // replaces both claim tables when set
	IdentityClaims  []ClaimRow
	TimestampClaims []TimestampRow
	DecodedPayload  string
	HeaderRows      []ClaimRow
}

// Page is the data for the index page.
type Page struct {
	Title     string
	LoginURL  string
	LogoutURL string
	Token     *TokenView // nil without a session
}

// LoggedIn reports whether the page is rendered for an active session.
func (p Page) LoggedIn() bool {
	return p.Token != nil
}
