package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"

	"github.com/wadahiro/authtester/internal/config"
	"github.com/wadahiro/authtester/internal/protocol"
)

const (
	discoveryAttempts = 10
	discoveryInterval = 2 * time.Second
)

// Client performs the authorization-code flow against a single provider.
type Client struct {
	oauth2Config *oauth2.Config
	httpClient   *http.Client
	method       string
}

// NewClient builds a client from cfg. When issuer is set and an endpoint URL
// is missing, the endpoints are resolved by OIDC discovery.
func NewClient(ctx context.Context, cfg config.OAuthConfig, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}

	endpoint := oauth2.Endpoint{
		AuthURL:   cfg.AuthorizeURL,
		TokenURL:  cfg.AccessTokenURL,
		AuthStyle: authStyle(cfg.AuthStyle),
	}
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		if cfg.Issuer == "" {
			return nil, errors.New("authorize_url and access_token_url are required without issuer")
		}
		discovered, err := discoverEndpoint(ctx, cfg.Issuer, httpClient)
		if err != nil {
			return nil, err
		}
		if endpoint.AuthURL == "" {
			endpoint.AuthURL = discovered.AuthURL
		}
		if endpoint.TokenURL == "" {
			endpoint.TokenURL = discovered.TokenURL
		}
	}

	method := strings.ToUpper(cfg.RequestMethod)
	if method == "" {
		method = http.MethodPost
	}

	return &Client{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Endpoint:     endpoint,
			Scopes:       cfg.DefaultScopes,
		},
		httpClient: &http.Client{
			Transport: newTokenTransport(httpClient.Transport, method),
			Timeout:   httpClient.Timeout,
		},
		method: method,
	}, nil
}

func authStyle(s string) oauth2.AuthStyle {
	switch s {
	case "header":
		return oauth2.AuthStyleInHeader
	case "auto":
		return oauth2.AuthStyleAutoDetect
	default:
		return oauth2.AuthStyleInParams
	}
}

func discoverEndpoint(ctx context.Context, issuer string, httpClient *http.Client) (oauth2.Endpoint, error) {
	ctx = gooidc.ClientContext(ctx, httpClient)

	var (
		provider *gooidc.Provider
		err      error
	)
	for i := range discoveryAttempts {
		provider, err = gooidc.NewProvider(ctx, issuer)
		if err == nil {
			break
		}
		slog.Warn("OIDC provider discovery failed", "attempt", i+1, "max_attempts", discoveryAttempts, "issuer", issuer, "error", err)
		if i == discoveryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return oauth2.Endpoint{}, fmt.Errorf("discover OIDC provider %s: %w", issuer, ctx.Err())
		case <-time.After(discoveryInterval):
		}
	}
	if err != nil {
		return oauth2.Endpoint{}, fmt.Errorf("discover OIDC provider %s: %w", issuer, err)
	}
	ep := provider.Endpoint()
	slog.Info("OIDC provider discovered", "issuer", issuer, "authorization_endpoint", ep.AuthURL, "token_endpoint", ep.TokenURL)
	return ep, nil
}

// Endpoint returns the resolved provider endpoints.
func (c *Client) Endpoint() oauth2.Endpoint {
	return c.oauth2Config.Endpoint
}

// AuthCodeURL returns the provider authorize URL carrying client_id, scope,
// redirect_uri, response_type=code and state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth2Config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token using the configured
// request method. Every failure is returned as an *ExchangeError.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, classifyExchangeError(err)
	}
	if token.AccessToken == "" {
		return nil, &ExchangeError{Kind: KindMissingToken, Err: errMissingAccessToken}
	}
	return token, nil
}

// ErrorKind classifies token exchange failures.
type ErrorKind string

const (
	// KindTransport means no HTTP response was received (connection failure, timeout).
	KindTransport ErrorKind = "transport"
	// KindErrorResponse means the provider answered with a non-2xx status or an RFC 6749 error body.
	KindErrorResponse ErrorKind = "error_response"
	// KindMalformed means a 2xx response could not be parsed as a token response.
	KindMalformed ErrorKind = "malformed"
	// KindMissingToken means the token response carried no access_token.
	KindMissingToken ErrorKind = "missing_token"
)

var errMissingAccessToken = errors.New("token response contains no access_token")

// ExchangeError is a failed authorization-code exchange.
type ExchangeError struct {
	Kind        ErrorKind
	StatusCode  int    // 0 unless Kind is KindErrorResponse
	Code        string // RFC 6749 "error"
	Description string // RFC 6749 "error_description"
	Body        string // raw token endpoint response body
	Err         error
}

func (e *ExchangeError) Error() string {
	switch e.Kind {
	case KindErrorResponse:
		msg := "token endpoint returned " + protocol.FormatHTTPStatusLine(e.StatusCode)
		if e.Code != "" {
			msg += ": " + e.Code
		}
		if e.Description != "" {
			msg += " (" + e.Description + ")"
		}
		return msg
	case KindMissingToken:
		return errMissingAccessToken.Error()
	default:
		return fmt.Sprintf("token exchange failed (%s): %s", e.Kind, protocol.CleanGoErrorMessage(e.Err.Error()))
	}
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

func classifyExchangeError(err error) *ExchangeError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		ee := &ExchangeError{
			Kind:        KindErrorResponse,
			Code:        re.ErrorCode,
			Description: re.ErrorDescription,
			Body:        string(re.Body),
			Err:         err,
		}
		if re.Response != nil {
			ee.StatusCode = re.Response.StatusCode
		}
		return ee
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		return &ExchangeError{Kind: KindTransport, Err: err}
	}

	// x/oauth2 reports an absent access_token with an unexported plain error.
	if strings.Contains(err.Error(), "missing access_token") {
		return &ExchangeError{Kind: KindMissingToken, Err: err}
	}
	return &ExchangeError{Kind: KindMalformed, Err: err}
}
