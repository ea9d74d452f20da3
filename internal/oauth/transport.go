package oauth

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// tokenTransport sends token requests with the configured HTTP method.
// x/oauth2 always POSTs a form body; for GET the form is moved into the
// query string.
type tokenTransport struct {
	base   http.RoundTripper
	method string
}

func newTokenTransport(base http.RoundTripper, method string) *tokenTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &tokenTransport{base: base, method: method}
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req
	if t.method == http.MethodGet && req.Method == http.MethodPost {
		var err error
		out, err = formToQuery(req)
		if err != nil {
			return nil, err
		}
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	slog.Debug("Token endpoint responded",
		"method", out.Method,
		"url", out.URL.Scheme+"://"+out.URL.Host+out.URL.Path,
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"))
	return resp, nil
}

// formToQuery returns a GET clone of req whose form body is merged into the URL query.
func formToQuery(req *http.Request) (*http.Request, error) {
	var form url.Values
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		form, err = url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
	}

	out := req.Clone(req.Context())
	q := out.URL.Query()
	for k, vs := range form {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	out.URL.RawQuery = q.Encode()
	out.Method = http.MethodGet
	out.Body = http.NoBody
	out.GetBody = nil
	out.ContentLength = 0
	for name := range out.Header {
		if strings.EqualFold(name, "Content-Type") || strings.EqualFold(name, "Content-Length") {
			out.Header.Del(name)
		}
	}
	return out, nil
}
