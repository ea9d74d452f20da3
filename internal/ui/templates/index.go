// Package templates renders the diagnostic page as templ components.
package templates

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"
)

const defaultTitle = "AuthTester"

// Index renders the full page: a login link without a session, otherwise
// the token view.
func Index(page Page) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		title := page.Title
		if title == "" {
			title = defaultTitle
		}

		hw := &htmlWriter{w: w}
		hw.raw("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n<title>")
		hw.text(title)
		hw.raw("</title>\n<link rel=\"stylesheet\" href=\"/static/style.css\">\n</head>\n<body>\n")
		hw.raw("<h1>Welcome to AuthTester</h1>\n")
		if page.LoggedIn() {
			hw.raw("<p>")
			hw.link(page.LogoutURL, "Logout")
			hw.raw("</p>\n")
			hw.component(ctx, SessionData(*page.Token))
		} else {
			hw.link(page.LoginURL, "Login")
			hw.raw("\n")
		}
		hw.raw("</body>\n</html>\n")
		return hw.err
	})
}

// SessionData renders the token sections in display order: claims (or the
// claims error), decoded payload, raw token, then the JOSE header.
func SessionData(view TokenView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		hw.raw("<h2>Session Data:</h2>\n")
		if view.Decoded {
			if view.ClaimsError != "" {
				hw.raw("<p class=\"error\">Error extracting claims: ")
				hw.text(view.ClaimsError)
				hw.raw("</p>\n")
			} else {
				hw.raw("<h3>Common Claims:</h3>\n")
				hw.component(ctx, ClaimTable("identity-claims", "Claim", view.IdentityClaims))
				hw.raw("<h3>Token Claims:</h3>\n")
				hw.component(ctx, TimestampTable(view.TimestampClaims))
			}
			hw.raw("<h3>Decoded Token:</h3>\n")
			hw.pre("decoded-token", view.DecodedPayload)
		}
		hw.raw("<h3>Access Token:</h3>\n")
		hw.pre("access-token", view.AccessToken)
		if len(view.HeaderRows) > 0 {
			hw.raw("<h3>Token Header:</h3>\n")
			hw.component(ctx, ClaimTable("token-header", "Header", view.HeaderRows))
		}
		return hw.err
	})
}

// ClaimTable renders label/value rows under a two-column header.
func ClaimTable(id, keyHeading string, rows []ClaimRow) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		hw.raw("<table class=\"data-table\" id=\"")
		hw.text(id)
		hw.raw("\">\n<tr><th>")
		hw.text(keyHeading)
		hw.raw("</th><th>Value</th></tr>\n")
		for _, row := range rows {
			hw.row(row.Label, row.Value)
		}
		hw.raw("</table>\n")
		return hw.err
	})
}

// TimestampTable renders timestamp claims with raw and formatted values.
func TimestampTable(rows []TimestampRow) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		hw.raw("<table class=\"data-table\" id=\"timestamp-claims\">\n")
		hw.raw("<tr><th>Claim</th><th>Unix Timestamp</th><th>Local Date and Time</th></tr>\n")
		for _, row := range rows {
			hw.row(row.Label, strconv.FormatInt(row.Unix, 10), row.Local)
		}
		hw.raw("</table>\n")
		return hw.err
	})
}

// htmlWriter writes markup and escaped text, keeping the first write error.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (hw *htmlWriter) raw(s string) {
	if hw.err == nil {
		_, hw.err = io.WriteString(hw.w, s)
	}
}

func (hw *htmlWriter) text(s string) {
	hw.raw(templ.EscapeString(s))
}

func (hw *htmlWriter) component(ctx context.Context, c templ.Component) {
	if hw.err == nil {
		hw.err = c.Render(ctx, hw.w)
	}
}

func (hw *htmlWriter) link(href, label string) {
	hw.raw("<a href=\"")
	hw.text(string(templ.URL(href)))
	hw.raw("\">")
	hw.text(label)
	hw.raw("</a>")
}

func (hw *htmlWriter) pre(id, body string) {
	hw.raw("<pre id=\"")
	hw.text(id)
	hw.raw("\">")
	hw.text(body)
	hw.raw("</pre>\n")
}

func (hw *htmlWriter) row(cells ...string) {
	hw.raw("<tr>")
	for _, c := range cells {
		hw.raw("<td>")
		hw.text(c)
		hw.raw("</td>")
	}
	hw.raw("</tr>\n")
}
