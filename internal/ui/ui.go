// Package ui holds the embedded static assets; the page components live in
// the templates subpackage.
package ui

import "embed"

// StaticFiles holds the assets served under /static/.
//
//go:embed static
var StaticFiles embed.FS
