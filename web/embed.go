// Package web provides the embedded tracking snippet.
package web

import (
	_ "embed"
)

//go:embed static/count.js
var snippet []byte

// Snippet returns the browser tracking script served at /count.js.
func Snippet() []byte {
	return snippet
}
