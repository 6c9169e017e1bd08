// Package web holds the embedded landing page.
package web

import "embed"

//go:embed templates/*.html
var Templates embed.FS
