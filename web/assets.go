// Package web embeds the static admin UI assets served by internal/server.
package web

import "embed"

//go:embed login.html admin.html admin.js admin.css
var AssetsFS embed.FS
