// Package web embeds the browser UI for the player.
package web

import _ "embed"

//go:embed index.html
var IndexHTML []byte
