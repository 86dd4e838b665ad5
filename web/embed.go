package web

import (
	_ "embed"
)

//go:embed dist/welcome.html
var WelcomeHTML []byte
