package app

import (
	"net/http"

	"go.uber.org/zap"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home     string       // state directory, e.g. $HOME/.conclave
	User     string       // local identity name; also names the state file
	RelayURL string       // relay base URL, e.g. http://127.0.0.1:8080
	HTTP     *http.Client // optional; defaults to http.DefaultClient
	Logger   *zap.Logger  // optional; defaults to a no-op logger
}
