package httpserver

import (
	"net/http"
	"time"
)

// New builds the API server. Per-request deadlines come from the timeout
// middleware; only the header read is bounded here so slow clients cannot
// hold connections open before routing.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
