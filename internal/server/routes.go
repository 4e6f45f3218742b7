package server

import (
	"net/http"

	"github.com/flexrz/auth-broker/internal/urlutil"
)

// NewMux registers the broker's routes and wraps them in the standard
// middleware stack.
func NewMux(h *BrokerHandlers, hosts urlutil.HostPolicy) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /auth/signin", h.SignIn)
	mux.HandleFunc("GET /api/auth/signin", h.SignIn)
	mux.HandleFunc("GET /api/auth/callback/google", h.GoogleCallback)
	mux.HandleFunc("/auth/signout", h.SignOut)
	mux.HandleFunc("/api/auth/signout", h.SignOut)
	mux.HandleFunc("GET /return", h.Return)
	mux.HandleFunc("GET /bridge", h.Bridge)
	mux.Handle("/api/auth/set-callback", ChainMiddleware(http.HandlerFunc(h.SetCallback), NewCORSMiddleware(hosts)))
	mux.HandleFunc("/tenant", h.TenantSafetyNet)
	mux.HandleFunc("/tenant/", h.TenantSafetyNet)
	mux.Handle("GET /health", NewHealthHandler())
	mux.HandleFunc("/", h.Fallback)

	return ChainMiddleware(mux,
		NewNoStoreMiddleware(),
		NewRecoverMiddleware("broker", h.fallback),
		NewLoggerMiddleware("broker"),
	)
}
