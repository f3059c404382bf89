package controllers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// newUpgrader builds the websocket upgrader. An empty list or "*" admits
// every origin; requests without an Origin header are always admitted.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		allowed[strings.ToLower(o)] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowAll || origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			_, ok := allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
			return ok
		},
	}
}
