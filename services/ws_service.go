package services

import (
	"context"
	"net/http"
	"strings"

	"support-chat/models"
)

// TokenFromRequest extracts the session credential from the token query
// parameter or the Authorization header.
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// Authenticate verifies the handshake credential. No presence is registered
// on failure.
func Authenticate(ctx context.Context, verifier TokenVerifier, r *http.Request) (models.Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return models.Identity{}, models.AuthFailedf("authentication required")
	}
	return verifier.VerifyToken(ctx, token)
}
