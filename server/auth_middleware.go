package server

import (
	"net/http"
	"strings"

	"github.com/jrsteele09/go-chat-server/identity"
)

// RequireAuth validates the caller's bearer identity token and stores the Identity in the
// request context.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeJSONError(w, "unauthorized", "Missing or malformed Authorization header", http.StatusUnauthorized)
				return
			}

			id, err := s.verifier.Verify(r.Context(), raw)
			if err != nil {
				s.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected identity token")
				writeJSONError(w, "unauthorized", "Invalid token", http.StatusUnauthorized)
				return
			}

			next(w, r.WithContext(identity.NewContext(r.Context(), id)))
		}
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

// disposableToken reads the topic gateway credential from the Authorization header, falling back
// to the token query parameter for browsers that cannot set headers on websockets.
func disposableToken(r *http.Request) string {
	if tok, ok := bearerToken(r); ok {
		return tok
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
