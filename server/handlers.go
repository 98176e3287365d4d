package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jrsteele09/go-chat-server/chats"
	"github.com/jrsteele09/go-chat-server/identity"
	"github.com/jrsteele09/go-chat-server/token"
	"github.com/samber/lo"
)

const contentTypeJSON = "application/json; charset=utf-8"

type createChatRequest struct {
	ChatName string `json:"chatName"`
}

type chatResponse struct {
	ChatName string `json:"chatName"`
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// GetTokenHandler issues a disposable credential to the authenticated caller.
func (s *Server) GetTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := identity.FromContext(r.Context())
		if !ok {
			writeJSONError(w, "unauthorized", "Missing identity", http.StatusUnauthorized)
			return
		}

		cred, err := s.issuer.IssueToken(r.Context(), *caller)
		if err != nil {
			var issueErr *token.CredentialIssuanceError
			if errors.As(err, &issueErr) {
				writeJSONError(w, "credential_issuance_failed", issueErr.Diagnostic, http.StatusBadGateway)
				return
			}
			s.logger.Error().Err(err).Str("caller", caller.Subject).Msg("Unexpected token issuance failure")
			writeJSONError(w, "server_error", "internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, cred)
	}
}

func (s *Server) CreateChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := identity.FromContext(r.Context())
		if !ok {
			writeJSONError(w, "unauthorized", "Missing identity", http.StatusUnauthorized)
			return
		}

		var req createChatRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeJSONError(w, "invalid_request", "Request body must be JSON with a chatName", http.StatusBadRequest)
			return
		}

		room, err := s.chats.CreateRoom(req.ChatName, caller.Subject)
		if err != nil {
			var conflict *chats.ConflictError
			switch {
			case errors.As(err, &conflict):
				writeJSON(w, http.StatusConflict, chats.ConflictMessage)
			case errors.Is(err, chats.ErrInvalidChatName):
				writeJSONError(w, "invalid_request", "chatName must be 1-64 characters without '/'", http.StatusBadRequest)
			default:
				s.logger.Error().Err(err).Msg("Failed to create chat room")
				writeJSONError(w, "server_error", "internal server error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusCreated, chatResponse{ChatName: room.ChatName})
	}
}

func (s *Server) ListChatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := s.chats.ListRooms()
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to list chat rooms")
			writeJSONError(w, "server_error", "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, lo.Map(rooms, func(room *chats.ChatRoom, _ int) chatResponse {
			return chatResponse{ChatName: room.ChatName}
		}))
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
