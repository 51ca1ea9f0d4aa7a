package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/AskForHelp/internal/flow"
	"github.com/BTreeMap/AskForHelp/internal/models"
)

const healthTimeout = 5 * time.Second

// authenticationRequest is the body of POST /authentication.
type authenticationRequest struct {
	ExternalID  string `json:"external_id"`
	WenetUserID string `json:"wenet_user_id"`
}

func allowOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

// messagesHandler delivers a hub push (POST /messages).
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodPost) {
		return
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}
	msg, err := models.ParseExternalMessage(body)
	if err != nil {
		slog.Warn("Server.messagesHandler: invalid message", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	slog.Debug("Server.messagesHandler: delivering", "type", msg.Type(), "receiver", msg.Receiver())

	if _, err := s.notifier.OnExternalMessage(r.Context(), msg); err != nil {
		status, text := statusFor(err)
		slog.Error("Server.messagesHandler: delivery failed", "type", msg.Type(), "receiver", msg.Receiver(), "error", err)
		writeJSONResponse(w, status, models.Error(text))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Recorded())
}

// authenticationHandler links a chat user to a hub user (POST /authentication).
func (s *Server) authenticationHandler(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodPost) {
		return
	}
	defer r.Body.Close()
	var req authenticationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ExternalID == "" || req.WenetUserID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("external_id and wenet_user_id are required"))
		return
	}
	if _, err := s.notifier.OnAuthentication(r.Context(), req.ExternalID, req.WenetUserID); err != nil {
		slog.Error("Server.authenticationHandler: login failed", "externalID", req.ExternalID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to complete authentication"))
		return
	}
	slog.Info("Server.authenticationHandler: account linked", "externalID", req.ExternalID, "wenetUserID", req.WenetUserID)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// healthHandler reports liveness and, when configured, backend connectivity.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet) {
		return
	}
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	statusCode := http.StatusOK
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.opts.Health.Ping(ctx); err != nil {
			slog.Warn("Server.healthHandler: backend unreachable", "error", err)
			health["status"] = "degraded"
			health["error"] = "Backend unreachable"
			statusCode = http.StatusServiceUnavailable
		}
	}
	writeJSONResponse(w, statusCode, health)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrUnknownMessageKind):
		return http.StatusBadRequest, "Unknown message kind"
	case errors.Is(err, flow.ErrNoAccount):
		return http.StatusNotFound, "Receiver has no chat account"
	default:
		return http.StatusInternalServerError, "Failed to deliver message"
	}
}
