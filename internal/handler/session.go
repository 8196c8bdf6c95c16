// Package handler exposes the session lifecycle over HTTP. Domain
// errors map to 4xx responses with stable machine-readable reason
// strings; infrastructure errors map to 500 and the caller retries the
// whole operation.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"game-session-server/internal/model"
	"game-session-server/internal/repository"
	"game-session-server/internal/session"
)

// SessionService is the lifecycle surface the handlers drive. Satisfied
// by session.Service; tests substitute a fake.
type SessionService interface {
	Start(ctx context.Context, userID int64, gameID, gameVersion string) (*model.GameSession, error)
	RecordCheckpoint(ctx context.Context, token string, cp *model.Checkpoint) (*session.CheckpointAck, error)
	End(ctx context.Context, token string, finalScore int64, metadata map[string]string) (*session.Outcome, error)
	Reconcile(ctx context.Context, userID int64, gameID string, finalScore int64, metadata map[string]string) (*session.Outcome, error)
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	reasonUserNotFound    = "user-not-found"
	reasonSessionNotFound = "session-not-found"
	reasonInternal        = "internal-error"
)

// SessionHandler serves the four lifecycle endpoints.
type SessionHandler struct {
	svc SessionService
}

func NewSessionHandler(svc SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// Register mounts the lifecycle routes on the group.
func (h *SessionHandler) Register(r *gin.RouterGroup) {
	r.POST("/sessions", h.StartSession)
	r.POST("/checkpoints", h.Checkpoint)
	r.POST("/sessions/end", h.EndSession)
	r.POST("/sessions/emergency", h.EmergencyResult)
}

type startSessionRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	GameID      string `json:"game_id" binding:"required"`
	GameVersion string `json:"game_version" binding:"required"`
}

type startSessionResponse struct {
	SessionToken string `json:"session_token"`
	SessionID    string `json:"session_id"`
	GameID       string `json:"game_id"`
	GameVersion  string `json:"game_version"`
}

// StartSession handles POST /sessions.
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	sess, err := h.svc.Start(c.Request.Context(), req.UserID, req.GameID, req.GameVersion)
	if errors.Is(err, repository.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: reasonUserNotFound})
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("user_id", req.UserID).Msg("Failed to start session")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: reasonInternal})
		return
	}

	c.JSON(http.StatusOK, startSessionResponse{
		SessionToken: sess.SessionToken,
		SessionID:    sess.SessionID,
		GameID:       sess.GameID,
		GameVersion:  sess.GameVersion,
	})
}

type checkpointBody struct {
	ObservedAt int64  `json:"observed_at" binding:"required"`
	Score      int64  `json:"score"`
	GameTime   int64  `json:"game_time" binding:"required"`
	Nonce      string `json:"nonce" binding:"required"`
	Hash       string `json:"hash" binding:"required"`
}

type checkpointRequest struct {
	SessionToken string          `json:"session_token" binding:"required"`
	Checkpoint   *checkpointBody `json:"checkpoint" binding:"required"`
	Events       []string        `json:"events"`
}

type checkpointResponse struct {
	SessionValid     bool `json:"session_valid"`
	HoneypotDetected bool `json:"honeypot_detected"`
}

// Checkpoint handles POST /checkpoints.
func (h *SessionHandler) Checkpoint(c *gin.Context) {
	var req checkpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	cp := &model.Checkpoint{
		ObservedAt: req.Checkpoint.ObservedAt,
		Score:      req.Checkpoint.Score,
		GameTime:   req.Checkpoint.GameTime,
		Nonce:      req.Checkpoint.Nonce,
		Hash:       req.Checkpoint.Hash,
		Events:     req.Events,
	}

	ack, err := h.svc.RecordCheckpoint(c.Request.Context(), req.SessionToken, cp)
	if errors.Is(err, repository.ErrSessionNotFound) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: reasonSessionNotFound})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to record checkpoint")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: reasonInternal})
		return
	}

	c.JSON(http.StatusOK, checkpointResponse{
		SessionValid:     ack.SessionValid,
		HoneypotDetected: ack.HoneypotDetected,
	})
}

type endSessionRequest struct {
	SessionToken string            `json:"session_token" binding:"required"`
	FinalScore   *int64            `json:"final_score" binding:"required"`
	Metadata     map[string]string `json:"metadata"`
}

type resultResponse struct {
	SessionID       string   `json:"session_id"`
	FinalScore      int64    `json:"final_score"`
	IsValid         bool     `json:"is_valid"`
	Reasons         []string `json:"reasons,omitempty"`
	XPEarned        int64    `json:"xp_earned"`
	IsDuplicate     bool     `json:"is_duplicate"`
	IsEmergencySave bool     `json:"is_emergency_save,omitempty"`
}

// EndSession handles POST /sessions/end.
func (h *SessionHandler) EndSession(c *gin.Context) {
	var req endSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	outcome, err := h.svc.End(c.Request.Context(), req.SessionToken, *req.FinalScore, req.Metadata)
	if errors.Is(err, repository.ErrSessionNotFound) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: reasonSessionNotFound})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to end session")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: reasonInternal})
		return
	}

	c.JSON(http.StatusOK, toResultResponse(outcome, false))
}

type emergencyResultRequest struct {
	UserID     int64             `json:"user_id" binding:"required"`
	GameID     string            `json:"game_id" binding:"required"`
	FinalScore *int64            `json:"final_score" binding:"required"`
	Metadata   map[string]string `json:"metadata"`
}

// EmergencyResult handles POST /sessions/emergency, the degraded path
// used when the termination handshake never arrived.
func (h *SessionHandler) EmergencyResult(c *gin.Context) {
	var req emergencyResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	outcome, err := h.svc.Reconcile(c.Request.Context(), req.UserID, req.GameID, *req.FinalScore, req.Metadata)
	if errors.Is(err, repository.ErrUserNotFound) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: reasonUserNotFound})
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("user_id", req.UserID).Msg("Failed to reconcile emergency result")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: reasonInternal})
		return
	}

	c.JSON(http.StatusOK, toResultResponse(outcome, true))
}

func toResultResponse(outcome *session.Outcome, emergency bool) resultResponse {
	return resultResponse{
		SessionID:       outcome.Result.SessionID,
		FinalScore:      outcome.Result.FinalScore,
		IsValid:         outcome.Result.IsValid,
		Reasons:         outcome.Result.InvalidReasons,
		XPEarned:        outcome.Result.XPEarned,
		IsDuplicate:     outcome.IsDuplicate,
		IsEmergencySave: emergency,
	}
}
