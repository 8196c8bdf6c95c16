package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"game-session-server/internal/message"
	"game-session-server/internal/model"
	"game-session-server/internal/repository"
)

// MessageHandler accepts signed envelopes from the embedded content and
// dispatches verified payloads by kind. Envelope rejections are
// security events: logged with the typed reason, never partially
// processed.
type MessageHandler struct {
	codec *message.Codec
	svc   SessionService
	now   func() time.Time
}

func NewMessageHandler(codec *message.Codec, svc SessionService) *MessageHandler {
	return &MessageHandler{codec: codec, svc: svc, now: time.Now}
}

// WithClock overrides the verification clock. Test hook.
func (h *MessageHandler) WithClock(now func() time.Time) *MessageHandler {
	h.now = now
	return h
}

// Register mounts the envelope route on the group.
func (h *MessageHandler) Register(r *gin.RouterGroup) {
	r.POST("/messages", h.Receive)
}

// Payload shapes per kind. The payload bytes are verified before any of
// these are decoded.

type startPayload struct {
	UserID      int64  `json:"user_id"`
	GameID      string `json:"game_id"`
	GameVersion string `json:"game_version"`
}

type checkpointPayload struct {
	SessionToken string          `json:"session_token"`
	Checkpoint   *checkpointBody `json:"checkpoint"`
	Events       []string        `json:"events"`
}

type endPayload struct {
	SessionToken string            `json:"session_token"`
	FinalScore   int64             `json:"final_score"`
	Metadata     map[string]string `json:"metadata"`
}

type honeypotPayload struct {
	SessionToken string `json:"session_token"`
	Event        string `json:"event"`
	ObservedAt   int64  `json:"observed_at"`
}

type eventPayload struct {
	SessionToken string `json:"session_token"`
	Name         string `json:"name"`
}

type authStatePayload struct {
	UserID        int64 `json:"user_id"`
	Authenticated bool  `json:"authenticated"`
}

// Receive handles POST /messages.
func (h *MessageHandler) Receive(c *gin.Context) {
	var msg message.SecureMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(message.ReasonBadShape)})
		return
	}

	kind, payload, err := h.codec.Verify(&msg, h.now())
	if err != nil {
		reason := message.RejectionReason(err)
		log.Warn().
			Str("kind", string(msg.Kind)).
			Str("nonce", msg.Nonce).
			Str("reason", string(reason)).
			Msg("Rejected signed message")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(reason)})
		return
	}

	switch kind {
	case message.KindSessionStart:
		h.handleStart(c, payload)
	case message.KindCheckpoint:
		h.handleCheckpoint(c, payload)
	case message.KindSessionEnd:
		h.handleEnd(c, payload)
	case message.KindHoneypotTrigger:
		h.handleHoneypot(c, payload)
	case message.KindAuthStateChanged:
		h.handleAuthState(c, payload)
	case message.KindEvent:
		h.handleEvent(c, payload)
	}
}

func (h *MessageHandler) handleStart(c *gin.Context, payload json.RawMessage) {
	var p startPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == 0 || p.GameID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(message.ReasonBadShape)})
		return
	}

	sess, err := h.svc.Start(c.Request.Context(), p.UserID, p.GameID, p.GameVersion)
	if errors.Is(err, repository.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: reasonUserNotFound})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to start session from message")
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

func (h *MessageHandler) handleCheckpoint(c *gin.Context, payload json.RawMessage) {
	var p checkpointPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionToken == "" || p.Checkpoint == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(message.ReasonBadShape)})
		return
	}

	cp := &model.Checkpoint{
		ObservedAt: p.Checkpoint.ObservedAt,
		Score:      p.Checkpoint.Score,
		GameTime:   p.Checkpoint.GameTime,
		Nonce:      p.Checkpoint.Nonce,
		Hash:       p.Checkpoint.Hash,
		Events:     p.Events,
	}

	ack, err := h.svc.RecordCheckpoint(c.Request.Context(), p.SessionToken, cp)
	if errors.Is(err, repository.ErrSessionNotFound) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: reasonSessionNotFound})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to record checkpoint from message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: reasonInternal})
		return
	}

	c.JSON(http.StatusOK, checkpointResponse{
		SessionValid:     ack.SessionValid,
		HoneypotDetected: ack.HoneypotDetected,
	})
}

func (h *MessageHandler) handleEnd(c *gin.Context, payload json.RawMessage) {
	var p endPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionToken == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(message.ReasonBadShape)})
		return
	}

	outcome, err := h.svc.End(c.Request.Context(), p.SessionToken, p.FinalScore, p.Metadata)
	if errors.Is(err, repository.ErrSessionNotFound) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: reasonSessionNotFound})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to end session from message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: reasonInternal})
		return
	}

	c.JSON(http.StatusOK, toResultResponse(outcome, false))
}

// handleHoneypot records the tripped honeypot as a checkpoint carrying
// only the event, so it lands in the same durable history the validator
// reads at termination.
func (h *MessageHandler) handleHoneypot(c *gin.Context, payload json.RawMessage) {
	var p honeypotPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionToken == "" || p.Event == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(message.ReasonBadShape)})
		return
	}

	log.Warn().
		Str("event", p.Event).
		Msg("Honeypot trigger reported")

	cp := &model.Checkpoint{
		ObservedAt: p.ObservedAt,
		Events:     []string{p.Event},
	}
	ack, err := h.svc.RecordCheckpoint(c.Request.Context(), p.SessionToken, cp)
	if errors.Is(err, repository.ErrSessionNotFound) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: reasonSessionNotFound})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to record honeypot trigger")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: reasonInternal})
		return
	}

	c.JSON(http.StatusOK, checkpointResponse{
		SessionValid:     ack.SessionValid,
		HoneypotDetected: ack.HoneypotDetected,
	})
}

// Auth-state changes and generic gameplay events have no server-side
// state to mutate; they are acknowledged and logged for audit.

func (h *MessageHandler) handleAuthState(c *gin.Context, payload json.RawMessage) {
	var p authStatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(message.ReasonBadShape)})
		return
	}

	log.Info().
		Int64("user_id", p.UserID).
		Bool("authenticated", p.Authenticated).
		Msg("Auth state changed")
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

func (h *MessageHandler) handleEvent(c *gin.Context, payload json.RawMessage) {
	var p eventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(message.ReasonBadShape)})
		return
	}

	log.Debug().Str("name", p.Name).Msg("Gameplay event")
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}
