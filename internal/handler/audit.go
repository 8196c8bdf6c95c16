package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"game-session-server/internal/model"
)

// Audit read paths. These expose stored history verbatim; nothing here
// mutates state.

// SessionReader lists a user's sessions.
type SessionReader interface {
	ListByUser(ctx context.Context, userID int64, limit int) ([]*model.GameSession, error)
}

// ResultReader lists a user's results.
type ResultReader interface {
	ListByUser(ctx context.Context, userID int64, limit int) ([]*model.GameResult, error)
}

// AwardReader lists a user's reward transactions.
type AwardReader interface {
	GetByUser(ctx context.Context, userID int64, limit int) ([]*model.RewardTransaction, error)
}

// AuditHandler serves the per-user history endpoints.
type AuditHandler struct {
	sessions SessionReader
	results  ResultReader
	awards   AwardReader
}

func NewAuditHandler(sessions SessionReader, results ResultReader, awards AwardReader) *AuditHandler {
	return &AuditHandler{sessions: sessions, results: results, awards: awards}
}

// Register mounts the audit routes on the group.
func (h *AuditHandler) Register(r *gin.RouterGroup) {
	r.GET("/users/:id/sessions", h.UserSessions)
	r.GET("/users/:id/results", h.UserResults)
	r.GET("/users/:id/awards", h.UserAwards)
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

func auditParams(c *gin.Context) (int64, int, bool) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return 0, 0, false
	}

	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxAuditLimit {
			limit = n
		}
	}
	return userID, limit, true
}

// UserSessions handles GET /users/:id/sessions.
func (h *AuditHandler) UserSessions(c *gin.Context) {
	userID, limit, ok := auditParams(c)
	if !ok {
		return
	}

	sessions, err := h.sessions.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: reasonInternal})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// UserResults handles GET /users/:id/results.
func (h *AuditHandler) UserResults(c *gin.Context) {
	userID, limit, ok := auditParams(c)
	if !ok {
		return
	}

	results, err := h.results.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: reasonInternal})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// UserAwards handles GET /users/:id/awards.
func (h *AuditHandler) UserAwards(c *gin.Context) {
	userID, limit, ok := auditParams(c)
	if !ok {
		return
	}

	awards, err := h.awards.GetByUser(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: reasonInternal})
		return
	}
	c.JSON(http.StatusOK, gin.H{"awards": awards})
}
