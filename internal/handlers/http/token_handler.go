package http

import (
	"net/http"
	"strings"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/services"
	"huddle/pkg/errors"
	"huddle/pkg/validation"

	"github.com/gin-gonic/gin"
)

const devTokenTTL = 24 * time.Hour

// TokenHandler mints relay tokens for local development and tooling. Real
// deployments issue tokens from the product's auth surface; this handler is
// only mounted when auth.allow_dev_tokens is set.
type TokenHandler struct {
	authService services.AuthService
}

func NewTokenHandler(authService services.AuthService) *TokenHandler {
	return &TokenHandler{authService: authService}
}

func (h *TokenHandler) SetupRoutes(router *gin.Engine) {
	router.POST("/dev/token", h.IssueToken)
}

type TokenRequest struct {
	UserID   string `json:"userId" binding:"required,max=100"`
	Username string `json:"username" binding:"max=50"`
}

func (h *TokenHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewValidationError("invalid request format"))
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	if err := validation.ValidateID("user id", req.UserID); err != nil {
		c.Error(errors.NewValidationError(err.Error()))
		return
	}
	if req.Username == "" {
		req.Username = req.UserID
	}

	token, err := h.authService.GenerateToken(domain.UserID(req.UserID), req.Username, devTokenTTL)
	if err != nil {
		c.Error(errors.NewInternalError("failed to generate token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":    req.UserID,
		"username":   req.Username,
		"token":      token,
		"expires_in": int(devTokenTTL / time.Second),
	})
}
