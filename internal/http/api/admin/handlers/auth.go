// Package handlers implements the admin API endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokenrouter/tokenrouter/internal/config"
	"github.com/tokenrouter/tokenrouter/internal/security"
)

// adminSessionTTL is the lifetime of an admin session token.
const adminSessionTTL = 24 * time.Hour

// AdminAuthHandler serves admin session login.
type AdminAuthHandler struct {
	cfg config.AdminConfig
}

// NewAdminAuthHandler constructs an AdminAuthHandler.
func NewAdminAuthHandler(cfg config.AdminConfig) *AdminAuthHandler {
	return &AdminAuthHandler{cfg: cfg}
}

// loginRequest is the admin login body.
type loginRequest struct {
	Password string `json:"password" binding:"required"` // Shared admin password.
}

// Login exchanges the shared admin password for a session JWT.
func (h *AdminAuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}

	if !security.CheckPassword(h.cfg.Password, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin password"})
		return
	}

	token, errSign := security.GenerateAdminToken(h.cfg.JWTSecret, adminSessionTTL)
	if errSign != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int64(adminSessionTTL.Seconds()),
	})
}
