package handlers

import (
	"errors"
	"net/http"

	"school-gateway/internal/server/middleware"
	"school-gateway/internal/token"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	gate *token.Gate
}

func NewAuthHandler(gate *token.Gate) *AuthHandler {
	return &AuthHandler{gate: gate}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// Login issues a credential pair for a valid email/password.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	account, cred, err := h.gate.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, token.ErrInvalidLogin) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account": gin.H{
			"id":          account.ID,
			"email":       account.Email,
			"displayName": account.DisplayName,
			"role":        account.Role,
		},
		"credential": cred,
	})
}

// Refresh rotates a refresh credential into a new pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refreshToken is required"})
		return
	}

	cred, err := h.gate.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if token.IsAuthError(err) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"credential": cred})
}

// Logout revokes the caller's access credential for its remaining lifetime
// and deletes the durable refresh records.
func (h *AuthHandler) Logout(c *gin.Context) {
	accessToken := c.GetString(middleware.ContextAccessToken)
	if accessToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	if err := h.gate.Logout(c.Request.Context(), accessToken); err != nil {
		if token.IsAuthError(err) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
