package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/config"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/middleware"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/service"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type AuthHandler struct {
	config *config.Config
	keys   middleware.KeyVerifier
	reset  func(ctx context.Context)
}

func NewAuthHandler(cfg *config.Config, keys middleware.KeyVerifier, reset func(ctx context.Context)) *AuthHandler {
	return &AuthHandler{config: cfg, keys: keys, reset: reset}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	Username  string `json:"username"`
}

// Login exchanges operator credentials for a session token. Passwords in
// config are bcrypt hashes.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	user := h.config.FindUser(req.Username)
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, service.Envelope{
			Status:  service.StatusError,
			Message: "Invalid username or password",
		})
		return
	}

	token, expiresAt, err := middleware.GenerateToken(user.Username, user.Credential, &h.config.Auth)
	if err != nil {
		respond(c, 0, nil, err)
		return
	}

	c.JSON(http.StatusOK, service.Success(LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		Username:  user.Username,
	}))
}

// Me returns who the caller is acting as.
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, service.Success(gin.H{
		"principal": middleware.GetPrincipal(c),
		"master":    h.keys.IsMaster(c.Request.Context(), middleware.GetCredential(c)),
	}))
}

// ResetCredentials drops cached API keys after a rotation.
func (h *AuthHandler) ResetCredentials(c *gin.Context) {
	h.reset(c.Request.Context())
	c.JSON(http.StatusOK, service.Success(gin.H{"reset": true}))
}
