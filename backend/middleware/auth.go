package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/config"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/logger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/service"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	credentialKey = "credential"
	principalKey  = "principal"
)

// Claims represents the JWT claims. Credential is the API key the session
// acts with.
type Claims struct {
	Username   string `json:"username"`
	Credential string `json:"credential"`
	jwt.RegisteredClaims
}

// KeyVerifier recognises API keys.
type KeyVerifier interface {
	IsMaster(ctx context.Context, credential string) bool
	PartyFor(ctx context.Context, credential string) (string, bool)
}

// GenerateToken issues a session token for an operator
func GenerateToken(username, credential string, cfg *config.AuthConfig) (string, time.Time, error) {
	expiresAt := time.Now().Add(time.Duration(cfg.TokenExpireHours) * time.Hour)

	claims := Claims{
		Username:   username,
		Credential: credential,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// Auth accepts "Api-Key <key>" or "Bearer <jwt>" and stores the resulting
// credential on the request.
func Auth(cfg *config.AuthConfig, keys KeyVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[1] == "" {
			unauthorized(c, "Invalid authorization header format")
			return
		}

		var credential, principal string
		switch parts[0] {
		case "Api-Key":
			credential = parts[1]
			if keys.IsMaster(c.Request.Context(), credential) {
				principal = "master"
			} else if code, ok := keys.PartyFor(c.Request.Context(), credential); ok {
				principal = "party:" + code
			} else {
				unauthorized(c, "Invalid API key")
				return
			}
		case "Bearer":
			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				return []byte(cfg.JWTSecret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				unauthorized(c, "Invalid or expired token")
				return
			}
			credential = claims.Credential
			principal = claims.Username
		default:
			unauthorized(c, "Invalid authorization header format")
			return
		}

		c.Set(credentialKey, credential)
		c.Set(principalKey, principal)
		ctx := context.WithValue(c.Request.Context(), logger.PrincipalKey, principal)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireMaster lets only the master credential through. It must run after
// Auth.
func RequireMaster(keys KeyVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !keys.IsMaster(c.Request.Context(), GetCredential(c)) {
			c.AbortWithStatusJSON(http.StatusForbidden, service.Envelope{
				Status:  service.StatusError,
				Message: "This operation requires the master key",
			})
			return
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, service.Envelope{Status: service.StatusError, Message: msg})
}

// GetCredential gets the caller's credential from context
func GetCredential(c *gin.Context) string {
	return c.GetString(credentialKey)
}

// GetPrincipal gets the operator name or key owner from context
func GetPrincipal(c *gin.Context) string {
	return c.GetString(principalKey)
}
