package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/config"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/service"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// staticKeys knows one master key and one party key.
type staticKeys struct{}

func (staticKeys) IsMaster(_ context.Context, k string) bool { return k == "master-key" }

func (staticKeys) PartyFor(_ context.Context, k string) (string, bool) {
	if k == "seller-key" {
		return "sell", true
	}
	return "", false
}

var testAuth = &config.AuthConfig{
	JWTSecret:        "test-secret-key",
	TokenExpireHours: 24,
}

func TestGenerateToken(t *testing.T) {
	token, expiresAt, err := GenerateToken("ops", "master-key", testAuth)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if token == "" {
		t.Error("Expected non-empty token")
	}

	expectedExpiry := time.Now().Add(24 * time.Hour)
	if expiresAt.Before(expectedExpiry.Add(-time.Minute)) || expiresAt.After(expectedExpiry.Add(time.Minute)) {
		t.Errorf("Expiry time %v is not within expected range of %v", expiresAt, expectedExpiry)
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testAuth.JWTSecret), nil
	}); err != nil {
		t.Fatalf("Failed to parse token: %v", err)
	}
	if claims.Credential != "master-key" || claims.Username != "ops" {
		t.Errorf("Unexpected claims %+v", claims)
	}
}

func authRouter(extra ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(Auth(testAuth, staticKeys{}))
	router.Use(extra...)
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"credential": GetCredential(c), "principal": GetPrincipal(c)})
	})
	return router
}

func TestAuthMiddleware(t *testing.T) {
	token, _, err := GenerateToken("ops", "seller-key", testAuth)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		principal      string
	}{
		{"master api key", "Api-Key master-key", http.StatusOK, "master"},
		{"party api key", "Api-Key seller-key", http.StatusOK, "party:sell"},
		{"unknown api key", "Api-Key nope", http.StatusUnauthorized, ""},
		{"valid token", "Bearer " + token, http.StatusOK, "ops"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"invalid format", token, http.StatusUnauthorized, ""},
		{"unknown scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"invalid token", "Bearer invalid.token.here", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			authRouter().ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if w.Code != http.StatusOK {
				var env service.Envelope
				if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil || env.Status != service.StatusError {
					t.Errorf("Expected error envelope, got %s", w.Body.String())
				}
				return
			}
			var body map[string]string
			json.Unmarshal(w.Body.Bytes(), &body)
			if body["principal"] != tt.principal {
				t.Errorf("Expected principal %q, got %q", tt.principal, body["principal"])
			}
		})
	}
}

func TestAuthBearerCarriesCredential(t *testing.T) {
	token, _, _ := GenerateToken("ops", "seller-key", testAuth)
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	authRouter().ServeHTTP(w, req)

	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["credential"] != "seller-key" {
		t.Errorf("Expected credential from token, got %q", body["credential"])
	}
}

func TestAuthMiddlewareExpiredToken(t *testing.T) {
	claims := Claims{
		Username:   "ops",
		Credential: "master-key",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(testAuth.JWTSecret))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	w := httptest.NewRecorder()
	authRouter().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d for expired token, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestAuthRejectsOtherSigningMethods(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{Username: "ops", Credential: "master-key"})
	tokenString, _ := token.SignedString([]byte(testAuth.JWTSecret))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	w := httptest.NewRecorder()
	authRouter().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected HS512 token to be rejected, got %d", w.Code)
	}
}

func TestRequireMaster(t *testing.T) {
	router := authRouter(RequireMaster(staticKeys{}))
	for key, want := range map[string]int{
		"master-key": http.StatusOK,
		"seller-key": http.StatusForbidden,
	} {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Api-Key "+key)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("%s: expected %d, got %d", key, want, w.Code)
		}
	}
}

func TestGetCredential(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if GetCredential(c) != "" {
		t.Error("Expected empty string for unset credential")
	}
	c.Set(credentialKey, "k")
	if GetCredential(c) != "k" {
		t.Errorf("Expected 'k', got '%s'", GetCredential(c))
	}
}
