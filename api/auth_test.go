package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func userToken(t *testing.T, sub string) string {
	return signToken(t, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	})
}

func TestBearerTokenSuccess(t *testing.T) {
	token, err := bearerToken("  Bearer header.payload.signature ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenErrors(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   error
	}{
		{"empty", "", errMissingAuthorization},
		{"blank", "   ", errMissingAuthorization},
		{"scheme", "Basic a.b.c", errBadAuthorization},
		{"segments", "Bearer a.b", errBadAuthorization},
		{"many periods", "Bearer " + strings.Repeat(".", 1000), errBadAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := bearerToken(tt.header); err != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestUserIDFromAuthHeaderHS256(t *testing.T) {
	auth := NewTestAuth(testSecret)
	auth.Audience = "api://aud"
	auth.Issuer = "https://issuer/"

	signed := signToken(t, jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
	})
	userID, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromAuthHeaderRejects(t *testing.T) {
	auth := NewTestAuth(testSecret)
	auth.Audience = "api://aud"

	expired := signToken(t, jwt.MapClaims{"sub": "u", "aud": "api://aud", "exp": time.Now().Add(-time.Hour).Unix()})
	wrongAud := signToken(t, jwt.MapClaims{"sub": "u", "aud": "other", "exp": time.Now().Add(time.Hour).Unix()})
	noSub := signToken(t, jwt.MapClaims{"aud": "api://aud", "exp": time.Now().Add(time.Hour).Unix()})
	otherKey, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u"}).SignedString([]byte("nope"))

	for name, token := range map[string]string{"expired": expired, "audience": wrongAud, "sub": noSub, "key": otherKey} {
		if _, err := auth.UserIDFromAuthHeader("Bearer " + token); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestKeyForTokenWithoutJWKS(t *testing.T) {
	auth := NewAuth(nil, "aud", "iss")
	if _, err := auth.keyForToken(&jwt.Token{Header: map[string]any{"kid": "k1"}}); err == nil {
		t.Fatal("expected error without jwks")
	}
}

func TestAuthHeaderFallsBackToQueryToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/board/stream?token=a.b.c", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	if got := authHeader(c); got != "Bearer a.b.c" {
		t.Fatalf("unexpected header %q", got)
	}

	req.Header.Set(echo.HeaderAuthorization, "Bearer x.y.z")
	if got := authHeader(c); got != "Bearer x.y.z" {
		t.Fatalf("header should win over query, got %q", got)
	}
}
