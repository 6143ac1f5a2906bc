package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestBearerTokenFromStringSuccess(t *testing.T) {
	token, err := bearerTokenFromString("  Bearer header.payload.signature ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(token) != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", string(token))
	}
}

func TestBearerTokenFromStringMissing(t *testing.T) {
	if _, err := bearerTokenFromString("   "); err == nil || err.Error() != "missing authorization header" {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenFromStringNoPrefix(t *testing.T) {
	if _, err := bearerTokenFromString("Basic abc.def.ghi"); err == nil || err.Error() != "bad auth header" {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestBearerTokenFromStringManyPeriods(t *testing.T) {
	header := "Bearer " + strings.Repeat(".", 1000)
	if _, err := bearerTokenFromString(header); err == nil || err.Error() != "bad auth header" {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestUserIDFromAuthHeaderHS256(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	auth := &Auth{
		Audience:   "api://aud",
		Issuer:     "https://issuer/",
		TestMode:   true,
		TestSecret: secret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}

	userID, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromAuthHeaderExpired(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(-5 * time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	auth := &Auth{
		TestMode:   true,
		TestSecret: secret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}

	if _, err := auth.UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestSubjectClaimValidation(t *testing.T) {
	auth := &Auth{Audience: "api://aud", Issuer: "https://issuer/"}
	exp := float64(time.Now().Add(5 * time.Minute).Unix())

	tests := []struct {
		name    string
		claims  jwt.MapClaims
		wantErr string
	}{
		{
			name:   "valid",
			claims: jwt.MapClaims{"sub": "user-1", "aud": "api://aud", "iss": "https://issuer/", "exp": exp},
		},
		{
			name:    "no expiry",
			claims:  jwt.MapClaims{"sub": "user-1", "aud": "api://aud", "iss": "https://issuer/"},
			wantErr: "token is expired",
		},
		{
			name:    "wrong audience",
			claims:  jwt.MapClaims{"sub": "user-1", "aud": "api://other", "iss": "https://issuer/", "exp": exp},
			wantErr: "audience mismatch",
		},
		{
			name:    "wrong issuer",
			claims:  jwt.MapClaims{"sub": "user-1", "aud": "api://aud", "iss": "https://other/", "exp": exp},
			wantErr: "issuer mismatch",
		},
		{
			name:    "no subject",
			claims:  jwt.MapClaims{"aud": "api://aud", "iss": "https://issuer/", "exp": exp},
			wantErr: "subject claim missing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := auth.subject(tt.claims)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if sub != "user-1" {
					t.Fatalf("unexpected subject: %s", sub)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Fatalf("expected %q, got %v", tt.wantErr, err)
			}
		})
	}
}
