package api

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	envAuthTestMode     = "AUTH_TEST_MODE"
	envTestJWTSecret    = "TEST_JWT_SECRET"
	envJWKSCacheTTL     = "JWKS_CACHE_TTL"
)

// Auth validates incoming JWT tokens. In production tokens are RS256-signed
// and verified against the issuer's JWKS; in test mode a shared HS256 secret
// is used instead.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates a new Auth instance.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	a := &Auth{JWKS: jwks, Audience: audience, Issuer: issuer}
	a.keyCacheTTL = parseCacheTTL()

	if os.Getenv(envAuthTestMode) == "1" {
		secret := os.Getenv(envTestJWTSecret)
		if secret == "" {
			panic("TEST_JWT_SECRET must be set when AUTH_TEST_MODE=1")
		}
		a.TestMode = true
		a.TestSecret = []byte(secret)
	}

	if a.TestMode {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a
}

func parseCacheTTL() time.Duration {
	ttl := defaultJWKSCacheTTL
	if raw := os.Getenv(envJWKSCacheTTL); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			panic("invalid JWKS_CACHE_TTL")
		}
		ttl = parsed
	}
	return ttl
}

// claimSkew is the leeway granted to claim timestamps.
const claimSkew = time.Minute

// UserIDFromAuthHeader extracts the authenticated user's id from the
// Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.userIDFromBearer(token)
}

func (a *Auth) userIDFromBearer(token []byte) (string, error) {
	if len(token) == 0 {
		return "", errBadAuthorization
	}
	parsed, err := a.parser.Parse(readOnlyString(token), a.signingKey)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unreadable claims")
	}
	return a.subject(claims)
}

// signingKey resolves the verification key for a token: the shared HS256
// secret in test mode, the JWKS otherwise.
func (a *Auth) signingKey(t *jwt.Token) (any, error) {
	if a.TestMode {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.TestSecret, nil
	}
	return a.keyForToken(t)
}

// subject checks the registered claims and returns the token's sub. Only exp
// is mandatory; aud and iss are checked when configured.
func (a *Auth) subject(claims jwt.MapClaims) (string, error) {
	ref := time.Now().Add(claimSkew).Unix()
	switch {
	case !claims.VerifyExpiresAt(ref, true):
		return "", errors.New("token is expired")
	case !claims.VerifyNotBefore(ref, false):
		return "", errors.New("token not yet valid")
	case !claims.VerifyIssuedAt(ref, false):
		return "", errors.New("token predates its issue time")
	case a.Audience != "" && !claims.VerifyAudience(a.Audience, false):
		return "", errors.New("audience mismatch")
	case a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false):
		return "", errors.New("issuer mismatch")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("subject claim missing")
	}
	return sub, nil
}

// keyForToken resolves the signing key through the JWKS, holding resolved
// keys per kid for keyCacheTTL so a burst of tokens does not refetch.
func (a *Auth) keyForToken(t *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}
	kid, _ := t.Header["kid"].(string)
	if key, ok := a.cachedKeyFor(kid); ok {
		return key, nil
	}
	key, err := a.JWKS.Keyfunc(t)
	if err != nil {
		return nil, err
	}
	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}

func (a *Auth) cachedKeyFor(kid string) (any, bool) {
	if kid == "" || a.keyCacheTTL <= 0 {
		return nil, false
	}
	cached, ok := a.keyCache.Load(kid)
	if !ok {
		return nil, false
	}
	entry := cached.(cachedKey)
	if !time.Now().Before(entry.expiresAt) {
		a.keyCache.Delete(kid)
		return nil, false
	}
	return entry.key, true
}
