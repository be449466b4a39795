package identity

import (
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/assetdepot/depot/pkg/depot/errs"
)

// TokenConfig controls access-token issuance and verification.
type TokenConfig struct {
	Secret   string        // HS256 signing secret.
	Lifetime time.Duration // Default 60m.
	Issuer   string        // Optional iss claim.
}

// DefaultTokenConfig returns the default token configuration.
func DefaultTokenConfig() *TokenConfig {
	return &TokenConfig{
		Secret:   "super-secret-dev-key",
		Lifetime: time.Hour,
	}
}

// TokenConfigFromEnv loads config from environment variables.
// DEPOT_JWT_SECRET, DEPOT_JWT_EXPIRATION_MINUTES, DEPOT_JWT_ISSUER
func TokenConfigFromEnv() *TokenConfig {
	cfg := DefaultTokenConfig()
	if v := os.Getenv("DEPOT_JWT_SECRET"); v != "" {
		cfg.Secret = v
	}
	if v := os.Getenv("DEPOT_JWT_EXPIRATION_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Lifetime = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("DEPOT_JWT_ISSUER"); v != "" {
		cfg.Issuer = v
	}
	return cfg
}

// tokenClaims is the claim set carried by a depot access token.
type tokenClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a short-lived HS256 access token for the identity.
func IssueToken(cfg *TokenConfig, id Identity) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Username: id.Username,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Lifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", errs.Internal.Wrap(err)
	}
	return signed, nil
}

// ParseToken verifies a token and returns the identity it carries.
func ParseToken(cfg *TokenConfig, raw string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return Identity{}, errs.Permission.New("invalid token: %v", err)
	}
	if claims.Subject == "" {
		return Identity{}, errs.Permission.New("token has no subject")
	}
	return Identity{
		UserID:   claims.Subject,
		Username: claims.Username,
		Role:     claims.Role,
	}, nil
}
