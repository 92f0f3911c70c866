// Package auth verifies the bearer tokens guests and staff present. Tokens
// are minted by the host restaurant system; Issue exists for local tooling
// and tests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/tableserve-backend/pkg/config"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
)

const clockSkew = 30 * time.Second

var signingMethod = jwt.SigningMethodHS256

// Identity is the caller a token speaks for. Guest tokens usually pin the
// table the guest is seated at.
type Identity struct {
	SubjectID   uuid.UUID
	Role        enums.ActorRole
	TableNumber *int
}

// Claims is the JWT body. The subject id lives in the registered "sub".
type Claims struct {
	Role        enums.ActorRole `json:"role"`
	TableNumber *int            `json:"table_number,omitempty"`
	jwt.RegisteredClaims
}

func Issue(cfg config.JWTConfig, now time.Time, id Identity) (string, error) {
	switch {
	case cfg.Secret == "" || cfg.Issuer == "":
		return "", errors.New("jwt secret and issuer are required")
	case cfg.ExpirationMinutes <= 0:
		return "", fmt.Errorf("jwt expiration %d minutes is not positive", cfg.ExpirationMinutes)
	case id.SubjectID == uuid.Nil:
		return "", errors.New("subject id is required")
	case !id.Role.IsValid():
		return "", fmt.Errorf("unknown actor role %q", id.Role)
	}

	claims := Claims{
		Role:        id.Role,
		TableNumber: id.TableNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.SubjectID.String(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry, allowing a small clock skew.
// Only HS256 is accepted.
func Verify(cfg config.JWTConfig, raw string) (Identity, error) {
	if cfg.Secret == "" {
		return Identity{}, errors.New("jwt secret is required")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)

	var claims Claims
	if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}); err != nil {
		return Identity{}, err
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil || subject == uuid.Nil {
		return Identity{}, fmt.Errorf("token subject %q is not an id", claims.Subject)
	}
	if !claims.Role.IsValid() {
		return Identity{}, fmt.Errorf("unknown actor role %q", claims.Role)
	}
	return Identity{SubjectID: subject, Role: claims.Role, TableNumber: claims.TableNumber}, nil
}
