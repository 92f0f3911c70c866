package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tableserve-backend/pkg/config"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
)

var cfg = config.JWTConfig{Secret: "secret", Issuer: "tableserve", ExpirationMinutes: 30}

func TestIssueThenVerify(t *testing.T) {
	table := 7
	in := Identity{SubjectID: uuid.New(), Role: enums.ActorRoleGuest, TableNumber: &table}

	raw, err := Issue(cfg, time.Now(), in)
	require.NoError(t, err)

	out, err := Verify(cfg, raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestIssueRejectsBadIdentity(t *testing.T) {
	cases := map[string]struct {
		cfg config.JWTConfig
		id  Identity
	}{
		"unknown role":  {cfg, Identity{SubjectID: uuid.New(), Role: "chef"}},
		"no subject":    {cfg, Identity{Role: enums.ActorRoleStaff}},
		"no secret":     {config.JWTConfig{Issuer: "tableserve", ExpirationMinutes: 5}, Identity{SubjectID: uuid.New(), Role: enums.ActorRoleStaff}},
		"no expiration": {config.JWTConfig{Secret: "s", Issuer: "tableserve"}, Identity{SubjectID: uuid.New(), Role: enums.ActorRoleStaff}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Issue(tc.cfg, time.Now(), tc.id)
			assert.Error(t, err)
		})
	}
}

func TestVerifyRejects(t *testing.T) {
	staff := Identity{SubjectID: uuid.New(), Role: enums.ActorRoleStaff}

	expired, err := Issue(cfg, time.Now().Add(-time.Hour), staff)
	require.NoError(t, err)
	_, err = Verify(cfg, expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	valid, err := Issue(cfg, time.Now(), staff)
	require.NoError(t, err)
	other := cfg
	other.Issuer = "someone-else"
	_, err = Verify(other, valid)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	other = cfg
	other.Secret = "rotated"
	_, err = Verify(other, valid)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: enums.ActorRoleStaff}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = Verify(cfg, unsigned)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestVerifyRequiresSubjectID(t *testing.T) {
	raw, err := jwt.NewWithClaims(signingMethod, Claims{
		Role: enums.ActorRoleStaff,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "staff-7",
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte(cfg.Secret))
	require.NoError(t, err)

	_, err = Verify(cfg, raw)
	assert.ErrorContains(t, err, "staff-7")
}
