package stripe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tableserve-backend/pkg/config"
)

func TestNewClientValidation(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.StripeConfig
		wantErr error
		errText string
	}{
		{name: "missing key", cfg: config.StripeConfig{Secret: "whsec"}, wantErr: errAPIKeyRequired},
		{name: "missing secret", cfg: config.StripeConfig{APIKey: "sk_test_123"}, wantErr: errSecretRequired},
		{name: "unknown env", cfg: config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec", Env: "staging"}, wantErr: errInvalidStripeEnv},
		{name: "live key in test", cfg: config.StripeConfig{APIKey: "sk_live_123", Secret: "whsec", Env: "test"}, errText: "sk_test/rk_test"},
		{name: "publishable key", cfg: config.StripeConfig{APIKey: "pk_live_123", Secret: "whsec", Env: "live"}, errText: "sk_live/rk_live"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewClient(context.Background(), tc.cfg, nil)
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
			if tc.errText != "" {
				assert.ErrorContains(t, err, tc.errText)
			}
		})
	}
}

func TestNewClientNormalizesEnv(t *testing.T) {
	c, err := NewClient(context.Background(), config.StripeConfig{APIKey: " rk_live_123 ", Secret: "whsec", Env: "LIVE"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "live", c.Environment())
	assert.Equal(t, "whsec", c.SigningSecret())
	assert.NotNil(t, c.API())

	c, err = NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_1", Secret: "whsec"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "test", c.Environment())
}

func TestNilClientAccessors(t *testing.T) {
	var c *Client
	assert.Nil(t, c.API())
	assert.Empty(t, c.Environment())
	assert.Empty(t, c.SigningSecret())
}
