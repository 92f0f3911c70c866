package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignatureHeader carries base64(HMAC-SHA256(key, notification URL + body)).
const SignatureHeader = "x-square-hmacsha256-signature"

// VerifyWebhookSignature checks a delivery against the configured
// subscription URL and signature key.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	if c == nil {
		return false
	}
	return VerifySignature(c.webhookSecret, c.notificationURL, body, signature)
}

func VerifySignature(secret, notificationURL string, body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, notificationURL, body)), []byte(signature))
}

func Sign(secret, notificationURL string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
