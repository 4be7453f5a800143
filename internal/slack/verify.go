package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// Signature errors.
var (
	ErrMissingSignature = errors.New("slack: missing signature headers")
	ErrStaleRequest     = errors.New("slack: request timestamp outside tolerance")
	ErrBadSignature     = errors.New("slack: signature mismatch")
)

// signatureTolerance bounds replay of captured requests.
const signatureTolerance = 5 * time.Minute

// VerifySignature checks the v0 HMAC-SHA256 request signature Slack sends
// with every webhook.
func VerifySignature(secret string, h http.Header, body []byte, now time.Time) error {
	ts := h.Get("X-Slack-Request-Timestamp")
	sig := h.Get("X-Slack-Signature")
	if ts == "" || sig == "" {
		return ErrMissingSignature
	}
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrMissingSignature
	}
	if d := now.Sub(time.Unix(secs, 0)); d > signatureTolerance || d < -signatureTolerance {
		return ErrStaleRequest
	}
	if !hmac.Equal([]byte(Sign(secret, ts, body)), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the v0 signature for a timestamp and body.
func Sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}
