package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
)

var (
	// ErrInvalidSignature indicates a missing, malformed, or mismatched
	// webhook signature. The payload must be rejected with no side effects.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrVerificationFailed indicates a failed subscription handshake.
	ErrVerificationFailed = errors.New("webhook verification failed")
)

const signaturePrefix = "sha256="

// Validator verifies webhook authenticity and answers the provider's
// subscription handshake.
type Validator struct {
	secret      string
	verifyToken string
	logger      *logger.Logger
}

// NewValidator creates a validator. An empty secret disables signature
// checking (permissive development mode; every skip is logged).
func NewValidator(secret, verifyToken string, log *logger.Logger) *Validator {
	return &Validator{
		secret:      secret,
		verifyToken: verifyToken,
		logger:      log,
	}
}

// Verify recomputes the HMAC-SHA256 digest of body and compares it to the
// x-hub-signature-256 header value in constant time. Fails closed.
func (v *Validator) Verify(body []byte, header string) error {
	if v.secret == "" {
		v.logger.Warn("webhook signature validation skipped: no secret configured")
		return nil
	}

	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrInvalidSignature
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(body)

	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrInvalidSignature
	}

	return nil
}

// Handshake answers the provider's GET verification request. The challenge is
// returned verbatim iff mode is "subscribe" and the token matches.
func (v *Validator) Handshake(mode, token, challenge string) (string, error) {
	if mode != "subscribe" || token == "" || token != v.verifyToken {
		return "", ErrVerificationFailed
	}
	return challenge, nil
}
