package middleware

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateMessageContent validates outbound message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > 100000 { // ~100KB limit
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidatePhoneNumber validates a recipient phone number in E.164-ish form:
// digits only, optional leading +, 7 to 15 digits.
func ValidatePhoneNumber(phone string) error {
	p := strings.TrimPrefix(phone, "+")
	if len(p) < 7 || len(p) > 15 {
		return errors.New("invalid phone number length")
	}
	for _, r := range p {
		if !unicode.IsDigit(r) {
			return errors.New("phone number must contain only digits")
		}
	}
	return nil
}
