package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/forPelevin/gomoji"
	"github.com/rivo/uniseg"
)

const (
	MaxChannelNameLength = 64
	// MaxGrantDays bounds a single grant request.
	MaxGrantDays = 3650
)

var (
	phonePattern = regexp.MustCompile(`^[1-9][0-9]{5,15}$`)
)

// ValidateChannelName applies WhatsApp display-name rules: 1 to 64 visible
// characters, no emoji, no control characters.
func ValidateChannelName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return errors.New("name cannot be empty")
	}
	if n := uniseg.GraphemeClusterCount(trimmed); n > MaxChannelNameLength {
		return fmt.Errorf("name must be at most %d characters, got %d", MaxChannelNameLength, n)
	}
	if gomoji.ContainsEmoji(trimmed) {
		return errors.New("name cannot contain emoji")
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return errors.New("name cannot contain control characters")
		}
	}
	return nil
}

// ValidatePhone ensures international format (no leading 0, digits only, length 6-16).
func ValidatePhone(phone string) error {
	trimmed := strings.TrimSpace(phone)
	if trimmed == "" {
		return errors.New("phone number cannot be empty")
	}
	trimmed = strings.TrimPrefix(trimmed, "+")
	if strings.HasPrefix(trimmed, "0") {
		return errors.New("phone number must be in international format without leading 0")
	}
	if !phonePattern.MatchString(trimmed) {
		return errors.New("phone number must be digits only and at least 6 characters")
	}
	return nil
}

// ValidateDays checks a grant amount.
func ValidateDays(days int) error {
	if days <= 0 {
		return errors.New("days must be a positive integer")
	}
	if days > MaxGrantDays {
		return fmt.Errorf("days must be at most %d", MaxGrantDays)
	}
	return nil
}

// ValidateRequired rejects blank values of the named field.
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}
