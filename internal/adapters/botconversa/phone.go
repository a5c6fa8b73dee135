package botconversa

import (
	"fmt"
	"strings"
)

// NormalizePhone reduces a phone number to the digit-only form BotConversa
// expects (E.164 without the plus sign, e.g. "5511999990000"). Formatting
// characters are stripped; anything else makes the input invalid.
func NormalizePhone(phone string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')' || r == '.':
			// formatting noise
		default:
			return "", fmt.Errorf("%w: unexpected character %q in %q", ErrInvalidPhoneFormat, r, phone)
		}
	}
	digits := b.String()
	if len(digits) < 10 || len(digits) > 15 {
		return "", fmt.Errorf("%w: %q has %d digits, want 10-15", ErrInvalidPhoneFormat, phone, len(digits))
	}
	return digits, nil
}
