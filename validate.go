package goIdentity

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{3,32}$`)

// Validator checks user supplied registration and password input.
type Validator struct {
	MinPasswordLength int
	MaxPasswordLength int
}

// NewValidator returns the default rules: passwords between 8 and 256
// characters.
func NewValidator() *Validator {
	return &Validator{MinPasswordLength: 8, MaxPasswordLength: 256}
}

// Username accepts a letter followed by 3 to 32 letters, digits, '_' or '-'.
func (v *Validator) Username(username string) error {
	if !usernamePattern.MatchString(username) {
		return Invalid("username", "invalid")
	}
	return nil
}

// Email returns the bare, lower-cased address.
func (v *Validator) Email(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", Invalid("email", "invalid")
	}
	return strings.ToLower(addr.Address), nil
}

func (v *Validator) Password(field, pw string) error {
	n := utf8.RuneCountInString(pw)
	if n < v.MinPasswordLength {
		return Invalid(field, "too short")
	}
	if v.MaxPasswordLength > 0 && n > v.MaxPasswordLength {
		return Invalid(field, "too long")
	}
	return nil
}
