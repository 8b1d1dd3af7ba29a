package usecase

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/wre314954-sudo/wirenew/internal/infra/security"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Validator checks input shape before any backend call.
type Validator struct {
	phone     *regexp.Regexp
	passwords *security.PasswordValidator
	codeLen   int
}

// NewValidator compiles the phone pattern and password rules from settings.
func NewValidator(settings Settings) (*Validator, error) {
	settings = settings.withDefaults()
	phone, err := regexp.Compile(settings.PhonePattern)
	if err != nil {
		return nil, fmt.Errorf("compile phone pattern: %w", err)
	}
	return &Validator{
		phone:     phone,
		passwords: security.NewCustomerPasswordValidator(settings.MinPasswordLength, settings.MinPasswordScore),
		codeLen:   settings.CodeLength,
	}, nil
}

// IsEmail reports whether value looks like an email address.
func (v *Validator) IsEmail(value string) bool {
	return emailPattern.MatchString(strings.TrimSpace(value))
}

// IsPhone reports whether value is a 10 digit number with a valid leading digit.
func (v *Validator) IsPhone(value string) bool {
	return v.phone.MatchString(strings.TrimSpace(value))
}

func (v *Validator) email(value string) (string, error) {
	value = strings.TrimSpace(value)
	if !v.IsEmail(value) {
		return "", validationError("enter a valid email address")
	}
	return strings.ToLower(value), nil
}

func (v *Validator) phoneNumber(value string) (string, error) {
	value = strings.TrimSpace(value)
	if !v.IsPhone(value) {
		return "", validationError("enter a valid 10-digit mobile number")
	}
	return value, nil
}

func (v *Validator) password(value string) error {
	if err := v.passwords.Validate(value); err != nil {
		return validationError("%v", err)
	}
	return nil
}

func (v *Validator) code(value string) (string, error) {
	value = strings.TrimSpace(value)
	if len(value) != v.codeLen {
		return "", fmt.Errorf("%w: expected %d digits", ErrInvalidCodeFormat, v.codeLen)
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: expected %d digits", ErrInvalidCodeFormat, v.codeLen)
		}
	}
	return value, nil
}
