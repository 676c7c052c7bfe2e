package model

import (
	"fmt"
	"strings"
	"unicode"
)

type PasswordPolicy struct {
	MinLength        int      `json:"min_length" mapstructure:"min_length"`
	RequireLetters   bool     `json:"require_letters" mapstructure:"require_letters"`
	RequireNumbers   bool     `json:"require_numbers" mapstructure:"require_numbers"`
	BlockedPasswords []string `json:"blocked_passwords" mapstructure:"blocked_passwords"`
}

func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		RequireLetters:   true,
		RequireNumbers:   true,
		BlockedPasswords: []string{"password1", "12345678a", "qwerty123"},
	}
}

// Check returns a user-facing reason when password breaks the policy.
func (p PasswordPolicy) Check(password string) error {
	if len(password) < p.MinLength {
		return fmt.Errorf("password must be at least %d characters", p.MinLength)
	}
	var letters, digits bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letters = true
		case unicode.IsDigit(r):
			digits = true
		}
	}
	if p.RequireLetters && !letters {
		return fmt.Errorf("password must contain a letter")
	}
	if p.RequireNumbers && !digits {
		return fmt.Errorf("password must contain a number")
	}
	for _, blocked := range p.BlockedPasswords {
		if strings.EqualFold(password, blocked) {
			return fmt.Errorf("password is too common")
		}
	}
	return nil
}
