package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"cipherchat/internal/apperr"
)

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword returns apperr.ErrInvalidCredential on mismatch.
func CheckPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return apperr.ErrInvalidCredential
	}
	if err != nil {
		return apperr.Internal("failed to verify password", err)
	}
	return nil
}
