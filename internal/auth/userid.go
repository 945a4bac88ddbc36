package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	minUserID = 1_000_000
	maxUserID = 999_999_999_999
)

// NewUserID returns a random public id of 7 to 12 decimal digits.
func NewUserID() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxUserID-minUserID))
	if err != nil {
		return "", fmt.Errorf("failed to generate user id: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+minUserID), nil
}
