package security

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// HashPassword hashes a plain text password with bcrypt.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a bcrypt hash with a plaintext password.
func CheckPassword(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}

// AdminCredentials is the single operator account, configured by username and bcrypt hash.
type AdminCredentials struct {
	Username     string
	PasswordHash string
}

func (a AdminCredentials) Configured() bool {
	return a.Username != "" && a.PasswordHash != ""
}

// Verify runs the bcrypt comparison even on a username mismatch so both failures take
// roughly the same time.
func (a AdminCredentials) Verify(username, password string) error {
	if !a.Configured() {
		return ErrInvalidCredentials
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.Username)) == 1
	passErr := CheckPassword(a.PasswordHash, password)
	if !userOK || passErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}
