package auth

import "golang.org/x/crypto/bcrypt"

const bcryptCost = 12

// HashPassword returns the bcrypt hash of a raw password.
func HashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether raw matches the stored bcrypt hash.
// bcrypt's comparison is timing-safe.
func VerifyPassword(raw, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(raw)) == nil
}
