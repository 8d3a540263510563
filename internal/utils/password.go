package utils

import "golang.org/x/crypto/bcrypt"

// PasswordCost is the bcrypt cost factor used for every stored password.
const PasswordCost = 12

// HashPassword returns a bcrypt hash of plain using PasswordCost. The salt is
// generated by bcrypt itself.
func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password. A malformed
// or empty hash reports false.
func VerifyPassword(hash, plain string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
