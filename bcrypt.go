package accounts

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrNoEmptyString rejects empty passwords before hashing
var ErrNoEmptyString = errors.New("password must not be empty")

// ErrMismatchedHashAndPassword is the normalized bcrypt mismatch error
var ErrMismatchedHashAndPassword = errors.New("hash and password mismatch")

// BcryptCost is the work factor used for new password hashes.
var BcryptCost = 12

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// dummyHash is a valid bcrypt digest of a random throwaway value. Login runs
// a comparison against it when the identifier is unknown so both failure
// paths cost one bcrypt verification.
var dummyHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte("go-accounts.dummy.credential"), BcryptCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}()

// CompareDummyHash burns one bcrypt comparison and always fails.
func CompareDummyHash(password string) error {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
	return ErrMismatchedHashAndPassword
}
