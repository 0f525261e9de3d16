package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
)

const (
	base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	// DefaultIDLength gives ~125 bits from crypto/rand.
	DefaultIDLength = 21
	MinIDLength     = 20
)

// GenID returns a URL-safe alphanumeric id. Uniqueness is not checked
// against the store; the id space makes collisions negligible.
func GenID(length int) (string, error) {
	if length == 0 {
		length = DefaultIDLength
	}
	if length < MinIDLength {
		return "", errors.Errorf("id length %d below minimum %d", length, MinIDLength)
	}
	id, err := gonanoid.Generate(base62Chars, length)
	if err != nil {
		return "", errors.Wrap(err, "rand fail")
	}
	return id, nil
}
