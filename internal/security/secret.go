package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrConfiguration marks an unusable signing key. Startup must abort on it.
var ErrConfiguration = errors.New("configuration error")

const MinSecretKeyLength = 32

// known example values that must never reach production
var placeholderKeys = map[string]struct{}{
	"change-this-in-production": {},
	"secret":                    {},
	"dev":                       {},
	"test":                      {},
	"your-secret-key-here":      {},
}

func ValidateSecretKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: SECRET_KEY is not set (generate one with `api -gen-secret`)", ErrConfiguration)
	}

	if _, ok := placeholderKeys[key]; ok {
		return fmt.Errorf("%w: SECRET_KEY uses a known insecure placeholder", ErrConfiguration)
	}

	if len(key) < MinSecretKeyLength {
		return fmt.Errorf("%w: SECRET_KEY must be at least %d characters long", ErrConfiguration, MinSecretKeyLength)
	}

	return nil
}

// KeySource supplies the token signing key.
type KeySource interface {
	SigningKey() ([]byte, error)
}

// StaticKey is a KeySource backed by a configured string. It is validated on every call.
type StaticKey string

func (k StaticKey) SigningKey() ([]byte, error) {
	if err := ValidateSecretKey(string(k)); err != nil {
		return nil, err
	}
	return []byte(k), nil
}

// GenerateSecretKey returns 64 random bytes encoded as unpadded base64url.
func GenerateSecretKey() (string, error) {
	b := make([]byte, 64)

	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
