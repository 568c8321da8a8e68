package kdf

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	SessionKeySize = 32
	sessionInfo    = "haine/session"
)

// HKDF fills buffer from HKDF-SHA256 over secret.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// SessionKey derives the message key for the conversation between users a
// and b from their DH shared secret. The order of a and b does not matter.
func SessionKey(secret []byte, a, b int64) ([]byte, error) {
	if a > b {
		a, b = b, a
	}
	key := make([]byte, SessionKeySize)
	salt := []byte(fmt.Sprintf("%d:%d", a, b))
	if _, err := HKDF(secret, salt, []byte(sessionInfo), key); err != nil {
		return nil, err
	}
	return key, nil
}
