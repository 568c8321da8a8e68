package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
)

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "aes.NewCipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "cipher.NewGCM")
	}
	return aead, nil
}

// AEADEncrypt seals plaintext with AES-GCM and returns nonce || ciphertext.
// key must be 16, 24 or 32 bytes.
func AEADEncrypt(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "rand.Read nonce")
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

func AEADDecrypt(key, nonceAndCiphertext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	ns := aead.NonceSize()
	if len(nonceAndCiphertext) < ns {
		return nil, errors.New("ciphertext too short")
	}
	plain, err := aead.Open(nil, nonceAndCiphertext[:ns], nonceAndCiphertext[ns:], aad)
	if err != nil {
		return nil, errors.Wrap(err, "aead.Open")
	}
	return plain, nil
}

// SealString encrypts text into a base64 string that fits a message body.
func SealString(key []byte, text string, aad []byte) (string, error) {
	ct, err := AEADEncrypt(key, []byte(text), aad)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

func OpenString(key []byte, sealed string, aad []byte) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", errors.Wrap(err, "decode ciphertext")
	}
	plain, err := AEADDecrypt(key, ct, aad)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
