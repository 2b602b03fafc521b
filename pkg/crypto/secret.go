// Package crypto - шифрование секретов конфигурации и хеширование API токенов.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

// KeySize - размер ключа AES-256
const KeySize = 32

// Ошибки шифрования
var (
	ErrInvalidKeyLength   = errors.New("encryption key must be exactly 32 bytes for AES-256")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptionFailed   = errors.New("decryption failed: authentication error")
)

// ParseKey принимает ключ из ENCRYPTION_KEY: 32 байта как есть
// или base64 от 32 байт (формат GenerateKeyString)
func ParseKey(s string) ([]byte, error) {
	if len(s) == KeySize {
		return []byte(s), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(decoded) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	return decoded, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt шифрует plaintext AES-256-GCM, результат: base64(nonce || ciphertext || tag)
func Encrypt(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt расшифровывает результат Encrypt
func Decrypt(ciphertextBase64 string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(data) < gcm.NonceSize()+gcm.Overhead() {
		return "", ErrCiphertextTooShort
	}

	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// DecryptSecret расшифровывает секрет ключом в формате ENCRYPTION_KEY
func DecryptSecret(ciphertextBase64, keyString string) (string, error) {
	key, err := ParseKey(keyString)
	if err != nil {
		return "", err
	}
	return Decrypt(ciphertextBase64, key)
}

// EncryptSecret - обратная операция к DecryptSecret
func EncryptSecret(plaintext, keyString string) (string, error) {
	key, err := ParseKey(keyString)
	if err != nil {
		return "", err
	}
	return Encrypt(plaintext, key)
}

// GenerateKeyString генерирует ключ и возвращает его в base64 (для .env файла)
func GenerateKeyString() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
