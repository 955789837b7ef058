package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// Parameters for sealing the shared family password. The key is derived from
// the admin's password with PBKDF2-SHA256; the stored blob is
// base64(salt || nonce || ciphertext) with the GCM tag inside the ciphertext.
const (
	keyLength   = 32
	saltLength  = 16
	nonceLength = 12
	iterations  = 480000
)

var ErrDecryptFailed = errors.New("crypto: decryption failed")

// SealFamilyPassword encrypts the shared family password using a key derived
// from the admin's password. Only someone holding the admin password can
// recover it.
func SealFamilyPassword(familyPassword, adminPassword string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	aead, err := newAEAD(adminPassword, salt)
	if err != nil {
		return "", err
	}

	ciphertext := aead.Seal(nil, nonce, []byte(familyPassword), nil)

	blob := make([]byte, 0, saltLength+nonceLength+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// OpenFamilyPassword decrypts a sealed family password with the admin's
// password. Returns ErrDecryptFailed on a wrong password or corrupted blob.
func OpenFamilyPassword(sealed, adminPassword string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(blob) < saltLength+nonceLength+1 {
		return "", ErrDecryptFailed
	}

	salt := blob[:saltLength]
	nonce := blob[saltLength : saltLength+nonceLength]
	ciphertext := blob[saltLength+nonceLength:]

	aead, err := newAEAD(adminPassword, salt)
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

func newAEAD(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, iterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// GenerateFamilyPassword returns a short shared password for a new family.
func GenerateFamilyPassword() string {
	return uuid.New().String()[:8]
}

// HashPassword hashes a login password with bcrypt.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword reports whether the password matches the stored hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
