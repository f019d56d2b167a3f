package vigil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionNonceSize is the nonce size for AES-GCM
	EncryptionNonceSize = 12
	// EncryptionSaltSize is the salt size for key derivation
	EncryptionSaltSize = 32
	// EncryptionKeySize is the AES-256 key size
	EncryptionKeySize = 32
	// PBKDF2Iterations is the number of iterations for key derivation
	PBKDF2Iterations = 100000
)

// MagicEncrypted prefixes encrypted model blobs.
var MagicEncrypted = [4]byte{'V', 'E', 'N', 'C'}

// EncryptedHeaderSize is the size of the encrypted blob header.
const EncryptedHeaderSize = 4 + 1 + EncryptionSaltSize

const encryptedHeaderVersion = 1

// ErrDecrypt is returned when a blob cannot be decrypted with the
// configured password.
var ErrDecrypt = errors.New("vigil: decryption failed")

// Encryptor provides AES-256-GCM encryption keyed by a PBKDF2-derived key.
type Encryptor struct {
	gcm  cipher.AEAD
	salt []byte
}

// NewEncryptor derives a key from password using a fresh random salt.
func NewEncryptor(password string) (*Encryptor, error) {
	if password == "" {
		return nil, configError("encryption password must not be empty")
	}
	salt := make([]byte, EncryptionSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return NewEncryptorWithSalt(password, salt)
}

// NewEncryptorWithSalt creates an encryptor using an existing salt (for decryption).
func NewEncryptorWithSalt(password string, salt []byte) (*Encryptor, error) {
	if len(salt) != EncryptionSaltSize {
		return nil, errors.New("invalid salt size")
	}

	key := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{gcm: gcm, salt: append([]byte(nil), salt...)}, nil
}

// Salt returns the salt used for key derivation.
func (e *Encryptor) Salt() []byte {
	return e.salt
}

// Encrypt encrypts plaintext and returns ciphertext with prepended nonce.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, EncryptionNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext (with prepended nonce) and returns plaintext.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < EncryptionNonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	nonce := ciphertext[:EncryptionNonceSize]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext[EncryptionNonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

// Seal encrypts data and prepends the header carrying the salt, so the
// blob can be opened later with only the password.
func (e *Encryptor) Seal(data []byte) ([]byte, error) {
	ct, err := e.Encrypt(data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, EncryptedHeaderSize+len(ct))
	out = append(out, MagicEncrypted[:]...)
	out = append(out, encryptedHeaderVersion)
	out = append(out, e.salt...)
	return append(out, ct...), nil
}

// IsEncrypted reports whether data starts with the encrypted blob header.
func IsEncrypted(data []byte) bool {
	return len(data) >= EncryptedHeaderSize && [4]byte(data[:4]) == MagicEncrypted
}

// OpenSealed reverses Seal using password.
func OpenSealed(password string, data []byte) ([]byte, error) {
	if !IsEncrypted(data) {
		return nil, errors.New("invalid encrypted blob magic")
	}
	if data[4] != encryptedHeaderVersion {
		return nil, fmt.Errorf("unsupported encrypted blob version %d", data[4])
	}
	enc, err := NewEncryptorWithSalt(password, data[5:EncryptedHeaderSize])
	if err != nil {
		return nil, err
	}
	return enc.Decrypt(data[EncryptedHeaderSize:])
}
