package bundle

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"github.com/ptops/ptriage/pterrors"
)

// Encrypted bundles carry an outer envelope:
//
//	magic "PTBENC01" | u32 be iterations | 16-byte salt | 12-byte nonce | ciphertext
//
// The key is PBKDF2-HMAC-SHA256 over the passphrase.
var encMagic = []byte("PTBENC01")

const (
	saltLen = 16
	nonceLen = chacha20poly1305.NonceSize
	keyLen   = chacha20poly1305.KeySize

	kdfIters = 100_000
	// maxKdfIters bounds decryption work against crafted headers.
	maxKdfIters = 10_000_000

	headerLen = 8 + 4 + saltLen + nonceLen
)

// IsEncrypted reports whether the buffer starts with the envelope magic.
func IsEncrypted(data []byte) bool {
	return len(data) >= len(encMagic) && string(data[:len(encMagic)]) == string(encMagic)
}

func deriveKey(passphrase string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keyLen, sha256.New)
}

// EncryptBytes seals plaintext under a passphrase-derived key.
func EncryptBytes(plaintext []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, pterrors.New(pterrors.KindConfig, "missing bundle passphrase")
	}

	salt := make([]byte, saltLen)
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, pterrors.Wrap(pterrors.KindIo, err, "salt generation")
	}
	if _, err := rand.Read(nonce); err != nil {
		return nil, pterrors.Wrap(pterrors.KindIo, err, "nonce generation")
	}

	aead, err := chacha20poly1305.New(deriveKey(passphrase, salt, kdfIters))
	if err != nil {
		return nil, pterrors.Wrap(pterrors.KindConfig, err, "cipher init")
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, headerLen+len(ciphertext))
	out = append(out, encMagic...)
	out = binary.BigEndian.AppendUint32(out, kdfIters)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// DecryptBytes opens an envelope sealed by EncryptBytes. Rejects malformed
// headers, zero or excessive KDF iterations, and empty ciphertext.
func DecryptBytes(data []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, pterrors.New(pterrors.KindConfig, "missing bundle passphrase")
	}
	if len(data) < headerLen {
		return nil, pterrors.New(pterrors.KindSchemaValidation, "encryption header truncated")
	}
	if !IsEncrypted(data) {
		return nil, pterrors.New(pterrors.KindSchemaValidation, "bundle is not encrypted")
	}

	offset := len(encMagic)
	iterations := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	salt := data[offset : offset+saltLen]
	offset += saltLen
	nonce := data[offset : offset+nonceLen]
	offset += nonceLen

	if iterations == 0 || iterations > maxKdfIters {
		return nil, pterrors.New(pterrors.KindSchemaValidation,
			"kdf iterations %d out of accepted range", iterations)
	}
	ciphertext := data[offset:]
	if len(ciphertext) == 0 {
		return nil, pterrors.New(pterrors.KindSchemaValidation, "empty ciphertext")
	}

	aead, err := chacha20poly1305.New(deriveKey(passphrase, salt, int(iterations)))
	if err != nil {
		return nil, pterrors.Wrap(pterrors.KindConfig, err, "cipher init")
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, pterrors.New(pterrors.KindSchemaValidation, "bundle decryption failed")
	}
	return plaintext, nil
}
