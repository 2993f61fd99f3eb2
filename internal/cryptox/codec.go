// Package cryptox encrypts therapy notes. Every note gets its own AES-256-GCM
// key; the stored form is base64(nonce || ciphertext) and the key travels
// next to it as base64 of the raw key bytes, optionally wrapped by a
// KeyWrapper.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/emoelevate/notesledger/internal/common"
)

const (
	KeySize   = 32
	NonceSize = 12
)

// base64Pattern is the shape a stored ciphertext must have before a
// decryption is attempted. Anything else is treated as legacy plaintext.
var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// EncryptedPayload is the stored form of one note.
type EncryptedPayload struct {
	Ciphertext string
	Key        string
}

// Status tells how Open produced its text.
type Status int

const (
	// StatusDecrypted: the payload was decrypted and authenticated.
	StatusDecrypted Status = iota
	// StatusLegacy: payload or key was empty, the text is the payload as stored.
	StatusLegacy
	// StatusNotEncoded: the payload is not base64, so it was never encrypted.
	StatusNotEncoded
	// StatusFailed: decoding, key import or authentication failed.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDecrypted:
		return "decrypted"
	case StatusLegacy:
		return "legacy"
	case StatusNotEncoded:
		return "not-encoded"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Decrypted is the result of Open. Text is always safe to show: on any
// status other than StatusDecrypted it is the stored payload unchanged.
type Decrypted struct {
	Text   string
	Status Status
	// Err is set for StatusFailed and wraps common.ErrDecryption.
	Err error
}

// Ok reports whether Text is authenticated plaintext.
func (d Decrypted) Ok() bool { return d.Status == StatusDecrypted }

// Encrypt encrypts plaintext under a freshly generated 256-bit key.
//
// A new random 12-byte nonce is drawn for every call, so encrypting the same
// text twice yields different ciphertexts and keys. An empty plaintext is
// not encrypted at all and yields an empty payload.
//
// Returns:
//   - the payload: Ciphertext is base64(nonce || ciphertext||tag), Key is
//     base64 of the raw key.
//   - err: wraps common.ErrEncryption when randomness or the cipher fails.
//
// Example:
//
//	p, err := cryptox.Encrypt("Client reported improved sleep.")
//	if err != nil {
//	    return err
//	}
//	// store p.Ciphertext and p.Key together
func Encrypt(plaintext string) (EncryptedPayload, error) {
	if plaintext == "" {
		return EncryptedPayload{}, nil
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return EncryptedPayload{}, fmt.Errorf("%w: generate key: %w", common.ErrEncryption, err)
	}
	defer common.WipeByteArray(key)

	sealed, err := seal(key, []byte(plaintext))
	if err != nil {
		return EncryptedPayload{}, fmt.Errorf("%w: %w", common.ErrEncryption, err)
	}

	return EncryptedPayload{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
		Key:        ExportKey(key),
	}, nil
}

// Open decrypts a stored payload and tags how the returned text was obtained.
//
// The checks run in order:
//  1. empty payload or key: StatusLegacy, text is the payload (or "").
//  2. payload not matching the base64 alphabet: StatusNotEncoded.
//  3. base64 decode, key import, nonce split and GCM authentication:
//     any failure gives StatusFailed with Err set.
//
// Open never returns an error value; callers that only need the string use
// Decrypt.
func Open(payload, key string) Decrypted {
	if payload == "" || key == "" {
		return Decrypted{Text: payload, Status: StatusLegacy}
	}
	if !base64Pattern.MatchString(payload) {
		return Decrypted{Text: payload, Status: StatusNotEncoded}
	}

	failed := func(err error) Decrypted {
		return Decrypted{Text: payload, Status: StatusFailed, Err: fmt.Errorf("%w: %w", common.ErrDecryption, err)}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return failed(fmt.Errorf("decode payload: %w", err))
	}
	raw, err := ImportKey(key)
	if err != nil {
		return failed(err)
	}
	defer common.WipeByteArray(raw)

	plaintext, err := open(raw, data)
	if err != nil {
		return failed(err)
	}
	return Decrypted{Text: string(plaintext), Status: StatusDecrypted}
}

// Decrypt returns the plaintext of payload, or payload itself when it is
// empty, not encrypted, or cannot be decrypted with key.
func Decrypt(payload, key string) string {
	return Open(payload, key).Text
}

// ExportKey encodes raw key bytes for storage.
func ExportKey(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// ImportKey decodes a stored key and checks it is a valid AES key length.
func ImportKey(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	switch len(raw) {
	case 16, 24, 32:
		return raw, nil
	}
	return nil, fmt.Errorf("invalid key length %d", len(raw))
}

// Digest is the lowercase hex SHA-256 of s. Ledger blocks carry the digest
// of a note's ciphertext so a record can be checked against its block.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// seal returns nonce || GCM(plaintext).
func seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// open reverses seal.
func open(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < NonceSize+aesgcm.Overhead() {
		return nil, fmt.Errorf("payload too short: %d bytes", len(data))
	}
	return aesgcm.Open(nil, data[:NonceSize], data[NonceSize:], nil)
}
