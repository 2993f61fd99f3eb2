package cryptox

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/emoelevate/notesledger/internal/common"
	"golang.org/x/crypto/argon2"
)

// Key custody scheme names, stored next to every wrapped key.
const (
	SchemePlain      = ""
	SchemeKMS        = "kms"
	SchemePassphrase = "argon2id-aesgcm"
)

// KeyWrapper protects exported note keys at rest.
type KeyWrapper interface {
	// Scheme names the wrapping so a reader can pick the right unwrapper.
	Scheme() string
	Wrap(ctx context.Context, key string) (string, error)
	Unwrap(ctx context.Context, wrapped string) (string, error)
}

// PlainKeys stores keys as exported, next to the ciphertext.
type PlainKeys struct{}

func (PlainKeys) Scheme() string { return SchemePlain }

func (PlainKeys) Wrap(_ context.Context, key string) (string, error) { return key, nil }

func (PlainKeys) Unwrap(_ context.Context, wrapped string) (string, error) { return wrapped, nil }

// DeriveKey stretches a passphrase into a 32-byte key with argon2id
// (t=1, m=64MiB, p=4).
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

// PassphraseWrapper seals note keys with AES-GCM under a key derived from an
// operator passphrase.
type PassphraseWrapper struct {
	kek []byte
}

func NewPassphraseWrapper(passphrase, salt string) *PassphraseWrapper {
	return &PassphraseWrapper{kek: DeriveKey([]byte(passphrase), []byte(salt))}
}

func (w *PassphraseWrapper) Scheme() string { return SchemePassphrase }

func (w *PassphraseWrapper) Wrap(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	sealed, err := seal(w.kek, []byte(key))
	if err != nil {
		return "", fmt.Errorf("%w: wrap key: %w", common.ErrEncryption, err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (w *PassphraseWrapper) Unwrap(_ context.Context, wrapped string) (string, error) {
	if wrapped == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return "", fmt.Errorf("%w: decode wrapped key: %w", common.ErrDecryption, err)
	}
	key, err := open(w.kek, data)
	if err != nil {
		return "", fmt.Errorf("%w: unwrap key: %w", common.ErrDecryption, err)
	}
	return string(key), nil
}

// KMSAPI is the subset of *kms.Client used by KMSWrapper.
type KMSAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSWrapper encrypts note keys with an AWS KMS key.
// keyID can be a key ID, key ARN, or alias name (e.g. "alias/therapy-notes").
type KMSWrapper struct {
	client KMSAPI
	keyID  string
}

func NewKMSWrapper(client KMSAPI, keyID string) *KMSWrapper {
	return &KMSWrapper{client: client, keyID: keyID}
}

func (w *KMSWrapper) Scheme() string { return SchemeKMS }

// Wrap returns the base64 KMS ciphertext blob of key.
func (w *KMSWrapper) Wrap(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	out, err := w.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(w.keyID),
		Plaintext: []byte(key),
	})
	if err != nil {
		return "", fmt.Errorf("%w: kms encrypt: %w", common.ErrEncryption, err)
	}
	return base64.StdEncoding.EncodeToString(out.CiphertextBlob), nil
}

func (w *KMSWrapper) Unwrap(ctx context.Context, wrapped string) (string, error) {
	if wrapped == "" {
		return "", nil
	}
	blob, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return "", fmt.Errorf("%w: decode wrapped key: %w", common.ErrDecryption, err)
	}
	out, err := w.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: blob,
		KeyId:          aws.String(w.keyID),
	})
	if err != nil {
		return "", fmt.Errorf("%w: kms decrypt: %w", common.ErrDecryption, err)
	}
	return string(out.Plaintext), nil
}

// Keyring picks the unwrapper for a stored scheme. Records written before a
// custody change keep their original scheme and stay readable.
type Keyring struct {
	current KeyWrapper
	byName  map[string]KeyWrapper
}

// NewKeyring uses current for new keys and accepts every wrapper given
// (current included) for reading.
func NewKeyring(current KeyWrapper, others ...KeyWrapper) *Keyring {
	k := &Keyring{current: current, byName: map[string]KeyWrapper{SchemePlain: PlainKeys{}}}
	for _, w := range append(others, current) {
		k.byName[w.Scheme()] = w
	}
	return k
}

func (k *Keyring) Current() KeyWrapper { return k.current }

// Unwrap unwraps key according to scheme.
func (k *Keyring) Unwrap(ctx context.Context, scheme, key string) (string, error) {
	w, ok := k.byName[scheme]
	if !ok {
		return "", fmt.Errorf("%w: no unwrapper for key scheme %q", common.ErrDecryption, scheme)
	}
	return w.Unwrap(ctx, key)
}
