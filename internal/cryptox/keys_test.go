package cryptox

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/emoelevate/notesledger/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	key1 := DeriveKey([]byte("secret-password"), []byte("fixed-salt"))
	key2 := DeriveKey([]byte("secret-password"), []byte("fixed-salt"))

	if !bytes.Equal(key1, key2) {
		t.Errorf("expected same result for same inputs, got different")
	}

	expectedHex := "9290403300158e19f27e48e7087f7383b03065bf5b25ef23ebc40229616cd8b3"
	if hex.EncodeToString(key1) != expectedHex {
		t.Errorf("expected %s, got %s", expectedHex, hex.EncodeToString(key1))
	}
}

func TestDeriveKey_DifferentSalts(t *testing.T) {
	if bytes.Equal(DeriveKey([]byte("pw"), []byte("salt-1")), DeriveKey([]byte("pw"), []byte("salt-2"))) {
		t.Errorf("expected different results for different salts, got same")
	}
}

func TestPlainKeys(t *testing.T) {
	ctx := context.Background()
	var w PlainKeys
	wrapped, err := w.Wrap(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "k", wrapped)
	assert.Equal(t, SchemePlain, w.Scheme())
}

func TestPassphraseWrapper_RoundTrip(t *testing.T) {
	ctx := context.Background()
	w := NewPassphraseWrapper("correct horse", "salt")

	p, err := Encrypt("note")
	require.NoError(t, err)

	wrapped, err := w.Wrap(ctx, p.Key)
	require.NoError(t, err)
	assert.NotEqual(t, p.Key, wrapped)

	key, err := w.Unwrap(ctx, wrapped)
	require.NoError(t, err)
	assert.Equal(t, "note", Decrypt(p.Ciphertext, key))

	_, err = NewPassphraseWrapper("wrong", "salt").Unwrap(ctx, wrapped)
	assert.True(t, errors.Is(err, common.ErrDecryption))

	empty, err := w.Wrap(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "", empty, "empty notes have no key to wrap")
}

type fakeKMS struct {
	failEncrypt error
	lastKeyID   string
}

func (f *fakeKMS) Encrypt(_ context.Context, in *kms.EncryptInput, _ ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	if f.failEncrypt != nil {
		return nil, f.failEncrypt
	}
	f.lastKeyID = aws.ToString(in.KeyId)
	return &kms.EncryptOutput{CiphertextBlob: append([]byte("kms:"), in.Plaintext...)}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	if !bytes.HasPrefix(in.CiphertextBlob, []byte("kms:")) {
		return nil, errors.New("InvalidCiphertextException")
	}
	return &kms.DecryptOutput{Plaintext: bytes.TrimPrefix(in.CiphertextBlob, []byte("kms:"))}, nil
}

func TestKMSWrapper(t *testing.T) {
	ctx := context.Background()
	f := &fakeKMS{}
	w := NewKMSWrapper(f, "alias/therapy-notes")

	wrapped, err := w.Wrap(ctx, "raw-key")
	require.NoError(t, err)
	assert.Equal(t, "alias/therapy-notes", f.lastKeyID)

	key, err := w.Unwrap(ctx, wrapped)
	require.NoError(t, err)
	assert.Equal(t, "raw-key", key)

	_, err = w.Unwrap(ctx, "bm90LWttcw==")
	assert.True(t, errors.Is(err, common.ErrDecryption))

	f.failEncrypt = errors.New("AccessDenied")
	_, err = w.Wrap(ctx, "raw-key")
	assert.True(t, errors.Is(err, common.ErrEncryption))
}

func TestKeyring_ReadsOlderSchemes(t *testing.T) {
	ctx := context.Background()
	pass := NewPassphraseWrapper("pw", "salt")
	ring := NewKeyring(NewKMSWrapper(&fakeKMS{}, "k"), pass)

	assert.Equal(t, SchemeKMS, ring.Current().Scheme())

	plain, err := ring.Unwrap(ctx, SchemePlain, "as-is")
	require.NoError(t, err)
	assert.Equal(t, "as-is", plain)

	wrapped, err := pass.Wrap(ctx, "k1")
	require.NoError(t, err)
	got, err := ring.Unwrap(ctx, SchemePassphrase, wrapped)
	require.NoError(t, err)
	assert.Equal(t, "k1", got)

	_, err = ring.Unwrap(ctx, "rot13", "x")
	assert.True(t, errors.Is(err, common.ErrDecryption))
}
