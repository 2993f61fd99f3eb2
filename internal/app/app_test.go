package app

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/emoelevate/notesledger/internal/access"
	"github.com/emoelevate/notesledger/internal/common"
	"github.com/emoelevate/notesledger/internal/config"
	"github.com/emoelevate/notesledger/internal/cryptox"
	"github.com/emoelevate/notesledger/internal/kv"
	"github.com/emoelevate/notesledger/internal/notes"
	"github.com/emoelevate/notesledger/internal/secret"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubAWS(t *testing.T) {
	t.Helper()
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		return aws.Config{Region: lo.Region}, nil
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.StoreBackend = config.BackendMemory
	cfg.S3Bucket = ""
	return cfg
}

func TestNew_MemoryEndToEnd(t *testing.T) {
	stubAWS(t)
	ctx := context.Background()
	var logs bytes.Buffer

	a, err := New(ctx, testConfig(t), WithLogOutput(&logs))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	s := notes.Session{ID: "b1", ClientID: "c1", TherapistID: "t1"}
	_, err = a.Notes.Book(ctx, s, notes.Therapist{ID: "t1"})
	require.NoError(t, err)
	rec, err := a.Notes.CompleteSessionWithNotes(ctx, s, "steady progress", notes.Therapist{ID: "t1"})
	require.NoError(t, err)

	d, err := a.Notes.ReadNotes(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "steady progress", d.Text)

	_, err = a.Verifier.VerifyChain(ctx, "b1")
	require.NoError(t, err)
	assert.Contains(t, logs.String(), `"msg":"notes ledger ready"`)

	_, err = a.Archiver()
	assert.ErrorIs(t, err, ErrArchiveDisabled)
}

func TestNew_SQLiteBackend(t *testing.T) {
	stubAWS(t)
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.StoreBackend = config.BackendSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "ledger.db")

	a, err := New(ctx, cfg, WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	_, err = a.Writer.Append(ctx, map[string]any{"sessionId": "s"}, "t", "s")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	// Reopening sees the same ledger.
	a, err = New(ctx, cfg, WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	report, err := a.Verifier.VerifyChain(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Blocks)
}

func TestNew_PassphraseCustody(t *testing.T) {
	stubAWS(t)
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.KeyCustody = config.CustodyPassphrase
	cfg.PassphraseSecret = "/notesledger/test-custody-passphrase"

	_, err := New(ctx, cfg, WithLogOutput(&bytes.Buffer{}))
	require.ErrorIs(t, err, secret.ErrSecretNotFound)

	t.Setenv("TEST_CUSTODY_PASSPHRASE", "long operator passphrase")
	a, err := New(ctx, cfg, WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	s := notes.Session{ID: "b1", ClientID: "c1"}
	_, err = a.Notes.Book(ctx, s, notes.Therapist{ID: "t1"})
	require.NoError(t, err)
	rec, err := a.Notes.CompleteSessionWithNotes(ctx, s, "wrapped", notes.Therapist{ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, cryptox.SchemePassphrase, rec.KeyScheme)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	stubAWS(t)
	cfg := testConfig(t)
	cfg.StoreBackend = "etcd"

	_, err := New(context.Background(), cfg, WithLogOutput(&bytes.Buffer{}))
	assert.Error(t, err)
}

func TestNew_ArchiverConfigured(t *testing.T) {
	stubAWS(t)
	cfg := testConfig(t)
	cfg.S3Bucket = "audit"
	cfg.S3BaseEndpoint = "http://127.0.0.1:9000"
	cfg.S3AccessKey, cfg.S3SecretKey = "minio", "minio123"

	a, err := New(context.Background(), cfg, WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	arch, err := a.Archiver()
	require.NoError(t, err)
	assert.NotNil(t, arch)
}

func TestAuthenticate(t *testing.T) {
	stubAWS(t)
	ctx := context.Background()
	t.Setenv("JWT_SECRET", "signing-key")

	a, err := New(ctx, testConfig(t), WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, kv.Set(ctx, a.Store, access.UserPath("admin1"), []byte(`{"role":"admin"}`)))

	tokens, err := a.Tokens(ctx)
	require.NoError(t, err)
	tok, err := tokens.IssueToken("admin1")
	require.NoError(t, err)

	id, err := a.Authenticate(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, access.RoleAdmin, id.Role)

	_, err = a.Authenticate(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}
