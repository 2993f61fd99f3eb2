// Package app wires configuration into a ready-to-use notes ledger: the
// store backend, key custody, the ledger, the note manager, access control
// and the S3 archiver.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/emoelevate/notesledger/internal/access"
	"github.com/emoelevate/notesledger/internal/archive"
	"github.com/emoelevate/notesledger/internal/config"
	"github.com/emoelevate/notesledger/internal/cryptox"
	"github.com/emoelevate/notesledger/internal/filex"
	"github.com/emoelevate/notesledger/internal/kv"
	"github.com/emoelevate/notesledger/internal/kv/badgerkv"
	"github.com/emoelevate/notesledger/internal/kv/dynamokv"
	"github.com/emoelevate/notesledger/internal/kv/memkv"
	"github.com/emoelevate/notesledger/internal/kv/postgreskv"
	"github.com/emoelevate/notesledger/internal/kv/sqlitekv"
	"github.com/emoelevate/notesledger/internal/ledger"
	"github.com/emoelevate/notesledger/internal/logging"
	"github.com/emoelevate/notesledger/internal/notes"
	"github.com/emoelevate/notesledger/internal/secret"
)

// ErrArchiveDisabled is returned by Archiver when no bucket is configured.
var ErrArchiveDisabled = errors.New("archive bucket not configured")

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

type App struct {
	Config    *config.Config
	Logger    logging.Logger
	Store     kv.Store
	Writer    *ledger.Writer
	Verifier  *ledger.Verifier
	Notes     *notes.Manager
	Guarded   *notes.Guarded
	Directory *access.Directory
	Policy    *access.Policy
	Secrets   secret.Resolver

	archiver *archive.Archiver

	tokensMu sync.Mutex
	tokens   *access.Tokens
}

type options struct {
	logOutput io.Writer
}

type Option func(*options)

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// New builds an App from cfg. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{logOutput: os.Stderr}
	for _, fn := range opts {
		fn(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(o.logOutput, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	raw, err := openStore(ctx, cfg, awsCfg)
	if err != nil {
		return nil, fmt.Errorf("store init error: %w", err)
	}
	store := kv.WithTimeout(raw, cfg.StoreTimeout)

	var secrets secret.Resolver = secret.NewEnvResolver()
	if cfg.SecretSource == config.SecretsSSM {
		secrets = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
	}

	keys, err := keyring(ctx, cfg, awsCfg, secrets)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("key custody init error: %w", err)
	}

	writer := ledger.NewWriter(store, logger, ledger.WithAttempts(cfg.AppendRetries))
	verifier := ledger.NewVerifier(store, logger)
	manager := notes.NewManager(store, writer, verifier, keys, logger)
	policy := access.NewPolicy(store)

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Writer:    writer,
		Verifier:  verifier,
		Notes:     manager,
		Guarded:   notes.NewGuarded(manager, policy),
		Directory: access.NewDirectory(store),
		Policy:    policy,
		Secrets:   secrets,
	}

	if cfg.S3Bucket != "" {
		s3Cfg := awsCfg.Copy()
		if cfg.S3AccessKey != "" {
			s3Cfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")
		}
		client, presign := archive.NewClients(s3Cfg, cfg.S3BaseEndpoint)
		a.archiver = archive.New(verifier, client, presign, cfg.S3Bucket, logger)
	}

	logger.Info(ctx, "notes ledger ready", "store", cfg.StoreBackend, "custody", cfg.KeyCustody)
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, awsCfg aws.Config) (kv.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return memkv.New(), nil
	case config.BackendSQLite:
		if err := filex.EnsureParentDir(cfg.SQLitePath); err != nil {
			return nil, err
		}
		return sqlitekv.Open(ctx, cfg.SQLitePath)
	case config.BackendPostgres:
		return postgreskv.Open(ctx, cfg.DatabaseDSN)
	case config.BackendBadger:
		if cfg.BadgerDir != "" {
			if err := filex.EnsureDir(cfg.BadgerDir); err != nil {
				return nil, err
			}
		}
		return badgerkv.Open(cfg.BadgerDir)
	case config.BackendDynamoDB:
		return dynamokv.New(dynamodb.NewFromConfig(awsCfg), cfg.DynamoTable), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// keyring picks the wrapper for new keys. A configured KMS key also stays
// available for reading after custody moves elsewhere.
func keyring(ctx context.Context, cfg *config.Config, awsCfg aws.Config, secrets secret.Resolver) (*cryptox.Keyring, error) {
	var readers []cryptox.KeyWrapper
	var kmsWrapper *cryptox.KMSWrapper
	if cfg.KMSKeyID != "" {
		kmsWrapper = cryptox.NewKMSWrapper(kms.NewFromConfig(awsCfg), cfg.KMSKeyID)
		readers = append(readers, kmsWrapper)
	}

	switch cfg.KeyCustody {
	case config.CustodyKMS:
		return cryptox.NewKeyring(kmsWrapper, readers...), nil
	case config.CustodyPassphrase:
		pass, err := secrets.GetSecret(ctx, cfg.PassphraseSecret)
		if err != nil {
			return nil, err
		}
		return cryptox.NewKeyring(cryptox.NewPassphraseWrapper(pass, cfg.PassphraseSalt), readers...), nil
	}
	return cryptox.NewKeyring(cryptox.PlainKeys{}, readers...), nil
}

// Tokens returns the token service, resolving the signing secret on first use.
func (a *App) Tokens(ctx context.Context) (*access.Tokens, error) {
	a.tokensMu.Lock()
	defer a.tokensMu.Unlock()
	if a.tokens != nil {
		return a.tokens, nil
	}
	key, err := a.Secrets.GetSecret(ctx, a.Config.JWTSecretName)
	if err != nil {
		return nil, fmt.Errorf("token signing secret: %w", err)
	}
	a.tokens = access.NewTokens([]byte(key), a.Config.TokenValidity)
	return a.tokens, nil
}

// Authenticate resolves the caller behind a bearer token.
func (a *App) Authenticate(ctx context.Context, token string) (access.Identity, error) {
	tokens, err := a.Tokens(ctx)
	if err != nil {
		return access.Identity{}, err
	}
	return access.Authenticate(ctx, tokens, a.Directory, token)
}

func (a *App) Archiver() (*archive.Archiver, error) {
	if a.archiver == nil {
		return nil, ErrArchiveDisabled
	}
	return a.archiver, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}
