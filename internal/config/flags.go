package config

import (
	"github.com/spf13/pflag"
)

const (
	flagConfig           = "config"
	flagStore            = "store"
	flagSQLitePath       = "sqlite-path"
	flagDatabaseDSN      = "database-dsn"
	flagBadgerDir        = "badger-dir"
	flagDynamoTable      = "dynamo-table"
	flagStoreTimeout     = "store-timeout"
	flagAppendRetries    = "append-retries"
	flagKeyCustody       = "key-custody"
	flagKMSKeyID         = "kms-key-id"
	flagPassphraseSecret = "passphrase-secret"
	flagPassphraseSalt   = "passphrase-salt"
	flagSecretSource     = "secret-source"
	flagJWTSecretName    = "jwt-secret-name"
	flagTokenValidity    = "token-validity"
	flagAWSRegion        = "aws-region"
	flagS3Bucket         = "s3-bucket"
	flagS3Endpoint       = "s3-endpoint"
	flagS3AccessKey      = "s3-access-key"
	flagS3SecretKey      = "s3-secret-key"
	flagLogFormat        = "log-format"
	flagLogLevel         = "log-level"
)

// RegisterFlags declares every configuration flag on fs. Defaults shown in
// help output come from LoadDefaults; only flags the user sets explicitly
// override the JSON file.
func RegisterFlags(fs *pflag.FlagSet) {
	var d Config
	d.LoadDefaults()

	fs.StringP(flagConfig, "c", "", "path to JSON config file")
	fs.String(flagStore, d.StoreBackend, "store backend: memory, sqlite, postgres, badger, dynamodb")
	fs.String(flagSQLitePath, d.SQLitePath, "SQLite database file")
	fs.StringP(flagDatabaseDSN, "d", d.DatabaseDSN, "PostgreSQL DSN")
	fs.String(flagBadgerDir, d.BadgerDir, "badger data directory")
	fs.String(flagDynamoTable, d.DynamoTable, "DynamoDB table name")
	fs.Duration(flagStoreTimeout, d.StoreTimeout, "timeout for a single storage round-trip")
	fs.Int(flagAppendRetries, d.AppendRetries, "attempts per ledger append when the head moved")
	fs.String(flagKeyCustody, d.KeyCustody, "note key custody: plain, kms, passphrase")
	fs.String(flagKMSKeyID, d.KMSKeyID, "KMS key id or alias used to wrap note keys")
	fs.String(flagPassphraseSecret, d.PassphraseSecret, "secret name holding the key-wrapping passphrase")
	fs.String(flagPassphraseSalt, d.PassphraseSalt, "salt for the key-wrapping passphrase")
	fs.String(flagSecretSource, d.SecretSource, "secret source: env, ssm")
	fs.String(flagJWTSecretName, d.JWTSecretName, "secret name holding the JWT signing key")
	fs.Duration(flagTokenValidity, d.TokenValidity, "validity of issued identity tokens")
	fs.StringP(flagAWSRegion, "g", d.AWSRegion, "AWS region")
	fs.StringP(flagS3Bucket, "b", d.S3Bucket, "S3 bucket for ledger snapshots")
	fs.StringP(flagS3Endpoint, "e", d.S3BaseEndpoint, "S3 base endpoint (e.g. http://127.0.0.1:9000/)")
	fs.String(flagS3AccessKey, d.S3AccessKey, "S3 access key")
	fs.String(flagS3SecretKey, d.S3SecretKey, "S3 secret key")
	fs.String(flagLogFormat, d.LogFormat, "log format: json, text, tint")
	fs.String(flagLogLevel, d.LogLevel, "log level: debug, info, warn, error")
}

// parseFlags copies every explicitly set flag from fs into config.
func parseFlags(config *Config, fs *pflag.FlagSet) error {
	strs := map[string]*string{
		flagStore:            &config.StoreBackend,
		flagSQLitePath:       &config.SQLitePath,
		flagDatabaseDSN:      &config.DatabaseDSN,
		flagBadgerDir:        &config.BadgerDir,
		flagDynamoTable:      &config.DynamoTable,
		flagKeyCustody:       &config.KeyCustody,
		flagKMSKeyID:         &config.KMSKeyID,
		flagPassphraseSecret: &config.PassphraseSecret,
		flagPassphraseSalt:   &config.PassphraseSalt,
		flagSecretSource:     &config.SecretSource,
		flagJWTSecretName:    &config.JWTSecretName,
		flagAWSRegion:        &config.AWSRegion,
		flagS3Bucket:         &config.S3Bucket,
		flagS3Endpoint:       &config.S3BaseEndpoint,
		flagS3AccessKey:      &config.S3AccessKey,
		flagS3SecretKey:      &config.S3SecretKey,
		flagLogFormat:        &config.LogFormat,
		flagLogLevel:         &config.LogLevel,
	}
	for name, dst := range strs {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	if fs.Changed(flagStoreTimeout) {
		v, err := fs.GetDuration(flagStoreTimeout)
		if err != nil {
			return err
		}
		config.StoreTimeout = v
	}
	if fs.Changed(flagTokenValidity) {
		v, err := fs.GetDuration(flagTokenValidity)
		if err != nil {
			return err
		}
		config.TokenValidity = v
	}
	if fs.Changed(flagAppendRetries) {
		v, err := fs.GetInt(flagAppendRetries)
		if err != nil {
			return err
		}
		config.AppendRetries = v
	}
	return nil
}
