package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJSON(t *testing.T) {
	path := writeTempJSON(t, "", "full.json", map[string]any{
		"store_backend":     "dynamodb",
		"sqlite_path":       "x.db",
		"database_dsn":      "dsn",
		"badger_dir":        "bdir",
		"dynamo_table":      "tbl",
		"store_timeout":     "750ms",
		"append_retries":    2,
		"key_custody":       "kms",
		"kms_key_id":        "alias/k",
		"passphrase_secret": "/p",
		"passphrase_salt":   "salt",
		"secret_source":     "ssm",
		"jwt_secret_name":   "/jwt",
		"token_validity":    int64(time.Minute),
		"aws_region":        "eu-west-1",
		"s3_bucket":         "bucket",
		"s3_base_endpoint":  "http://minio:9000/",
		"s3_access_key":     "ak",
		"s3_secret_key":     "sk",
		"log_format":        "tint",
		"log_level":         "warn",
	})

	cfg := &Config{}
	require.NoError(t, parseJSON(cfg, path))

	assert.Equal(t, &Config{
		StoreBackend:     "dynamodb",
		SQLitePath:       "x.db",
		DatabaseDSN:      "dsn",
		BadgerDir:        "bdir",
		DynamoTable:      "tbl",
		StoreTimeout:     750 * time.Millisecond,
		AppendRetries:    2,
		KeyCustody:       "kms",
		KMSKeyID:         "alias/k",
		PassphraseSecret: "/p",
		PassphraseSalt:   "salt",
		SecretSource:     "ssm",
		JWTSecretName:    "/jwt",
		TokenValidity:    time.Minute,
		AWSRegion:        "eu-west-1",
		S3Bucket:         "bucket",
		S3BaseEndpoint:   "http://minio:9000/",
		S3AccessKey:      "ak",
		S3SecretKey:      "sk",
		LogFormat:        "tint",
		LogLevel:         "warn",
	}, cfg)
}

func Test_parseJSON_EmptyPathIsNoop(t *testing.T) {
	cfg := &Config{StoreBackend: "memory"}
	require.NoError(t, parseJSON(cfg, ""))
	assert.Equal(t, "memory", cfg.StoreBackend)
}

func Test_parseJSON_Errors(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, parseJSON(cfg, filepath.Join(t.TempDir(), "missing.json")))

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	assert.Error(t, parseJSON(cfg, bad))
}
