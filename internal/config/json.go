package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/emoelevate/notesledger/internal/timex"
)

// JsonConfig is the DTO read from the JSON config file. Durations use
// timex.Duration so both "5s" and integer nanoseconds are accepted.
// Empty or zero fields leave the current value untouched.
type JsonConfig struct {
	StoreBackend     string         `json:"store_backend"`
	SQLitePath       string         `json:"sqlite_path"`
	DatabaseDSN      string         `json:"database_dsn"`
	BadgerDir        string         `json:"badger_dir"`
	DynamoTable      string         `json:"dynamo_table"`
	StoreTimeout     timex.Duration `json:"store_timeout"`
	AppendRetries    int            `json:"append_retries"`
	KeyCustody       string         `json:"key_custody"`
	KMSKeyID         string         `json:"kms_key_id"`
	PassphraseSecret string         `json:"passphrase_secret"`
	PassphraseSalt   string         `json:"passphrase_salt"`
	SecretSource     string         `json:"secret_source"`
	JWTSecretName    string         `json:"jwt_secret_name"`
	TokenValidity    timex.Duration `json:"token_validity"`
	AWSRegion        string         `json:"aws_region"`
	S3Bucket         string         `json:"s3_bucket"`
	S3BaseEndpoint   string         `json:"s3_base_endpoint"`
	S3AccessKey      string         `json:"s3_access_key"`
	S3SecretKey      string         `json:"s3_secret_key"`
	LogFormat        string         `json:"log_format"`
	LogLevel         string         `json:"log_level"`
}

// parseJSON overlays the file at path onto config. An empty path is a no-op.
func parseJSON(config *Config, path string) error {
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&config.StoreBackend, c.StoreBackend)
	setString(&config.SQLitePath, c.SQLitePath)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.BadgerDir, c.BadgerDir)
	setString(&config.DynamoTable, c.DynamoTable)
	if c.StoreTimeout.Duration != 0 {
		config.StoreTimeout = c.StoreTimeout.Duration
	}
	if c.AppendRetries != 0 {
		config.AppendRetries = c.AppendRetries
	}
	setString(&config.KeyCustody, c.KeyCustody)
	setString(&config.KMSKeyID, c.KMSKeyID)
	setString(&config.PassphraseSecret, c.PassphraseSecret)
	setString(&config.PassphraseSalt, c.PassphraseSalt)
	setString(&config.SecretSource, c.SecretSource)
	setString(&config.JWTSecretName, c.JWTSecretName)
	if c.TokenValidity.Duration != 0 {
		config.TokenValidity = c.TokenValidity.Duration
	}
	setString(&config.AWSRegion, c.AWSRegion)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.LogFormat, c.LogFormat)
	setString(&config.LogLevel, c.LogLevel)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
