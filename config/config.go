// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	gray  = "\x1b[90m"
	reset = "\x1b[0m"
)

var (
	sweepOnce      = pflag.Bool("sweep-once", false, "Runs a single expiry sweep and exits")
	validLogLevels = []string{"debug", "info", "warn", "error", "fatal"}
	validModes     = []string{"s3", "local"}
	validDrivers   = []string{"sqlite", "postgres"}
)

func genSecret() string {
	b := make([]byte, 64)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that.
func Setup() error {
	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	//
	// ENVS
	//
	v.BindEnv("app.log_level", "app_log_level")

	v.BindEnv("storage.local_dir", "storage_local_dir")
	v.BindEnv("storage.remote_mode", "storage_remote_mode")
	v.BindEnv("storage.split_chars", "storage_split_chars")
	v.BindEnv("storage.split_levels", "storage_split_levels")
	v.BindEnv("storage.internal_url", "storage_internal_url")
	v.BindEnv("storage.external_url", "storage_external_url")

	v.BindEnv("hash.secret", "hash_secret")

	v.BindEnv("upload.max_size", "upload_max_size")
	v.BindEnv("upload.max_name_length", "upload_max_name_length")
	v.BindEnv("upload.allowed_types", "upload_allowed_types")
	v.BindEnv("upload.auto_expire_days", "upload_auto_expire_days")
	v.BindEnv("upload.check_images", "upload_check_images")

	v.BindEnv("derive.jpeg_quality", "derive_jpeg_quality")

	v.BindEnv("sweep.interval", "sweep_interval")
	v.BindEnv("sweep.batch_size", "sweep_batch_size")

	v.BindEnv("db.driver", "db_driver")
	v.BindEnv("db.dsn", "db_dsn")

	v.BindEnv("aws.access_key_id", "aws_access_key_id")
	v.BindEnv("aws.secret_access_key", "aws_secret_access_key")
	v.BindEnv("aws.region", "aws_region")
	v.BindEnv("aws.bucket", "aws_bucket")
	v.BindEnv("aws.bucket_dir", "aws_bucket_dir")
	v.BindEnv("aws.endpoint", "aws_endpoint")
	v.BindEnv("aws.rate_limit", "aws_rate_limit")
	v.BindEnv("aws.sync_interval", "aws_sync_interval")
	v.BindEnv("aws.sync_batch", "aws_sync_batch")
	v.BindEnv("aws.remove_local", "aws_remove_local")

	v.BindEnv("debug.dump_derivations", "debug_dump_derivations")

	//
	// Defaults
	//
	v.SetDefault("app.log_level", "info")

	v.SetDefault("storage.remote_mode", "local")
	v.SetDefault("storage.split_chars", 1)
	v.SetDefault("storage.split_levels", 2)
	v.SetDefault("storage.internal_url", "/media/")
	v.SetDefault("storage.external_url", "/media/")

	v.SetDefault("upload.max_size", 50)
	v.SetDefault("upload.max_name_length", 255)
	v.SetDefault("upload.allowed_types", []string{"image/jpeg", "image/png", "image/gif"})
	v.SetDefault("upload.auto_expire_days", 1.0)
	v.SetDefault("upload.check_images", true)

	v.SetDefault("derive.jpeg_quality", 90)

	v.SetDefault("sweep.interval", "10m")
	v.SetDefault("sweep.batch_size", 100)

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "files.db")

	v.SetDefault("aws.bucket_dir", "")
	v.SetDefault("aws.rate_limit", 4)
	v.SetDefault("aws.sync_interval", "1m")
	v.SetDefault("aws.sync_batch", 50)
	v.SetDefault("aws.remove_local", true)

	v.SetDefault("debug.dump_derivations", false)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(v.ConfigFileNotFoundError); ok {
			return errors.New("config.toml file is missing")
		}

		return fmt.Errorf("failed to read config file, %w", err)
	}

	if !slices.Contains(validLogLevels, v.GetString("app.log_level")) {
		return errors.New("invalid log level provided")
	}

	makeLogger()

	if v.GetString("storage.local_dir") == "" {
		return errors.New("no storage directory provided")
	}

	if v.GetInt("storage.split_chars") <= 0 {
		return errors.New("storage.split_chars must be bigger than 0")
	}

	if v.GetInt("storage.split_levels") < 0 {
		return errors.New("storage.split_levels can't be negative")
	}

	// The hash is 64 hex characters. Whatever the split settings eat
	// disappears from the file name, so they must leave something over
	if v.GetInt("storage.split_levels")*v.GetInt("storage.split_chars") >= 64 {
		return errors.New("storage split settings consume the entire hash")
	}

	if v.GetString("hash.secret") == "" {
		fmt.Println("WARNING: You haven't set a hash secret, so it has been generated for you. Please set it as an environment variable or in the config.toml file.\nYour random hash secret:\n\n" + genSecret() + "\n\nPaste it into your config.toml file.")
		os.Exit(0)
	}

	if v.GetInt("upload.max_size") <= 0 {
		return errors.New("upload.max_size must be bigger than 0")
	}

	if v.GetInt("upload.max_name_length") <= 0 {
		return errors.New("upload.max_name_length must be bigger than 0")
	}

	if v.GetFloat64("upload.auto_expire_days") < 0 {
		return errors.New("upload.auto_expire_days can't be negative")
	}

	if len(v.GetStringSlice("upload.allowed_types")) == 0 {
		zap.L().Warn("No upload.allowed_types specified, any file type will be accepted")
	}

	q := v.GetInt("derive.jpeg_quality")
	if q < 1 || q > 100 {
		return errors.New("derive.jpeg_quality must be between 1 and 100")
	}

	if v.GetDuration("sweep.interval") <= 0 {
		return errors.New("invalid sweep.interval provided")
	}

	if v.GetInt("sweep.batch_size") <= 0 {
		return errors.New("sweep.batch_size must be bigger than 0")
	}

	if !slices.Contains(validDrivers, v.GetString("db.driver")) {
		return errors.New("invalid database driver provided")
	}

	if v.GetString("db.dsn") == "" {
		return errors.New("no database DSN provided")
	}

	switch v.GetString("storage.remote_mode") {
	case "s3":
		{
			if v.GetString("aws.access_key_id") == "" {
				return errors.New("access key id can't be empty")
			}
			if v.GetString("aws.secret_access_key") == "" {
				return errors.New("secret access key can't be empty")
			}
			if v.GetString("aws.region") == "" {
				return errors.New("region can't be empty")
			}
			if v.GetString("aws.bucket") == "" {
				return errors.New("bucket can't be empty")
			}
			if v.GetFloat64("aws.rate_limit") <= 0 {
				return errors.New("aws.rate_limit must be bigger than 0")
			}
			if v.GetDuration("aws.sync_interval") <= 0 {
				return errors.New("invalid aws.sync_interval provided")
			}
			if v.GetInt("aws.sync_batch") <= 0 {
				return errors.New("aws.sync_batch must be bigger than 0")
			}
		}
	case "local":
	default:
		return errors.New("invalid storage mode provided")
	}

	if !slices.Contains(validModes, v.GetString("storage.remote_mode")) {
		return errors.New("invalid storage mode provided")
	}

	v.Set("upload.max_size", v.GetInt64("upload.max_size")<<20)
	return nil
}

// SweepOnce reports whether the daemon should run a single sweep
// pass and exit instead of staying resident.
func SweepOnce() bool {
	return *sweepOnce
}

func makeLogger() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = func(t time.Time, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + t.Format("15:04:05.000") + reset)
	}
	cfg.EncoderConfig.EncodeCaller = func(ec zapcore.EntryCaller, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + ec.TrimmedPath() + reset)
	}

	cfg.DisableStacktrace = true

	lvl, err := zapcore.ParseLevel(v.GetString("app.log_level"))
	if err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	log, _ := cfg.Build()
	zap.ReplaceGlobals(log)
}
