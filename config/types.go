package config

import (
	"time"

	"github.com/go-playground/validator/v10"
)

type SecretKey string

const (
	SecretGithubToken      SecretKey = "GITHUB_TOKEN"
	SecretGithubPrivateKey SecretKey = "APP_GITHUB_PRIVATE_KEY"
	SecretGithubClientID   SecretKey = "GITHUB_CLIENT_ID"
)

type Config struct {
	// App
	Env           string        `split_words:"true" default:"prod" validate:"oneof=dev staging prod"`
	LogLevel      string        `split_words:"true" default:"info" validate:"oneof=debug info warn error"`
	ShutdownGrace time.Duration `split_words:"true" default:"15s" validate:"gt=0"`

	// GitHub auth. A personal access token is enough; the App triple is an
	// alternative for installations that scan at org scale.
	GithubToken          string `envconfig:"GITHUB_TOKEN"`
	GithubClientID       string `split_words:"true"`
	GithubPrivateKey     string `envconfig:"APP_GITHUB_PRIVATE_KEY"`
	GithubInstallationID int64  `split_words:"true"`

	// Pipeline tuning
	Workers          int           `split_words:"true" default:"10" validate:"gt=0"`
	GithubRateLimit  int           `split_words:"true" default:"80" validate:"gt=0"`
	RateMinRemaining int           `split_words:"true" default:"100" validate:"gt=0"`
	RateSafetyMargin time.Duration `split_words:"true" default:"2s" validate:"gt=0"`
	CacheSize        int           `split_words:"true" default:"1000" validate:"gt=0"`
	CacheTTL         time.Duration `split_words:"true" default:"1h" validate:"gt=0"`
	BackoffMin       time.Duration `split_words:"true" default:"500ms" validate:"gt=0"`
	BackoffMax       time.Duration `split_words:"true" default:"30s" validate:"gt=0"`
	MaxRetries       int           `split_words:"true" default:"3" validate:"gt=0"`

	// Checkpointing
	CheckpointDir string `split_words:"true" default:"."`
}

// HasAppAuth reports whether the GitHub App credential triple is complete.
func (c Config) HasAppAuth() bool {
	return c.GithubClientID != "" && c.GithubPrivateKey != "" && c.GithubInstallationID != 0
}

type Loader struct {
	Prefix   string
	Validate *validator.Validate
}
