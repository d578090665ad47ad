package config

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors for configuration validation
var (
	ErrConfigNotFound     = goerr.New("configuration file not found")
	ErrInvalidConfig      = goerr.New("invalid configuration")
	ErrUnsupportedFormat  = goerr.New("unsupported policy file format")
	ErrNoProviders        = goerr.New("at least one provider is required")
	ErrDuplicateProvider  = goerr.New("duplicate provider ID")
	ErrUnknownProvider    = goerr.New("unknown provider ID")
	ErrInvalidTier        = goerr.New("invalid tier")
	ErrInvalidIntent      = goerr.New("invalid intent")
	ErrInvalidDuration    = goerr.New("invalid duration")
	ErrMissingCredentials = goerr.New("required credential is not set")
)

// Context keys for error values
const (
	ConfigPathKey = "config_path"
	ProviderKey   = "provider"
	FieldKey      = "field"
	ValueKey      = "value"
)
