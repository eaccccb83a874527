package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "PETALPOST"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultBaseURL      = "http://localhost:8080"
	defaultDatabasePath = "petalpost.db"
	defaultLogLevel     = "info"
	defaultCurrency     = "USD"
	defaultTolerance    = 0.01
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	BaseURL      string
	DatabasePath string
	LogLevel     string

	// PremiumForceEnabled activates time-lock/passphrase gating for every
	// proposal regardless of payment state. Development override only.
	PremiumForceEnabled bool

	PaymentSecret          string
	PaymentExpectedAmount  float64
	PaymentCurrency        string
	PaymentAPIReference    string
	PaymentAmountTolerance float64

	StorageEndpoint        string
	StorageRegion          string
	StorageBucket          string
	StorageAccessKeyID     string
	StorageSecretAccessKey string
	StoragePublicURL       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.base_url", defaultBaseURL)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("premium.force_enabled", false)
	configViper.SetDefault("payment.expected_currency", defaultCurrency)
	configViper.SetDefault("payment.amount_tolerance", defaultTolerance)
	configViper.SetDefault("storage.region", "auto")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		BaseURL:      strings.TrimRight(configViper.GetString("http.base_url"), "/"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),

		PremiumForceEnabled: configViper.GetBool("premium.force_enabled"),

		PaymentSecret:          configViper.GetString("payment.secret"),
		PaymentExpectedAmount:  configViper.GetFloat64("payment.expected_amount"),
		PaymentCurrency:        configViper.GetString("payment.expected_currency"),
		PaymentAPIReference:    configViper.GetString("payment.api_reference"),
		PaymentAmountTolerance: configViper.GetFloat64("payment.amount_tolerance"),

		StorageEndpoint:        configViper.GetString("storage.endpoint"),
		StorageRegion:          configViper.GetString("storage.region"),
		StorageBucket:          configViper.GetString("storage.bucket"),
		StorageAccessKeyID:     configViper.GetString("storage.access_key_id"),
		StorageSecretAccessKey: configViper.GetString("storage.secret_access_key"),
		StoragePublicURL:       configViper.GetString("storage.public_url"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.PaymentSecret) == "" {
		return fmt.Errorf("payment.secret is required")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("http.base_url is required")
	}
	return nil
}
