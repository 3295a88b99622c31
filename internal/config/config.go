/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the aggregation-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	AuthJWTSecret        string `mapstructure:"AUTH_JWT_SECRET"`

	// Bank gateway settings
	TeamClientID     string `mapstructure:"TEAM_CLIENT_ID"`
	TeamClientSecret string `mapstructure:"TEAM_CLIENT_SECRET"`
	PermissiveMode   bool   `mapstructure:"PERMISSIVE_MODE"`
	SimulateBanks    bool   `mapstructure:"SIMULATE_BANKS"`

	// Per-bank base URL overrides; defaults are built into the domain.
	VBankBaseURL string `mapstructure:"VBANK_BASE_URL"`
	SBankBaseURL string `mapstructure:"SBANK_BASE_URL"`
	ABankBaseURL string `mapstructure:"ABANK_BASE_URL"`

	// TTLs in seconds
	TokenTTLSeconds   int `mapstructure:"BANK_TOKEN_TTL_SECONDS"`
	ConsentTTLSeconds int `mapstructure:"CONSENT_TTL_SECONDS"`
	DataTTLSeconds    int `mapstructure:"DATA_CACHE_TTL_SECONDS"`

	// Product settings
	PremiumPriceRUB int `mapstructure:"PREMIUM_PRICE_RUB"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "bankhub:rate_limit")
	viper.SetDefault("TEAM_CLIENT_ID", "team222")
	viper.SetDefault("PERMISSIVE_MODE", true)
	viper.SetDefault("SIMULATE_BANKS", false)
	viper.SetDefault("BANK_TOKEN_TTL_SECONDS", 82800)
	viper.SetDefault("CONSENT_TTL_SECONDS", 14400)
	viper.SetDefault("DATA_CACHE_TTL_SECONDS", 14400)
	viper.SetDefault("PREMIUM_PRICE_RUB", 299)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "AGGREGATION_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("AUTH_JWT_SECRET")
	_ = viper.BindEnv("TEAM_CLIENT_ID")
	_ = viper.BindEnv("TEAM_CLIENT_SECRET")
	_ = viper.BindEnv("PERMISSIVE_MODE")
	_ = viper.BindEnv("SIMULATE_BANKS")
	_ = viper.BindEnv("VBANK_BASE_URL")
	_ = viper.BindEnv("SBANK_BASE_URL")
	_ = viper.BindEnv("ABANK_BASE_URL")
	_ = viper.BindEnv("BANK_TOKEN_TTL_SECONDS")
	_ = viper.BindEnv("CONSENT_TTL_SECONDS")
	_ = viper.BindEnv("DATA_CACHE_TTL_SECONDS")
	_ = viper.BindEnv("PREMIUM_PRICE_RUB")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "bankhub:rate_limit"
	}
	config.TeamClientID = strings.TrimSpace(config.TeamClientID)
	if config.TeamClientID == "" {
		config.TeamClientID = "team222"
	}

	if config.TokenTTLSeconds <= 0 {
		config.TokenTTLSeconds = 82800
	}
	if config.ConsentTTLSeconds <= 0 {
		config.ConsentTTLSeconds = 14400
	}
	if config.DataTTLSeconds <= 0 {
		config.DataTTLSeconds = 14400
	}
	if config.PremiumPriceRUB <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive premium price configured; using default\" price=%d", config.PremiumPriceRUB)
		config.PremiumPriceRUB = 299
	}

	return
}
