package app

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from config files,
// environment variables, and .env files. Flags override these after
// parsing.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	// Config file
	ConfigFile string

	// Bindings and platform configuration
	BindingsFile     string
	MasterRepository string
	MasterRef        string
	TemplateRoot     string
	GitHubToken      string

	// State store configuration
	StoreBackend string
	StorePath    string

	// Engine tuning
	Concurrency int
	Timeout     time.Duration
	Retries     int

	// Logging configuration
	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from all sources in order of precedence:
//  1. Command-line flags (applied later by cobra)
//  2. Environment variables
//  3. .env files
//  4. Config file (~/.teleporter.yaml)
//  5. Defaults
func LoadConfig() (*Config, error) {
	loadEnvFiles()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TELEPORTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// The token is conventionally set outside the TELEPORTER_ prefix.
	_ = viper.BindEnv("github_token", "GITHUB_TOKEN", "TELEPORTER_GITHUB_TOKEN")

	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.AddConfigPath(".")
			viper.SetConfigType("yaml")
			viper.SetConfigName(".teleporter")
		}
	}

	// Config file is optional.
	_ = viper.ReadInConfig()

	config := &Config{
		Verbose: viper.GetBool("verbose"),
		Quiet:   viper.GetBool("quiet"),
		NoColor: viper.GetBool("no-color"),
		Format:  viper.GetString("format"),

		ConfigFile: viper.ConfigFileUsed(),

		BindingsFile:     viper.GetString("bindings_file"),
		MasterRepository: viper.GetString("master_repository"),
		MasterRef:        viper.GetString("master_ref"),
		TemplateRoot:     viper.GetString("template_root"),
		GitHubToken:      viper.GetString("github_token"),

		StoreBackend: viper.GetString("store_backend"),
		StorePath:    viper.GetString("store_path"),

		Concurrency: viper.GetInt("concurrency"),
		Timeout:     viper.GetDuration("timeout"),
		Retries:     viper.GetInt("retries"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", ""),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "auto"),
	}

	// Defaults
	if config.BindingsFile == "" {
		config.BindingsFile = "teleporter.yaml"
	}
	if config.StoreBackend == "" {
		config.StoreBackend = "fs"
	}
	if config.StorePath == "" {
		config.StorePath = defaultStorePath(config.StoreBackend)
	}

	return config, nil
}

// defaultStorePath picks a sensible location per backend.
func defaultStorePath(backend string) string {
	switch backend {
	case "sqlite":
		return "teleporter.db"
	default:
		return ".teleporter-state"
	}
}

// UpdateFromFlags updates config values from parsed command flags so flag
// values take precedence over config file and env vars.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// loadEnvFiles loads environment variables from .env files.
// .env.local overrides .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
