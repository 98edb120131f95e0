package config

import (
	"fmt"
	"regexp"

	"github.com/spf13/viper"
)

// identityTypePattern matches the type half of a Type/id reference; an
// identity type outside it could never match any reference during
// normalization.
var identityTypePattern = regexp.MustCompile(`^[A-Za-z]+$`)

// Config carries every runtime knob. Values come from the environment with a
// .env file as fallback; unset keys take the defaults below.
type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	// Library source. DATABASE_URL wins over SQLITE_PATH wins over
	// LIBRARY_DIR.
	LibraryDir    string `mapstructure:"LIBRARY_DIR"`
	LibraryPrefix string `mapstructure:"LIBRARY_PREFIX"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	SQLitePath    string `mapstructure:"SQLITE_PATH"`

	OutputDir     string `mapstructure:"OUTPUT_DIR"`
	TemplatesFile string `mapstructure:"TEMPLATES_FILE"`
	RefMapFile    string `mapstructure:"REF_MAP_FILE"`

	MinSections  int    `mapstructure:"MIN_SECTIONS"`
	MaxSections  int    `mapstructure:"MAX_SECTIONS"`
	MinEntries   int    `mapstructure:"MIN_ENTRIES"`
	MaxEntries   int    `mapstructure:"MAX_ENTRIES"`
	IdentityType string `mapstructure:"IDENTITY_TYPE"`
	Seed         int64  `mapstructure:"SEED"`
	BundleCount  int    `mapstructure:"BUNDLE_COUNT"`
	SynthVitals  int    `mapstructure:"SYNTH_VITALS"`

	StrictRefs   bool `mapstructure:"STRICT_REFS"`
	Placeholders bool `mapstructure:"PLACEHOLDERS"`
	FailOnIssues bool `mapstructure:"FAIL_ON_ISSUES"`

	AuthSecret string `mapstructure:"AUTH_SECRET"`
}

// Load reads configuration from the environment, falling back to a .env file
// in the working directory when present.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8087")
	v.SetDefault("ENV", "development")
	v.SetDefault("LIBRARY_DIR", "input_data")
	v.SetDefault("LIBRARY_PREFIX", "composition_")
	v.SetDefault("OUTPUT_DIR", "output")
	v.SetDefault("MIN_SECTIONS", 3)
	v.SetDefault("MAX_SECTIONS", 7)
	v.SetDefault("MIN_ENTRIES", 1)
	v.SetDefault("MAX_ENTRIES", 5)
	v.SetDefault("IDENTITY_TYPE", "Patient")
	v.SetDefault("SEED", 0)
	v.SetDefault("BUNDLE_COUNT", 1)
	v.SetDefault("SYNTH_VITALS", 0)
	v.SetDefault("STRICT_REFS", false)
	v.SetDefault("PLACEHOLDERS", true)
	v.SetDefault("FAIL_ON_ISSUES", false)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("LIBRARY_DIR")
	v.BindEnv("LIBRARY_PREFIX")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("SQLITE_PATH")
	v.BindEnv("OUTPUT_DIR")
	v.BindEnv("TEMPLATES_FILE")
	v.BindEnv("REF_MAP_FILE")
	v.BindEnv("MIN_SECTIONS")
	v.BindEnv("MAX_SECTIONS")
	v.BindEnv("MIN_ENTRIES")
	v.BindEnv("MAX_ENTRIES")
	v.BindEnv("IDENTITY_TYPE")
	v.BindEnv("SEED")
	v.BindEnv("BUNDLE_COUNT")
	v.BindEnv("SYNTH_VITALS")
	v.BindEnv("STRICT_REFS")
	v.BindEnv("PLACEHOLDERS")
	v.BindEnv("FAIL_ON_ISSUES")
	v.BindEnv("AUTH_SECRET")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Source names the active library source: "postgres", "sqlite", or
// "directory". DATABASE_URL takes precedence over SQLITE_PATH, which takes
// precedence over LIBRARY_DIR.
func (c *Config) Source() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.SQLitePath != "":
		return "sqlite"
	default:
		return "directory"
	}
}

// Validate checks that the configuration can produce a document at all: sane
// section and entry ranges, a positive bundle count, an identity type to
// anchor subjects on. In production an AUTH_SECRET is required so the HTTP
// service never runs open.
func (c *Config) Validate() error {
	if c.MinSections < 1 {
		return fmt.Errorf("MIN_SECTIONS must be at least 1, got %d", c.MinSections)
	}
	if c.MaxSections < c.MinSections {
		return fmt.Errorf("MAX_SECTIONS (%d) must not be below MIN_SECTIONS (%d)", c.MaxSections, c.MinSections)
	}
	if c.MinEntries < 1 {
		return fmt.Errorf("MIN_ENTRIES must be at least 1, got %d", c.MinEntries)
	}
	if c.MaxEntries < c.MinEntries {
		return fmt.Errorf("MAX_ENTRIES (%d) must not be below MIN_ENTRIES (%d)", c.MaxEntries, c.MinEntries)
	}
	if c.BundleCount < 1 {
		return fmt.Errorf("BUNDLE_COUNT must be at least 1, got %d", c.BundleCount)
	}
	if c.SynthVitals < 0 {
		return fmt.Errorf("SYNTH_VITALS must not be negative, got %d", c.SynthVitals)
	}
	if !identityTypePattern.MatchString(c.IdentityType) {
		return fmt.Errorf("IDENTITY_TYPE must be a resource type name, got %q", c.IdentityType)
	}
	if c.Seed < 0 {
		return fmt.Errorf("SEED must not be negative, got %d", c.Seed)
	}
	if c.IsProduction() && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required in production")
	}
	return nil
}
