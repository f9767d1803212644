package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Auth       AuthConfig       `yaml:"auth" mapstructure:"auth"`
	Features   FeatureFlags     `yaml:"features" mapstructure:"features"`
	Compliance ComplianceConfig `yaml:"compliance" mapstructure:"compliance"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Coverage   CoverageConfig   `yaml:"coverage" mapstructure:"coverage"`
	Portals    []PortalConfig   `yaml:"portals" mapstructure:"portals"`
}

// StoreConfig configures the local cache database.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the egress proxy server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// FetchConfig configures outbound portal HTTP behavior.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries     int    `yaml:"retries" mapstructure:"retries"`
	MaxBodyMB   int    `yaml:"max_body_mb" mapstructure:"max_body_mb"`
}

// AuthConfig holds optional portal and geocoder credentials. All of them
// widen rate limits or unlock tiers; none are required.
type AuthConfig struct {
	SocrataAppToken string `yaml:"socrata_app_token" mapstructure:"socrata_app_token"`
	ArcGISAPIKey    string `yaml:"arcgis_api_key" mapstructure:"arcgis_api_key"`
	GeocodingEmail  string `yaml:"geocoding_email" mapstructure:"geocoding_email"`
	GeocodingKey    string `yaml:"geocoding_key" mapstructure:"geocoding_key"`
}

// FeatureFlags gate optional pipeline behavior.
type FeatureFlags struct {
	AutoIngestion     bool `yaml:"auto_ingestion" mapstructure:"auto_ingestion"`
	EvidenceRecovery  bool `yaml:"evidence_recovery" mapstructure:"evidence_recovery"`
	GatingEnforcement bool `yaml:"gating_enforcement" mapstructure:"gating_enforcement"`
}

// ComplianceConfig configures dataset usage gating.
type ComplianceConfig struct {
	ZeroCostMode    bool   `yaml:"zero_cost_mode" mapstructure:"zero_cost_mode"`
	AllowPaidAccess bool   `yaml:"allow_paid_access" mapstructure:"allow_paid_access"`
	Mode            string `yaml:"mode" mapstructure:"mode"`
	PolicyPath      string `yaml:"policy_path" mapstructure:"policy_path"`
}

// GeocodeConfig configures the forward geocoder.
type GeocodeConfig struct {
	Endpoint     string `yaml:"endpoint" mapstructure:"endpoint"`
	CacheTTLDays int    `yaml:"cache_ttl_days" mapstructure:"cache_ttl_days"`
}

// CoverageConfig configures jurisdiction availability lookups.
type CoverageConfig struct {
	MatrixPath string `yaml:"matrix_path" mapstructure:"matrix_path"`
}

// PortalConfig names one government open-data portal to search.
type PortalConfig struct {
	URL  string `yaml:"url" mapstructure:"url"`
	Type string `yaml:"type" mapstructure:"type"`
	Name string `yaml:"name" mapstructure:"name"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EVIDENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "evidence.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("fetch.user_agent", "evidence-cli/1.0 (+https://github.com/sells-group/evidence-cli)")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.retries", 2)
	v.SetDefault("fetch.max_body_mb", 64)
	v.SetDefault("features.auto_ingestion", false)
	v.SetDefault("features.evidence_recovery", true)
	v.SetDefault("features.gating_enforcement", true)
	v.SetDefault("compliance.zero_cost_mode", true)
	v.SetDefault("compliance.allow_paid_access", false)
	v.SetDefault("compliance.mode", "enforce")
	v.SetDefault("geocode.endpoint", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("geocode.cache_ttl_days", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.normalize()

	return &cfg, nil
}

// normalize enforces cross-field rules. Zero-cost mode always wins over
// allow_paid_access.
func (c *Config) normalize() {
	if c.Compliance.ZeroCostMode {
		c.Compliance.AllowPaidAccess = false
	}
}

// Validate checks the fields a command mode depends on. Mode is the
// command family: "query", "serve", or "discover".
func (c *Config) Validate(mode string) error {
	var missing []string

	check := func(ok bool, msg string) {
		if !ok {
			missing = append(missing, msg)
		}
	}

	check(c.Fetch.TimeoutSecs > 0, "fetch.timeout_secs must be > 0")
	check(c.Fetch.Retries >= 0 && c.Fetch.Retries <= 10, "fetch.retries must be between 0 and 10")
	check(c.Geocode.CacheTTLDays >= 0, "geocode.cache_ttl_days must be >= 0")
	check(c.Compliance.Mode == "enforce" || c.Compliance.Mode == "audit",
		"compliance.mode must be enforce or audit")

	switch mode {
	case "serve":
		check(c.Server.Port > 0, "server.port must be > 0")
	case "query", "discover":
		check(c.Store.Path != "", "store.path is required")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
