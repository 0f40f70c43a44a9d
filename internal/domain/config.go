package domain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`

	// Decisioning configuration: risk tables, jurisdiction lists,
	// screening thresholds. Each is an immutable snapshot; reload
	// installs a whole new object, never a partial mutation.
	Risk       *RiskConfig       `yaml:"risk"`
	Compliance *ComplianceConfig `yaml:"compliance"`
	Matching   MatchingConfig    `yaml:"matching"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"serviceName"`
}

// AmountBand maps an upper amount bound (exclusive) to a risk value.
// Bands are evaluated in order; the last band's Risk applies when no
// UpTo bound matches, so risk is a monotonically increasing step function
// of the amount.
type AmountBand struct {
	UpTo float64 `yaml:"upTo"` // 0 means unbounded (final band)
	Risk float64 `yaml:"risk"`
}

// RiskConfig is the immutable risk-table snapshot consumed by the scorer.
// Unknown country/category codes resolve to DefaultRisk; the scorer never
// errors on an unknown code.
type RiskConfig struct {
	CountryRisk  map[string]float64 `yaml:"countryRisk"`
	CategoryRisk map[string]float64 `yaml:"categoryRisk"`
	DefaultRisk  float64            `yaml:"defaultRisk"`

	// Entity-age risk: newly onboarded entities score higher.
	NewEntityRisk         float64 `yaml:"newEntityRisk"`
	EstablishedEntityRisk float64 `yaml:"establishedEntityRisk"`

	// KRS weights
	CountryWeight  float64 `yaml:"countryWeight"`
	CategoryWeight float64 `yaml:"categoryWeight"`
	AgeWeight      float64 `yaml:"ageWeight"`

	// TRS weights
	OriginWeight float64 `yaml:"originWeight"`
	DestWeight   float64 `yaml:"destWeight"`
	AmountWeight float64 `yaml:"amountWeight"`

	AmountBands []AmountBand `yaml:"amountBands"`
}

// CountryRiskOf returns the risk value for a country code, falling back to
// DefaultRisk for unknown or empty codes.
func (r *RiskConfig) CountryRiskOf(code string) float64 {
	if v, ok := r.CountryRisk[code]; ok {
		return v
	}
	return r.DefaultRisk
}

// CategoryRiskOf returns the risk value for a category/MCC code, falling
// back to DefaultRisk for unknown or empty codes.
func (r *RiskConfig) CategoryRiskOf(code string) float64 {
	if v, ok := r.CategoryRisk[code]; ok {
		return v
	}
	return r.DefaultRisk
}

// CurrencyThresholds holds the regulatory amount thresholds for one
// currency, in minor-unit-free whole amounts.
type CurrencyThresholds struct {
	CTR         int64 `yaml:"ctr"`
	STR         int64 `yaml:"str"`
	Structuring int64 `yaml:"structuring"`
}

// ComplianceConfig is the immutable jurisdiction/threshold snapshot consumed
// by the compliance decision engine.
type ComplianceConfig struct {
	// Blacklist is the immediate-block jurisdiction list (FATF call for
	// action).
	Blacklist []string `yaml:"blacklist"`

	// HighRisk is the central-bank high-risk list: blocks like the
	// blacklist but tracked as a distinct reason for reporting.
	HighRisk []string `yaml:"highRisk"`

	// Greylist is the increased-monitoring list: enhanced due diligence,
	// no block.
	Greylist []string `yaml:"greylist"`

	// Thresholds maps currency code to reporting thresholds. Unknown
	// currencies fall back to DefaultCurrency's entry.
	Thresholds      map[string]CurrencyThresholds `yaml:"thresholds"`
	DefaultCurrency string                        `yaml:"defaultCurrency"`

	// ML score bands.
	MLBlockThreshold float64 `yaml:"mlBlockThreshold"`
	MLHoldThreshold  float64 `yaml:"mlHoldThreshold"`

	// PEPEnhancedDueDiligence enables EDD for politically exposed persons
	// (FATF Recommendation 12).
	PEPEnhancedDueDiligence bool `yaml:"pepEnhancedDueDiligence"`
}

// IsBlacklisted reports whether a country is on the immediate-block list.
func (c *ComplianceConfig) IsBlacklisted(code string) bool {
	return containsCode(c.Blacklist, code)
}

// IsHighRisk reports whether a country is on the central-bank high-risk list.
func (c *ComplianceConfig) IsHighRisk(code string) bool {
	return containsCode(c.HighRisk, code)
}

// IsGreylisted reports whether a country is on the increased-monitoring list.
func (c *ComplianceConfig) IsGreylisted(code string) bool {
	return containsCode(c.Greylist, code)
}

// ThresholdsFor returns the reporting thresholds for a currency, falling
// back to the default currency's entry, then to the documented USD defaults.
func (c *ComplianceConfig) ThresholdsFor(currency string) CurrencyThresholds {
	if t, ok := c.Thresholds[currency]; ok {
		return t
	}
	if t, ok := c.Thresholds[c.DefaultCurrency]; ok {
		return t
	}
	return CurrencyThresholds{CTR: 10000, STR: 5000, Structuring: 9000}
}

func containsCode(list []string, code string) bool {
	for _, c := range list {
		if c == code {
			return true
		}
	}
	return false
}

// MatchingConfig holds the name-matching thresholds. Missing values default
// to the documented constants.
type MatchingConfig struct {
	LevenshteinThreshold int     `yaml:"levenshteinThreshold"`
	SimilarityThreshold  float64 `yaml:"similarityThreshold"`
	MaxCodeLength        int     `yaml:"maxCodeLength"`
}

// DefaultConfig returns the default configuration: SQLite repository,
// in-process LRU cache and channel bus, default risk tables.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:          "memory",
			LocalMaxSize:  10000,
			LocalTTL:      5 * time.Minute,
			AssessmentTTL: time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Risk:       DefaultRiskConfig(),
		Compliance: DefaultComplianceConfig(),
		Matching: MatchingConfig{
			LevenshteinThreshold: 3,
			SimilarityThreshold:  0.8,
			MaxCodeLength:        10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// DefaultRiskConfig returns the built-in risk reference tables.
func DefaultRiskConfig() *RiskConfig {
	return &RiskConfig{
		CountryRisk: map[string]float64{
			"US": 10, "GB": 10, "DE": 12, "KE": 30, "AE": 54,
			"NG": 60, "IR": 100, "KP": 100, "MM": 95, "SY": 90,
		},
		CategoryRisk: map[string]float64{
			"5411": 10, // grocery
			"5812": 15, // restaurants
			"5999": 50, // misc retail
			"6051": 75, // quasi-cash
			"7995": 90, // gambling
		},
		DefaultRisk:           50,
		NewEntityRisk:         60,
		EstablishedEntityRisk: 20,
		CountryWeight:         0.5,
		CategoryWeight:        0.3,
		AgeWeight:             0.2,
		OriginWeight:          0.3,
		DestWeight:            0.3,
		AmountWeight:          0.4,
		AmountBands: []AmountBand{
			{UpTo: 1000, Risk: 10},
			{UpTo: 5000, Risk: 30},
			{UpTo: 10000, Risk: 50},
			{UpTo: 50000, Risk: 80},
			{Risk: 100},
		},
	}
}

// DefaultComplianceConfig returns the built-in jurisdiction lists and
// reporting thresholds (FATF 2024 lists; KES thresholds per CBK guidelines,
// USD per BSA).
func DefaultComplianceConfig() *ComplianceConfig {
	return &ComplianceConfig{
		Blacklist: []string{"KP", "IR", "MM"},
		HighRisk:  []string{"KP", "IR", "MM", "SY", "YE", "SS", "SO", "LY", "AF"},
		Greylist: []string{
			"BG", "BF", "CM", "HR", "CD", "HT", "KE", "ML", "MZ",
			"NG", "PH", "SN", "ZA", "SS", "SY", "TZ", "TR", "UG",
			"AE", "VN", "YE",
		},
		Thresholds: map[string]CurrencyThresholds{
			"USD": {CTR: 10000, STR: 5000, Structuring: 9000},
			"KES": {CTR: 1000000, STR: 500000, Structuring: 900000},
			"EUR": {CTR: 10000, STR: 5000, Structuring: 9000},
		},
		DefaultCurrency:         "USD",
		MLBlockThreshold:        0.9,
		MLHoldThreshold:         0.7,
		PEPEnhancedDueDiligence: true,
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing path
// returns the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Partial files must not strip the decisioning tables.
	if cfg.Risk == nil {
		cfg.Risk = DefaultRiskConfig()
	}
	if cfg.Compliance == nil {
		cfg.Compliance = DefaultComplianceConfig()
	}

	return cfg, nil
}
