package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	AACT      AACTConfig      `yaml:"aact" mapstructure:"aact"`
	Sources   SourcesConfig   `yaml:"sources" mapstructure:"sources"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the local document store.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// AACTConfig holds the AACT (ClinicalTrials.gov relational mirror)
// connection settings for the extraction stage.
type AACTConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	StartYear   int    `yaml:"start_year" mapstructure:"start_year"`
}

// SourcesConfig configures the external enrichment sources.
type SourcesConfig struct {
	ChemblBaseURL   string `yaml:"chembl_base_url" mapstructure:"chembl_base_url"`
	PubchemBaseURL  string `yaml:"pubchem_base_url" mapstructure:"pubchem_base_url"`
	UniprotBaseURL  string `yaml:"uniprot_base_url" mapstructure:"uniprot_base_url"`
	StringDBBaseURL string `yaml:"stringdb_base_url" mapstructure:"stringdb_base_url"`
	PubmedBaseURL   string `yaml:"pubmed_base_url" mapstructure:"pubmed_base_url"`
	CTGovBaseURL    string `yaml:"ctgov_base_url" mapstructure:"ctgov_base_url"`

	// MinIntervalMs maps source id to minimum milliseconds between calls.
	MinIntervalMs map[string]int `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	TimeoutSecs   int            `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MinIntervals converts the configured per-source intervals to durations.
func (s SourcesConfig) MinIntervals() map[string]time.Duration {
	out := make(map[string]time.Duration, len(s.MinIntervalMs))
	for source, ms := range s.MinIntervalMs {
		out[source] = time.Duration(ms) * time.Millisecond
	}
	return out
}

// AnthropicConfig holds the Claude classification settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// EnrichConfig configures the enrichment runner and retry queue.
type EnrichConfig struct {
	StagesFile  string `yaml:"stages_file" mapstructure:"stages_file"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	// CircuitThreshold is the consecutive-failure count that opens a
	// source's circuit breaker; 0 disables breakers.
	CircuitThreshold int `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	ResetTimeoutSecs int `yaml:"circuit_reset_timeout_secs" mapstructure:"circuit_reset_timeout_secs"`
}

// ExportConfig configures the ML dataset export stage.
type ExportConfig struct {
	Output         string `yaml:"output" mapstructure:"output"`
	MinConfidence  string `yaml:"min_confidence" mapstructure:"min_confidence"`
	RequireTargets bool   `yaml:"require_targets" mapstructure:"require_targets"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRIALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.path", "data/trials.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("aact.database_url", "postgres://aact-db.ctti-clinicaltrials.org:5432/aact")
	v.SetDefault("aact.start_year", 2010)
	v.SetDefault("sources.chembl_base_url", "https://www.ebi.ac.uk/chembl/api/data")
	v.SetDefault("sources.pubchem_base_url", "https://pubchem.ncbi.nlm.nih.gov/rest/pug")
	v.SetDefault("sources.uniprot_base_url", "https://rest.uniprot.org")
	v.SetDefault("sources.stringdb_base_url", "https://string-db.org/api")
	v.SetDefault("sources.pubmed_base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("sources.ctgov_base_url", "https://clinicaltrials.gov/api/v2")
	v.SetDefault("sources.timeout_secs", 10)
	v.SetDefault("sources.min_interval_ms", map[string]int{
		"chembl":   50,
		"pubchem":  100,
		"uniprot":  100,
		"stringdb": 100,
		"pubmed":   100,
		"ctgov":    100,
	})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1000)
	v.SetDefault("enrich.stages_file", "stages.yaml")
	v.SetDefault("enrich.concurrency", 1)
	v.SetDefault("enrich.circuit_threshold", 5)
	v.SetDefault("enrich.circuit_reset_timeout_secs", 30)
	v.SetDefault("export.output", "data/ml_dataset.json")
	v.SetDefault("export.min_confidence", "low")

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

	return &cfg, nil
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
