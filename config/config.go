package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/viper"

	"github.com/fledge/fledge-server/errortypes"
)

// Configuration holds every flag the ad selection service consults. It is
// resolved once at startup and passed explicitly through the call chain;
// nothing reads viper after New returns.
type Configuration struct {
	ExternalURL string `mapstructure:"external_url"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	AdminPort   int    `mapstructure:"admin_port"`

	// MaxRequestSize is the cap on request bodies, in bytes.
	MaxRequestSize int64 `mapstructure:"max_request_size_bytes"`

	Timeouts     Timeouts     `mapstructure:"timeouts"`
	Reporting    Reporting    `mapstructure:"reporting"`
	FrequencyCap FrequencyCap `mapstructure:"frequency_cap"`
	Scoring      Scoring      `mapstructure:"scoring"`
	Overrides    Overrides    `mapstructure:"overrides"`
	Storage      Storage      `mapstructure:"storage"`
	Metrics      Metrics      `mapstructure:"metrics"`
	RateLimits   RateLimits   `mapstructure:"rate_limits"`
	Enrollment   Enrollment   `mapstructure:"enrollment"`
}

// Timeouts bounds every suspension point in the pipeline. All values are
// milliseconds.
type Timeouts struct {
	FetchMS            uint64 `mapstructure:"fetch_ms"`
	ScoringMS          uint64 `mapstructure:"scoring_ms"`
	PerScriptMS        uint64 `mapstructure:"per_script_ms"`
	ReportImpressionMS uint64 `mapstructure:"report_impression_overall_ms"`
}

func (t *Timeouts) Fetch() time.Duration {
	return time.Duration(t.FetchMS) * time.Millisecond
}

func (t *Timeouts) Scoring() time.Duration {
	return time.Duration(t.ScoringMS) * time.Millisecond
}

func (t *Timeouts) PerScript() time.Duration {
	return time.Duration(t.PerScriptMS) * time.Millisecond
}

func (t *Timeouts) ReportImpression() time.Duration {
	return time.Duration(t.ReportImpressionMS) * time.Millisecond
}

// Reporting controls beacon registration during impression reporting.
type Reporting struct {
	// BeaconsEnabled gates registerAdBeacon collection entirely.
	BeaconsEnabled bool `mapstructure:"beacons_enabled"`
	// MaxRegisteredBeaconsTotal caps the combined seller+buyer beacon count
	// persisted per reportImpression call.
	MaxRegisteredBeaconsTotal int `mapstructure:"max_registered_beacons_total"`
	// MaxInteractionKeySizeBytes drops any beacon whose interaction key is
	// longer than this many bytes.
	MaxInteractionKeySizeBytes int `mapstructure:"max_interaction_key_size_bytes"`
}

// FrequencyCap controls the histogram updater and filter.
type FrequencyCap struct {
	Enabled bool `mapstructure:"enabled"`
	// AbsoluteMaxTotalEvents triggers eviction once total stored events
	// exceed it.
	AbsoluteMaxTotalEvents int `mapstructure:"absolute_max_total_events"`
	// LowerMaxTotalEvents is the count eviction shrinks the table down to.
	LowerMaxTotalEvents int `mapstructure:"lower_max_total_events"`
}

// Scoring controls the ads score generator.
type Scoring struct {
	// ContextualAdsEnabled lets buyer-supplied contextual ads join scoring.
	ContextualAdsEnabled bool `mapstructure:"contextual_ads_enabled"`
	// JSCacheSizeBytes sizes the in-memory cache for fetched decision logic.
	JSCacheSizeBytes int `mapstructure:"js_cache_size_bytes"`
	// JSCacheTTLSeconds bounds how long fetched decision logic is reused.
	JSCacheTTLSeconds int `mapstructure:"js_cache_ttl_seconds"`
}

// Overrides controls the developer-mode override store.
type Overrides struct {
	Enabled bool `mapstructure:"enabled"`
}

// Storage selects and configures the persistence backend.
type Storage struct {
	// Type is "memory" or "postgres".
	Type     string   `mapstructure:"type"`
	Postgres Postgres `mapstructure:"postgres"`
}

type Postgres struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Dbname   string `mapstructure:"dbname"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// ConnString builds a lib/pq connection string from the parts.
func (c *Postgres) ConnString() string {
	uri := ""
	if c.Host != "" {
		uri += fmt.Sprintf("host=%s ", c.Host)
	}
	if c.Port > 0 {
		uri += fmt.Sprintf("port=%d ", c.Port)
	}
	if c.User != "" {
		uri += fmt.Sprintf("user=%s ", c.User)
	}
	if c.Password != "" {
		uri += fmt.Sprintf("password=%s ", c.Password)
	}
	if c.Dbname != "" {
		uri += fmt.Sprintf("dbname=%s ", c.Dbname)
	}
	return uri + "sslmode=disable"
}

// Metrics selects the telemetry backends. Multiple backends may be active;
// events fan out to all of them.
type Metrics struct {
	Influxdb   InfluxMetrics     `mapstructure:"influxdb"`
	Prometheus PrometheusMetrics `mapstructure:"prometheus"`
}

type InfluxMetrics struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// IntervalSeconds is how often the registry flushes to influx.
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

type PrometheusMetrics struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Subsystem string `mapstructure:"subsystem"`
}

// RateLimits configures both the HTTP-level request limiter and the
// per-caller API throttle.
type RateLimits struct {
	Enabled             bool    `mapstructure:"enabled"`
	RequestsPerSecond   float64 `mapstructure:"requests_per_second"`
	Burst               int     `mapstructure:"burst"`
	PerCallerPerSecond  float64 `mapstructure:"per_caller_per_second"`
	PerCallerBurst      int     `mapstructure:"per_caller_burst"`
}

// Enrollment lists the ad tech domains allowed to run auctions and receive
// beacons. An empty list disables the check.
type Enrollment struct {
	EnrolledDomains []string `mapstructure:"enrolled_domains"`
}

func (cfg *Configuration) validate() error {
	var errs []error
	if cfg.MaxRequestSize < 0 {
		errs = append(errs, fmt.Errorf("cfg.max_request_size_bytes must be >= 0. Got %d", cfg.MaxRequestSize))
	}
	if cfg.Timeouts.ScoringMS == 0 {
		errs = append(errs, errors.New("cfg.timeouts.scoring_ms must be positive"))
	}
	if cfg.Timeouts.PerScriptMS == 0 {
		errs = append(errs, errors.New("cfg.timeouts.per_script_ms must be positive"))
	}
	if cfg.Reporting.MaxRegisteredBeaconsTotal < 0 {
		errs = append(errs, fmt.Errorf("cfg.reporting.max_registered_beacons_total must be >= 0. Got %d", cfg.Reporting.MaxRegisteredBeaconsTotal))
	}
	if cfg.FrequencyCap.LowerMaxTotalEvents > cfg.FrequencyCap.AbsoluteMaxTotalEvents {
		errs = append(errs, fmt.Errorf("cfg.frequency_cap.lower_max_total_events (%d) must not exceed absolute_max_total_events (%d)",
			cfg.FrequencyCap.LowerMaxTotalEvents, cfg.FrequencyCap.AbsoluteMaxTotalEvents))
	}
	if cfg.Storage.Type != "memory" && cfg.Storage.Type != "postgres" {
		errs = append(errs, fmt.Errorf(`cfg.storage.type must be "memory" or "postgres". Got %s`, cfg.Storage.Type))
	}
	if len(errs) > 0 {
		return errortypes.NewAggregateErrors("invalid configuration", errs)
	}
	return nil
}

// New resolves the Configuration from the given viper instance and validates
// it. The returned struct is never mutated afterwards.
func New(v *viper.Viper) (*Configuration, error) {
	var c Configuration
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("viper failed to unmarshal app config: %v", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	glog.Info("Logging the resolved ad selection configuration:")
	glog.Infof("%+v", c)
	return &c, nil
}

// SetupViper sets the default config values and wires env var overrides with
// the FLEDGE_ prefix (e.g. FLEDGE_TIMEOUTS_SCORING_MS).
func SetupViper(v *viper.Viper, filename string) {
	if filename != "" {
		v.SetConfigName(filename)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/config")
	}

	v.SetDefault("external_url", "http://localhost:8000")
	v.SetDefault("host", "")
	v.SetDefault("port", 8000)
	v.SetDefault("admin_port", 6060)
	v.SetDefault("max_request_size_bytes", 1024*256)

	v.SetDefault("timeouts.fetch_ms", 2000)
	v.SetDefault("timeouts.scoring_ms", 5000)
	v.SetDefault("timeouts.per_script_ms", 2000)
	v.SetDefault("timeouts.report_impression_overall_ms", 10000)

	v.SetDefault("reporting.beacons_enabled", true)
	v.SetDefault("reporting.max_registered_beacons_total", 10)
	v.SetDefault("reporting.max_interaction_key_size_bytes", 40)

	v.SetDefault("frequency_cap.enabled", true)
	v.SetDefault("frequency_cap.absolute_max_total_events", 10000)
	v.SetDefault("frequency_cap.lower_max_total_events", 9500)

	v.SetDefault("scoring.contextual_ads_enabled", true)
	v.SetDefault("scoring.js_cache_size_bytes", 10*1024*1024)
	v.SetDefault("scoring.js_cache_ttl_seconds", 600)

	v.SetDefault("overrides.enabled", false)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.postgres.host", "")
	v.SetDefault("storage.postgres.port", 0)
	v.SetDefault("storage.postgres.dbname", "")
	v.SetDefault("storage.postgres.user", "")
	v.SetDefault("storage.postgres.password", "")

	v.SetDefault("metrics.influxdb.enabled", false)
	v.SetDefault("metrics.influxdb.host", "")
	v.SetDefault("metrics.influxdb.database", "")
	v.SetDefault("metrics.influxdb.username", "")
	v.SetDefault("metrics.influxdb.password", "")
	v.SetDefault("metrics.influxdb.interval_seconds", 60)
	v.SetDefault("metrics.prometheus.enabled", false)
	v.SetDefault("metrics.prometheus.namespace", "fledge")
	v.SetDefault("metrics.prometheus.subsystem", "adselection")

	v.SetDefault("rate_limits.enabled", true)
	v.SetDefault("rate_limits.requests_per_second", 100.0)
	v.SetDefault("rate_limits.burst", 200)
	v.SetDefault("rate_limits.per_caller_per_second", 1.0)
	v.SetDefault("rate_limits.per_caller_burst", 5)

	v.SetDefault("enrollment.enrolled_domains", []string{})

	v.SetEnvPrefix("FLEDGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.ReadInConfig()
}
