// Package config loads process configuration from the environment,
// mirroring the teacher's "read, then validate, then return one
// aggregate error" pattern but binding scalar required paths through
// viper rather than parsing a YAML document.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "OPENWRT_BUILDER"

// Config holds every value the process needs to locate its on-disk
// state and tune the runner's concurrency.
type Config struct {
	BuildsDir    string
	FilesDir     string
	CacheDir     string
	WrapperDir   string
	ProfilesDir  string
	ListsDir     string
	RuntimeDir   string
	PollInterval float64
	BuildJobs    int
	OTLPEndpoint string
}

var requiredVars = []struct {
	env    string
	assign func(*Config, string)
}{
	{"BUILDS_DIR", func(c *Config, v string) { c.BuildsDir = v }},
	{"FILES_DIR", func(c *Config, v string) { c.FilesDir = v }},
	{"CACHE_DIR", func(c *Config, v string) { c.CacheDir = v }},
	{"WRAPPER_DIR", func(c *Config, v string) { c.WrapperDir = v }},
	{"PROFILES_DIR", func(c *Config, v string) { c.ProfilesDir = v }},
	{"LISTS_DIR", func(c *Config, v string) { c.ListsDir = v }},
	{"RUNTIME_DIR", func(c *Config, v string) { c.RuntimeDir = v }},
}

// Load reads the required OPENWRT_BUILDER_* path variables plus two
// optional tuning variables, aggregating every missing required
// variable into a single error rather than failing on the first.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetDefault("POLL_INTERVAL_SEC", 1.0)
	v.SetDefault("BUILD_JOBS", runtime.NumCPU())

	for _, rv := range requiredVars {
		_ = v.BindEnv(rv.env)
	}
	_ = v.BindEnv("POLL_INTERVAL_SEC")
	_ = v.BindEnv("BUILD_JOBS")
	_ = v.BindEnv("OTLP_ENDPOINT")

	cfg := &Config{}
	var missing []string
	for _, rv := range requiredVars {
		val := v.GetString(rv.env)
		if val == "" {
			missing = append(missing, fmt.Sprintf("%s_%s", envPrefix, rv.env))
			continue
		}
		rv.assign(cfg, val)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	cfg.PollInterval = v.GetFloat64("POLL_INTERVAL_SEC")
	cfg.BuildJobs = v.GetInt("BUILD_JOBS")
	if cfg.BuildJobs <= 0 {
		cfg.BuildJobs = runtime.NumCPU()
	}
	cfg.OTLPEndpoint = v.GetString("OTLP_ENDPOINT")

	return cfg, nil
}
