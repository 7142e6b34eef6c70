package config

import (
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Root struct {
	Env   string `yaml:"env"`
	Local Config `yaml:"local"`
	Prod  Config `yaml:"prod"`
}

type Config struct {
	Env string `yaml:"-"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // console|json
	} `yaml:"log"`

	Upstream struct {
		BaseURL        string            `yaml:"base_url"`
		ZipCode        string            `yaml:"zip_code"`
		APIKey         string            `yaml:"api_key"`
		ClientKey      string            `yaml:"client_key"`
		UserAgent      string            `yaml:"user_agent"`
		RetailerIDs    map[string]string `yaml:"retailer_ids"`
		AllowedStores  []string          `yaml:"allowed_stores"`
		PageSize       int               `yaml:"page_size"`
		MinDelayMS     int               `yaml:"min_delay_ms"`
		MaxDelayMS     int               `yaml:"max_delay_ms"`
		TimeoutSeconds int               `yaml:"timeout_seconds"`
		ListingLimit   int               `yaml:"listing_limit"`
	} `yaml:"upstream"`

	Discovery struct {
		Enabled        bool   `yaml:"enabled"`
		HomepageURL    string `yaml:"homepage_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"discovery"`

	Retry struct {
		MaxAttempts int `yaml:"max_attempts"`
		BaseDelayMS int `yaml:"base_delay_ms"`
		MaxDelayMS  int `yaml:"max_delay_ms"`
	} `yaml:"retry"`

	Storage struct {
		Driver     string `yaml:"driver"` // sqlite|postgres
		SQLitePath string `yaml:"sqlite_path"`
		PGDSN      string `yaml:"pg_dsn"`
		MaxConns   int    `yaml:"max_conns"`
		ViaBouncer bool   `yaml:"via_bouncer"`
	} `yaml:"storage"`

	Embeddings struct {
		Provider        string `yaml:"provider"` // ollama|lmstudio
		URL             string `yaml:"url"`
		Model           string `yaml:"model"`
		BatchSize       int    `yaml:"batch_size"`
		Cache           string `yaml:"cache"` // store|redis|none
		RedisAddr       string `yaml:"redis_addr"`
		RedisTTLSeconds int    `yaml:"redis_ttl_seconds"`
	} `yaml:"embeddings"`

	Search struct {
		IndexPath string `yaml:"index_path"`
	} `yaml:"search"`

	Events struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"events"`

	Run struct {
		MaxFailureRate    *float64 `yaml:"max_failure_rate"` // nil means unset; 0 tolerates no failures
		FailOnPartialSync bool     `yaml:"fail_on_partial_sync"`
		RetailerDelayMS   int      `yaml:"retailer_delay_ms"`
	} `yaml:"run"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// Load reads path, selects the active profile and applies environment
// overrides and defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var root Root
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &root); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	case os.IsNotExist(err):
	default:
		return nil, errors.Wrapf(err, "read %s", path)
	}

	env := strings.TrimSpace(strings.ToLower(root.Env))
	if v := os.Getenv("OFFERSYNC_ENV"); v != "" {
		env = strings.ToLower(v)
	}
	if env == "" {
		env = "local"
	}

	var p Config
	switch env {
	case "local":
		p = root.Local
	case "prod":
		p = root.Prod
	default:
		return nil, errors.Errorf("unknown env=%q (expected local|prod)", env)
	}
	p.Env = env

	if err := applyEnv(&p); err != nil {
		return nil, err
	}
	applyDefaults(&p)
	return &p, nil
}

func applyEnv(p *Config) error {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&p.Upstream.APIKey, "MARKTGURU_API_KEY")
	setString(&p.Upstream.ClientKey, "MARKTGURU_CLIENT_KEY")
	setString(&p.Storage.PGDSN, "OFFERSYNC_PG_DSN")
	setString(&p.Embeddings.RedisAddr, "OFFERSYNC_REDIS_ADDR")

	if v := os.Getenv("OFFERSYNC_KAFKA_BROKERS"); v != "" {
		p.Events.Brokers = splitList(v)
	}
	if v := os.Getenv("ALLOWED_STORES"); v != "" {
		p.Upstream.AllowedStores = splitList(v)
	}
	if v := os.Getenv("MAX_FAILURE_RATE"); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return errors.Wrapf(err, "MAX_FAILURE_RATE=%q", v)
		}
		p.Run.MaxFailureRate = &f
	}
	if v := os.Getenv("FAIL_ON_PARTIAL_SYNC"); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "FAIL_ON_PARTIAL_SYNC=%q", v)
		}
		p.Run.FailOnPartialSync = b
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func applyDefaults(p *Config) {
	if p.Upstream.BaseURL == "" {
		p.Upstream.BaseURL = "https://api.marktguru.de"
	}
	if p.Upstream.ZipCode == "" {
		p.Upstream.ZipCode = "10115"
	}
	if p.Upstream.PageSize <= 0 {
		p.Upstream.PageSize = 50
	}
	if p.Upstream.MinDelayMS <= 0 {
		p.Upstream.MinDelayMS = 500
	}
	if p.Upstream.MaxDelayMS < p.Upstream.MinDelayMS {
		p.Upstream.MaxDelayMS = p.Upstream.MinDelayMS + 1000
	}
	if p.Upstream.TimeoutSeconds <= 0 {
		p.Upstream.TimeoutSeconds = 10
	}
	if p.Upstream.ListingLimit <= 0 {
		p.Upstream.ListingLimit = 500
	}

	if p.Discovery.TimeoutSeconds <= 0 {
		p.Discovery.TimeoutSeconds = 120
	}

	if p.Retry.MaxAttempts <= 0 {
		p.Retry.MaxAttempts = 3
	}
	if p.Retry.BaseDelayMS <= 0 {
		p.Retry.BaseDelayMS = 2000
	}
	if p.Retry.MaxDelayMS <= 0 {
		p.Retry.MaxDelayMS = 10000
	}

	if p.Storage.Driver == "" {
		p.Storage.Driver = "sqlite"
	}
	if p.Storage.SQLitePath == "" {
		p.Storage.SQLitePath = "./data/offers.db"
	}
	if p.Storage.MaxConns <= 0 {
		p.Storage.MaxConns = 4
	}

	if p.Embeddings.Provider == "" {
		p.Embeddings.Provider = "ollama"
	}
	if p.Embeddings.BatchSize <= 0 {
		p.Embeddings.BatchSize = 50
	}
	if p.Embeddings.Cache == "" {
		p.Embeddings.Cache = "store"
	}
	if p.Embeddings.RedisTTLSeconds <= 0 {
		p.Embeddings.RedisTTLSeconds = 30 * 24 * 3600
	}

	if p.Search.IndexPath == "" {
		p.Search.IndexPath = "./data/offers.bleve"
	}
	if p.Events.Topic == "" {
		p.Events.Topic = "offer-sync.retailer-synced"
	}

	if p.Run.MaxFailureRate == nil {
		rate := 0.2
		p.Run.MaxFailureRate = &rate
	}
	if p.Run.RetailerDelayMS <= 0 {
		p.Run.RetailerDelayMS = 1000
	}

	if p.Server.Port == 0 {
		p.Server.Port = 8080
	}

	if p.Log.Level == "" {
		if p.Env == "prod" {
			p.Log.Level = "info"
		} else {
			p.Log.Level = "debug"
		}
	}
	if p.Log.Format == "" {
		if p.Env == "prod" {
			p.Log.Format = "json"
		} else {
			p.Log.Format = "console"
		}
	}
}

// Stores returns the retailer keys to sync: the configured retailer ids,
// intersected with AllowedStores when set, in AllowedStores order.
func (c *Config) Stores(ids map[string]string) []string {
	if len(c.Upstream.AllowedStores) > 0 {
		var out []string
		for _, s := range c.Upstream.AllowedStores {
			k := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
			if _, ok := ids[k]; ok {
				out = append(out, k)
			}
		}
		return out
	}
	out := make([]string, 0, len(ids))
	for k := range ids {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// PageDelay returns the politeness bounds between page requests.
func (c *Config) PageDelay() (min, max time.Duration) {
	return ms(c.Upstream.MinDelayMS), ms(c.Upstream.MaxDelayMS)
}

// FailureRateLimit returns the maximum tolerated failed/fetched ratio.
func (c *Config) FailureRateLimit() float64 {
	if c.Run.MaxFailureRate == nil {
		return 0.2
	}
	return *c.Run.MaxFailureRate
}

// RetailerDelay is the pause between two retailers of one run.
func (c *Config) RetailerDelay() time.Duration { return ms(c.Run.RetailerDelayMS) }
