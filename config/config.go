package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"spotradar/internal/domain/constants"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/slighter12/go-lib/database/postgres"
)

const (
	defaultPath = "."

	defaultRadiusKm           = 1.0
	defaultMaxRadiusKm        = 50.0
	defaultMaxSessions        = 1000
	defaultSessionIdleTimeout = 5 * time.Minute
	defaultStreamBuffer       = 4
	defaultPollInterval       = 5 * time.Second
)

type Config struct {
	Env struct {
		Env         string `json:"env" yaml:"env"`
		ServiceName string `json:"serviceName" yaml:"serviceName"`
		Debug       bool   `json:"debug" yaml:"debug"`
		Log         Log    `json:"log" yaml:"log"`
	} `json:"env" yaml:"env"`

	HTTP struct {
		Port     int `json:"port" yaml:"port"`
		Timeouts struct {
			ReadTimeout       time.Duration `json:"readTimeout" yaml:"readTimeout"`
			ReadHeaderTimeout time.Duration `json:"readHeaderTimeout" yaml:"readHeaderTimeout"`
			WriteTimeout      time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
			IdleTimeout       time.Duration `json:"idleTimeout" yaml:"idleTimeout"`
		} `json:"timeouts" yaml:"timeouts"`
	} `json:"http" yaml:"http"`

	// Radar configures the subscription engine and its sessions
	Radar *RadarConfig `json:"radar" yaml:"radar"`

	// Provider selects the geo query backend and its change feed
	Provider *ProviderConfig `json:"provider" yaml:"provider"`

	Postgres *postgres.DBConn `json:"postgres" yaml:"postgres" mapstructure:"postgres"`

	// Redis configuration for the GEOSEARCH provider and change feed
	Redis *RedisConfig `json:"redis" yaml:"redis"`

	// PubSub configuration for the Google Pub/Sub change feed
	PubSub *PubSubConfig `json:"pubsub" yaml:"pubsub"`

	// Metrics configuration for the Prometheus endpoint
	Metrics *MetricsConfig `json:"metrics" yaml:"metrics"`
}

type Log struct {
	Pretty bool   `json:"pretty" yaml:"pretty"`
	Level  string `json:"level" yaml:"level"`
}

// RadarConfig defines the radar engine configuration
type RadarConfig struct {
	// Radius used when a client opens a session without one
	DefaultRadiusKm float64 `json:"defaultRadiusKm" yaml:"defaultRadiusKm"`

	// Largest radius a client may request
	MaxRadiusKm float64 `json:"maxRadiusKm" yaml:"maxRadiusKm"`

	// Maximum number of concurrent sessions
	MaxSessions int `json:"maxSessions" yaml:"maxSessions"`

	// Sessions without a stream viewer for this long are stopped
	SessionIdleTimeout time.Duration `json:"sessionIdleTimeout" yaml:"sessionIdleTimeout"`

	// Stored field holding spot coordinates
	LocationField string `json:"locationField" yaml:"locationField"`

	// Frames buffered per stream client before older frames are replaced
	StreamBuffer int `json:"streamBuffer" yaml:"streamBuffer"`
}

// ProviderConfig selects the geo query provider
type ProviderConfig struct {
	// Kind: "memory", "redis" or "postgres"
	Kind string `json:"kind" yaml:"kind"`

	// ChangeFeed: "ticker", "redis" or "google"
	ChangeFeed string `json:"changeFeed" yaml:"changeFeed"`

	// Re-evaluation interval for the ticker change feed
	PollInterval time.Duration `json:"pollInterval" yaml:"pollInterval"`

	// Spots file loaded into the memory provider at startup (optional)
	SeedFile string `json:"seedFile" yaml:"seedFile"`
}

// RedisConfig defines the Redis connection and key layout
type RedisConfig struct {
	Addr       string `json:"addr" yaml:"addr"`
	Password   string `json:"password" yaml:"password"`
	DB         int    `json:"db" yaml:"db"`
	GeoKey     string `json:"geoKey" yaml:"geoKey"`
	PayloadKey string `json:"payloadKey" yaml:"payloadKey"`
	Channel    string `json:"channel" yaml:"channel"`
}

// PubSubConfig defines Google Pub/Sub configuration for spot change events
type PubSubConfig struct {
	// Google Cloud project ID
	ProjectID string `json:"projectId" yaml:"projectId"`

	// Topic spot writers publish to
	TopicID string `json:"topicId" yaml:"topicId"`

	// Subscription this instance receives from
	SubscriptionID string `json:"subscriptionId" yaml:"subscriptionId"`
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// LoadWithEnv loads .yaml files through koanf.
func LoadWithEnv[T any](currEnv string, configPath ...string) (*T, error) {
	cfg := new(T)
	koanfInstance := koanf.New(".")

	// Build list of paths to search for config file
	searchPaths := []string{defaultPath}
	if len(configPath) != 0 {
		pwd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "os.Getwd")
		}
		for _, path := range configPath {
			abs := filepath.Join(pwd, path)
			searchPaths = append(searchPaths, abs)
		}
	}

	// Try to find and load the config file
	var configFile string
	var found bool
	for _, path := range searchPaths {
		candidate := filepath.Join(path, currEnv+".yaml")
		if _, err := os.Stat(candidate); err == nil {
			configFile = candidate
			found = true

			break
		}
	}

	if !found {
		return nil, errors.Errorf("config file %s.yaml not found in any search path", currEnv)
	}

	// Load YAML config file
	if err := koanfInstance.Load(file.Provider(configFile), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "read %s config failed", currEnv)
	}

	existingConfigMap := koanfInstance.Raw()

	// Load environment variables
	if err := koanfInstance.Load(env.Provider(".", env.Opt{
		TransformFunc: func(k, v string) (string, any) {
			// Convert ENV_VAR_NAME to path and align each segment with existing YAML keys.
			// Example: POSTGRES_SSLMODE -> postgres.sslMode (not postgres.sslmode)
			key := canonicalizeEnvKey(k, existingConfigMap)

			return key, v
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables failed")
	}

	// Unmarshal into the config struct (case-insensitive to match env vars)
	if err := koanfInstance.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			MatchName: func(mapKey, fieldName string) bool {
				// Case-insensitive matching for env var overrides
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s config failed", currEnv)
	}

	return cfg, nil
}

func New() (*Config, error) {
	cfg, err := LoadWithEnv[Config]("config", "config", "../config", "../../config")
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	// Build replicas from environment variables (POSTGRES_REPLICAS_0_HOST, POSTGRES_REPLICAS_0_PORT, etc.)
	if cfg.Postgres != nil {
		cfg.Postgres.Replicas = buildReplicasFromEnv()
	}

	return cfg, nil
}

// applyDefaults fills the optional sections so that consumers never see nil.
func applyDefaults(cfg *Config) {
	if cfg.Radar == nil {
		cfg.Radar = &RadarConfig{}
	}
	if cfg.Radar.DefaultRadiusKm <= 0 {
		cfg.Radar.DefaultRadiusKm = defaultRadiusKm
	}
	if cfg.Radar.MaxRadiusKm <= 0 {
		cfg.Radar.MaxRadiusKm = defaultMaxRadiusKm
	}
	if cfg.Radar.MaxSessions <= 0 {
		cfg.Radar.MaxSessions = defaultMaxSessions
	}
	if cfg.Radar.SessionIdleTimeout <= 0 {
		cfg.Radar.SessionIdleTimeout = defaultSessionIdleTimeout
	}
	if cfg.Radar.StreamBuffer <= 0 {
		cfg.Radar.StreamBuffer = defaultStreamBuffer
	}
	if strings.TrimSpace(cfg.Radar.LocationField) == "" {
		cfg.Radar.LocationField = constants.DefaultLocationField
	}

	if cfg.Provider == nil {
		cfg.Provider = &ProviderConfig{}
	}
	if cfg.Provider.Kind == "" {
		cfg.Provider.Kind = constants.ProviderMemory
	}
	if cfg.Provider.ChangeFeed == "" {
		cfg.Provider.ChangeFeed = constants.ChangeFeedTicker
	}
	if cfg.Provider.PollInterval <= 0 {
		cfg.Provider.PollInterval = defaultPollInterval
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{Enabled: true}
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func canonicalizeEnvKey(rawKey string, existing map[string]any) string {
	segments := strings.Split(strings.ToLower(rawKey), "_")
	canonical := make([]string, 0, len(segments))
	current := existing

	for _, segment := range segments {
		if segment == "" {
			continue
		}

		if matched, next, ok := findExistingSegment(current, segment); ok {
			canonical = append(canonical, matched)
			current = next
		} else {
			canonical = append(canonical, segment)
			current = nil
		}
	}

	return strings.Join(canonical, ".")
}

func findExistingSegment(current map[string]any, segment string) (matched string, next map[string]any, ok bool) {
	if len(current) == 0 {
		return "", nil, false
	}

	needle := normalizeToken(segment)
	for key, value := range current {
		if normalizeToken(key) != needle {
			continue
		}

		child, _ := value.(map[string]any)

		return key, child, true
	}

	return "", nil, false
}

func normalizeToken(s string) string {
	var normalized strings.Builder
	normalized.Grow(len(s))

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		normalized.WriteRune(unicode.ToLower(r))
	}

	return normalized.String()
}

// buildReplicasFromEnv builds the replicas slice from environment variables.
// Environment variable format: POSTGRES_REPLICAS_{index}_{field}
// Example: POSTGRES_REPLICAS_0_HOST, POSTGRES_REPLICAS_0_PORT, POSTGRES_REPLICAS_0_USERNAME, POSTGRES_REPLICAS_0_PASSWORD
func buildReplicasFromEnv() []postgres.ConnectionConfig {
	var replicas []postgres.ConnectionConfig

	for i := 0; ; i++ {
		prefix := "POSTGRES_REPLICAS_" + strconv.Itoa(i) + "_"

		host := os.Getenv(prefix + "HOST")
		port := os.Getenv(prefix + "PORT")
		if host == "" || port == "" {
			// No more replicas or incomplete configuration.
			break
		}

		replica := postgres.ConnectionConfig{
			Host:     host,
			Port:     port,
			UserName: os.Getenv(prefix + "USERNAME"),
			Password: os.Getenv(prefix + "PASSWORD"),
		}

		replicas = append(replicas, replica)
	}

	return replicas
}
