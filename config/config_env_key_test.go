package config

import (
	"testing"
	"time"

	"spotradar/internal/domain/constants"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeEnvKey_UsesExistingCamelCaseKeys(t *testing.T) {
	existing := map[string]any{
		"postgres": map[string]any{
			"sslMode": "disable",
			"master": map[string]any{
				"userName": "user",
			},
		},
		"radar": map[string]any{
			"maxRadiusKm":        50,
			"sessionIdleTimeout": "5m",
		},
		"pubsub": map[string]any{
			"subscriptionId": "",
		},
	}

	tests := []struct {
		envKey string
		want   string
	}{
		{envKey: "POSTGRES_SSLMODE", want: "postgres.sslMode"},
		{envKey: "POSTGRES_MASTER_USERNAME", want: "postgres.master.userName"},
		{envKey: "RADAR_MAXRADIUSKM", want: "radar.maxRadiusKm"},
		{envKey: "RADAR_SESSION_IDLE_TIMEOUT", want: "radar.session.idle.timeout"},
		{envKey: "RADAR_SESSIONIDLETIMEOUT", want: "radar.sessionIdleTimeout"},
		{envKey: "PUBSUB_SUBSCRIPTIONID", want: "pubsub.subscriptionId"},
		{envKey: "NEW_FEATURE_FLAG", want: "new.feature.flag"},
	}

	for _, tt := range tests {
		t.Run(tt.envKey, func(t *testing.T) {
			if got := canonicalizeEnvKey(tt.envKey, existing); got != tt.want {
				t.Fatalf("canonicalizeEnvKey(%q) = %q, want %q", tt.envKey, got, tt.want)
			}
		})
	}
}

func TestApplyDefaults_FillsMissingSections(t *testing.T) {
	cfg := &Config{}

	applyDefaults(cfg)

	assert.Equal(t, defaultRadiusKm, cfg.Radar.DefaultRadiusKm)
	assert.Equal(t, defaultMaxRadiusKm, cfg.Radar.MaxRadiusKm)
	assert.Equal(t, defaultMaxSessions, cfg.Radar.MaxSessions)
	assert.Equal(t, defaultSessionIdleTimeout, cfg.Radar.SessionIdleTimeout)
	assert.Equal(t, constants.DefaultLocationField, cfg.Radar.LocationField)
	assert.Equal(t, constants.ProviderMemory, cfg.Provider.Kind)
	assert.Equal(t, constants.ChangeFeedTicker, cfg.Provider.ChangeFeed)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestApplyDefaults_KeepsConfiguredValues(t *testing.T) {
	cfg := &Config{
		Radar: &RadarConfig{
			DefaultRadiusKm:    2.5,
			MaxRadiusKm:        10,
			SessionIdleTimeout: time.Minute,
		},
		Provider: &ProviderConfig{Kind: constants.ProviderRedis, PollInterval: time.Second},
	}

	applyDefaults(cfg)

	assert.Equal(t, 2.5, cfg.Radar.DefaultRadiusKm)
	assert.Equal(t, 10.0, cfg.Radar.MaxRadiusKm)
	assert.Equal(t, time.Minute, cfg.Radar.SessionIdleTimeout)
	assert.Equal(t, constants.ProviderRedis, cfg.Provider.Kind)
	assert.Equal(t, time.Second, cfg.Provider.PollInterval)
}
