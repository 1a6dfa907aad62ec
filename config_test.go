package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		bind:              "127.0.0.1",
		port:              8080,
		sessionTimeout:    time.Hour,
		room:              "miSala",
		balls:             10,
		restartBalls:      5,
		ballRadius:        30,
		hitScale:          2,
		mirror:            true,
		placementAttempts: 100,
		referenceWidth:    1280,
		referenceHeight:   720,
		effectDuration:    time.Second,
		natsSubject:       "popbox.rooms",
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, testConfig().validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"half tls", func(c *Config) { c.tlsCert = "cert.pem" }},
		{"port zero", func(c *Config) { c.port = 0 }},
		{"port too large", func(c *Config) { c.port = 70000 }},
		{"negative session timeout", func(c *Config) { c.sessionTimeout = -time.Second }},
		{"empty room", func(c *Config) { c.room = "" }},
		{"room with slash", func(c *Config) { c.room = "a/b" }},
		{"no balls", func(c *Config) { c.balls = 0 }},
		{"no restart balls", func(c *Config) { c.restartBalls = 0 }},
		{"zero radius", func(c *Config) { c.ballRadius = 0 }},
		{"zero hit scale", func(c *Config) { c.hitScale = 0 }},
		{"no attempts", func(c *Config) { c.placementAttempts = 0 }},
		{"zero width", func(c *Config) { c.referenceWidth = 0 }},
		{"zero effect", func(c *Config) { c.effectDuration = 0 }},
		{"nats without subject", func(c *Config) { c.natsURL = "nats://localhost:4222"; c.natsSubject = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestNewCmd_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("POPBOX_BALLS", "7")
	t.Setenv("POPBOX_HIT_SCALE", "1.5")
	t.Setenv("POPBOX_IMAGES", "red,blue")

	cfg := &Config{}
	cmd := newCmd(cfg)

	assert.Equal(t, 7, cfg.balls)
	assert.Equal(t, 1.5, cfg.hitScale)
	assert.Equal(t, []string{"red", "blue"}, cfg.images)
	assert.Equal(t, 5, cfg.restartBalls)
	assert.True(t, cfg.mirror)
	assert.Equal(t, "popbox", cmd.Use)
}

func TestConfig_Scheme(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "http", cfg.scheme())

	cfg.tlsCert, cfg.tlsKey = "cert.pem", "key.pem"
	assert.Equal(t, "https", cfg.scheme())
}
