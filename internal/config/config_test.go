package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "8080", cfg.Port)
				assert.Equal(t, 30*time.Second, cfg.UpstreamTimeout)
				assert.Equal(t, 5*time.Minute, cfg.WorkerInterval)
				assert.Equal(t, 72*time.Hour, cfg.RefundGracePeriod)
				assert.Equal(t, "1", cfg.PhonePe.SaltIndex)
				assert.True(t, cfg.Shiprocket.AutoAWB)
				assert.Equal(t, int64(100), cfg.WorkerBatch)
				assert.Empty(t, cfg.AllowedOrigins)
			},
		},
		{
			name: "env overrides",
			env: map[string]string{
				"PORT":                   "9090",
				"MONGO_URI":              "mongodb://mongo:27017",
				"WORKER_INTERVAL":        "1m",
				"PHONEPE_SALT_KEY":       "salt",
				"RAZORPAY_WEBHOOK_TOKEN": "tok",
				"SHIPROCKET_AUTO_AWB":    "false",
				"SHIPROCKET_TOKEN_TTL":   "1h",
				"ALLOWED_ORIGINS":        "https://admin.example.com,http://localhost:5173",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "9090", cfg.Port)
				assert.Equal(t, "mongodb://mongo:27017", cfg.MongoURI)
				assert.Equal(t, time.Minute, cfg.WorkerInterval)
				assert.Equal(t, "salt", cfg.PhonePe.SaltKey)
				assert.Equal(t, "tok", cfg.Razorpay.WebhookToken)
				assert.False(t, cfg.Shiprocket.AutoAWB)
				assert.Equal(t, time.Hour, cfg.Shiprocket.TokenTTL)
				assert.Equal(t, []string{"https://admin.example.com", "http://localhost:5173"}, cfg.AllowedOrigins)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoad_RejectsNonPositiveInterval(t *testing.T) {
	t.Setenv("WORKER_INTERVAL", "0s")
	_, err := Load()
	assert.Error(t, err)
}
