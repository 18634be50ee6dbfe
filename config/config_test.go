package config_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-service-admin/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, int64(1), cfg.ClusterID)
	assert.Equal(t, config.BrokerInMemory, cfg.Broker)
	assert.Equal(t, []string{"127.0.0.1:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.InvokeInternal)

	p := cfg.NotifyPolicy()
	assert.Equal(t, uint(5), p.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, p.InitialInterval)
	assert.Equal(t, 2*time.Second, p.MaxInterval)

	assert.Contains(t, cfg.SimpleIO().IntSuffixes, "_id")
	assert.Equal(t, int64(1), cfg.Admin().ClusterID)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SCG_ADMIN_CLUSTER_ID", "3")
	t.Setenv("SCG_ADMIN_BROKER", "kafka")
	t.Setenv("SCG_ADMIN_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SCG_ADMIN_NOTIFY_MAX_ATTEMPTS", "2")
	t.Setenv("SCG_ADMIN_INVOKE_INTERNAL", "true")
	t.Setenv("SCG_ADMIN_CUSTOM_AUTH_LIST_SERVICE", "custom.auth")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, int64(3), cfg.ClusterID)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, uint(2), cfg.NotifyPolicy().MaxAttempts)

	ac := cfg.Admin()
	assert.True(t, ac.InvokeInternal)
	assert.Equal(t, "custom.auth", ac.CustomAuthListService)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string][2]string{
		"bad int":     {"SCG_ADMIN_CLUSTER_ID", "abc"},
		"zero":        {"SCG_ADMIN_CLUSTER_ID", "0"},
		"broker":      {"SCG_ADMIN_BROKER", "zeromq"},
		"log level":   {"SCG_ADMIN_LOG_LEVEL", "loud"},
		"bad backoff": {"SCG_ADMIN_NOTIFY_BACKOFF", "soon"},
	}

	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])

			_, err := config.Load()
			require.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	cfg := config.Config{LogLevel: "warn", LogFormat: "json"}
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "service", "demo.echo")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), out)
	assert.Contains(t, out, `"service":"demo.echo"`)
}
