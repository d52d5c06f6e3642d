package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/como-project/como/pkg/comoerr"
)

// Load reads configFile (if non-empty), applies defaults, then applies
// COMO_* environment overrides, and validates the result before
// returning it — the same load → default → override → validate
// sequence the rest of the pack uses for its YAML config.
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, comoerr.Wrap(comoerr.CodeConfigInvalid, "config", "Load", err, comoerr.SeverityFatal)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, comoerr.Wrap(comoerr.CodeConfigInvalid, "config", "Load", err, comoerr.SeverityFatal)
		}
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.Memory.SizeBytes == 0 {
		c.Memory.SizeBytes = 64 << 20 // 64MiB
	}
	if c.Storage.SegmentSizeBytes == 0 {
		c.Storage.SegmentSizeBytes = 16 << 20 // 16MiB
	}
	if c.Storage.BaseDir == "" {
		c.Storage.BaseDir = "./como-data"
	}
	if c.Storage.Compaction.Interval == 0 {
		c.Storage.Compaction.Interval = 10 * time.Minute
	}
	if c.Storage.Compaction.MinSegAge == 0 {
		c.Storage.Compaction.MinSegAge = time.Minute
	}
	if c.Storage.Kafka.SASL.Mechanism == "" {
		c.Storage.Kafka.SASL.Mechanism = "SCRAM-SHA-256"
	}
	if c.Query.Port == 0 {
		c.Query.Port = 44444
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Metrics.Bind == "" {
		c.Metrics.Bind = ":9377"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}
	if c.Supervisor.RespawnMaxRetries == 0 {
		c.Supervisor.RespawnMaxRetries = 5
	}
	if c.Supervisor.RespawnWindow == 0 {
		c.Supervisor.RespawnWindow = time.Minute
	}
	for i := range c.Sniffers {
		if c.Sniffers[i].Mode == "" {
			c.Sniffers[i].Mode = "select"
		}
	}
	for i := range c.Modules {
		if c.Modules[i].FlushIntervalSeconds == 0 {
			c.Modules[i].FlushIntervalSeconds = 1
		}
		if c.Modules[i].SampleRate == 0 {
			c.Modules[i].SampleRate = 1 // 1 means "admit every packet"
		}
	}
}

func applyEnvironmentOverrides(c *Config) {
	c.Log.Level = getEnvString("COMO_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvString("COMO_LOG_FORMAT", c.Log.Format)
	c.Metrics.Enabled = getEnvBool("COMO_METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Bind = getEnvString("COMO_METRICS_BIND", c.Metrics.Bind)
	c.Storage.BaseDir = getEnvString("COMO_STORAGE_BASEDIR", c.Storage.BaseDir)
	c.Query.Port = getEnvInt("COMO_QUERY_PORT", c.Query.Port)
	c.Memory.SizeBytes = getEnvInt64("COMO_MEMORY_SIZE_BYTES", c.Memory.SizeBytes)
	c.Storage.Kafka.Enabled = getEnvBool("COMO_KAFKA_ENABLED", c.Storage.Kafka.Enabled)
	c.Storage.Kafka.SASL.Password = getEnvString("COMO_KAFKA_SASL_PASSWORD", c.Storage.Kafka.SASL.Password)
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
