// Package config loads, defaults, and validates the single YAML
// document that configures a como process tree (§6 of the external
// interfaces: "the core consumes a configuration object specifying
// {memory size, sniffers[], modules[], storage basedir, segment size,
// query port}", plus the ambient settings every process needs).
package config

import "time"

// Config is the root configuration document.
type Config struct {
	Memory     MemoryConfig     `yaml:"memory"`
	Sniffers   []SnifferConfig  `yaml:"sniffers"`
	Modules    []ModuleConfig   `yaml:"modules"`
	Storage    StorageConfig    `yaml:"storage"`
	Query      QueryConfig      `yaml:"query"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Reload     ReloadConfig     `yaml:"reload"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
}

// MemoryConfig sizes the shared arena each process hands its flow
// tables and batches out of (§3, §4.1).
type MemoryConfig struct {
	SizeBytes int64 `yaml:"size_bytes"`
	Debug     bool  `yaml:"debug"` // enables shmem.Arena leak attribution
}

// SnifferConfig names one capture source and its scheduling mode (§4.4).
type SnifferConfig struct {
	Name string            `yaml:"name"`
	Kind string            `yaml:"kind"` // "generator" | "pcapfile"
	Mode string            `yaml:"mode"` // "select" | "poll"
	Args map[string]string `yaml:"args"`
}

// ModuleConfig registers one flow-table module, its flush cadence, and
// its packet sampling rate (§4.5/§4.6); RawConfig is handed to the
// module's Init unparsed, since the core does not know a module's
// private schema.
type ModuleConfig struct {
	Name                 string `yaml:"name"`
	FlushIntervalSeconds  int64  `yaml:"flush_interval_seconds"`
	SampleRate            int    `yaml:"sample_rate"`
	RawConfig             string `yaml:"config"`
}

// StorageConfig is the on-disk stream layout's knobs (§4.7), plus the
// domain-stack additions SPEC_FULL.md §4.7 adds: segment compaction and
// an optional Kafka commit-notification publish.
type StorageConfig struct {
	BaseDir          string          `yaml:"base_dir"`
	SegmentSizeBytes int64           `yaml:"segment_size_bytes"`
	Compaction       CompactionConfig `yaml:"compaction"`
	Kafka            KafkaConfig     `yaml:"kafka"`
}

// CompactionConfig controls gzip-compacting sealed segments.
type CompactionConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	MinSegAge  time.Duration `yaml:"min_segment_age"`
}

// KafkaConfig describes the optional commit-notification sink Storage
// publishes a message to on every segment seal.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	SASL    SASLConfig `yaml:"sasl"`
}

// SASLConfig configures SCRAM authentication to the Kafka brokers.
type SASLConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Mechanism string `yaml:"mechanism"` // "SCRAM-SHA-256" | "SCRAM-SHA-512"
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// QueryConfig is the historical-query front-end's bind port (§1, out
// of scope beyond the port itself).
type QueryConfig struct {
	Port int `yaml:"port"`
}

// LogConfig is an ambient setting, reloadable at runtime (pkg/reload).
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig binds the Prometheus/status HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
}

// TracingConfig selects the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "jaeger" | "otlphttp" | "none"
	Endpoint string `yaml:"endpoint"`
}

// ReloadConfig controls the config-file watcher.
type ReloadConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SupervisorConfig bounds Storage's respawn policy (§4.8).
type SupervisorConfig struct {
	RespawnMaxRetries int           `yaml:"respawn_max_retries"`
	RespawnWindow     time.Duration `yaml:"respawn_window"`
}
