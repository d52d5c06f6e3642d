package config

import (
	"fmt"
	"strings"

	"github.com/como-project/como/pkg/comoerr"
)

// Validate performs structural validation of a loaded Config, refusing
// to start a process tree with a configuration the core could not
// satisfy (§7: basedir unwritable or equivalent structural problems
// are Fatal, not Transient).
func Validate(c *Config) error {
	v := &validator{c: c}
	v.checkMemory()
	v.checkSniffers()
	v.checkModules()
	v.checkStorage()
	v.checkQuery()

	if len(v.errs) == 0 {
		return nil
	}
	msgs := make([]string, len(v.errs))
	for i, e := range v.errs {
		msgs[i] = e.Error()
	}
	return comoerr.New(comoerr.CodeConfigInvalid, "config", "Validate",
		strings.Join(msgs, "; "), comoerr.SeverityFatal)
}

type validator struct {
	c    *Config
	errs []error
}

func (v *validator) fail(format string, args ...interface{}) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) checkMemory() {
	if v.c.Memory.SizeBytes <= 0 {
		v.fail("memory.size_bytes must be positive, got %d", v.c.Memory.SizeBytes)
	}
}

func (v *validator) checkSniffers() {
	if len(v.c.Sniffers) == 0 {
		v.fail("at least one sniffer must be configured")
	}
	seen := make(map[string]bool)
	for _, s := range v.c.Sniffers {
		if s.Name == "" {
			v.fail("sniffer entry missing name")
			continue
		}
		if seen[s.Name] {
			v.fail("duplicate sniffer name %q", s.Name)
		}
		seen[s.Name] = true
		switch s.Kind {
		case "generator", "pcapfile":
		default:
			v.fail("sniffer %q: unknown kind %q", s.Name, s.Kind)
		}
		switch s.Mode {
		case "select", "poll":
		default:
			v.fail("sniffer %q: unknown mode %q", s.Name, s.Mode)
		}
	}
}

func (v *validator) checkModules() {
	seen := make(map[string]bool)
	for _, m := range v.c.Modules {
		if m.Name == "" {
			v.fail("module entry missing name")
			continue
		}
		if seen[m.Name] {
			v.fail("duplicate module name %q", m.Name)
		}
		seen[m.Name] = true
		if m.FlushIntervalSeconds < 0 {
			v.fail("module %q: flush_interval_seconds must be non-negative", m.Name)
		}
		if m.SampleRate < 0 {
			v.fail("module %q: sample_rate must be non-negative", m.Name)
		}
	}
}

func (v *validator) checkStorage() {
	if v.c.Storage.BaseDir == "" {
		v.fail("storage.base_dir must be set")
	}
	if v.c.Storage.SegmentSizeBytes <= 0 {
		v.fail("storage.segment_size_bytes must be positive")
	}
	if v.c.Storage.Kafka.Enabled {
		if len(v.c.Storage.Kafka.Brokers) == 0 {
			v.fail("storage.kafka.brokers must be set when storage.kafka.enabled")
		}
		if v.c.Storage.Kafka.Topic == "" {
			v.fail("storage.kafka.topic must be set when storage.kafka.enabled")
		}
		if v.c.Storage.Kafka.SASL.Enabled {
			switch v.c.Storage.Kafka.SASL.Mechanism {
			case "SCRAM-SHA-256", "SCRAM-SHA-512":
			default:
				v.fail("storage.kafka.sasl.mechanism %q unsupported", v.c.Storage.Kafka.SASL.Mechanism)
			}
		}
	}
}

func (v *validator) checkQuery() {
	if v.c.Query.Port <= 0 || v.c.Query.Port > 65535 {
		v.fail("query.port out of range: %d", v.c.Query.Port)
	}
}

// Reloadable reports whether next has the same sniffers, modules,
// memory and storage settings as cur; only those are compared, so any
// other field (log, metrics, query, tracing, reload, supervisor) may
// differ. Module registration, sniffer lists, memory sizing and storage
// layout are fixed at process start (§1 non-goals).
func Reloadable(cur, next *Config) bool {
	a, b := *cur, *next
	a.Log, b.Log = LogConfig{}, LogConfig{}
	a.Metrics.Bind, b.Metrics.Bind = "", ""
	a.Query.Port, b.Query.Port = 0, 0
	return equalConfig(a, b)
}

func equalConfig(a, b Config) bool {
	if len(a.Sniffers) != len(b.Sniffers) || len(a.Modules) != len(b.Modules) {
		return false
	}
	for i := range a.Sniffers {
		if !sameSniffer(a.Sniffers[i], b.Sniffers[i]) {
			return false
		}
	}
	for i := range a.Modules {
		if a.Modules[i] != b.Modules[i] {
			return false
		}
	}
	if a.Memory != b.Memory {
		return false
	}
	if !sameStorage(a.Storage, b.Storage) {
		return false
	}
	return true
}

func sameStorage(a, b StorageConfig) bool {
	if a.BaseDir != b.BaseDir || a.SegmentSizeBytes != b.SegmentSizeBytes {
		return false
	}
	if a.Compaction != b.Compaction {
		return false
	}
	if a.Kafka.Enabled != b.Kafka.Enabled || a.Kafka.Topic != b.Kafka.Topic || a.Kafka.SASL != b.Kafka.SASL {
		return false
	}
	if len(a.Kafka.Brokers) != len(b.Kafka.Brokers) {
		return false
	}
	for i := range a.Kafka.Brokers {
		if a.Kafka.Brokers[i] != b.Kafka.Brokers[i] {
			return false
		}
	}
	return true
}

func sameSniffer(a, b SnifferConfig) bool {
	if a.Name != b.Name || a.Kind != b.Kind || a.Mode != b.Mode {
		return false
	}
	if len(a.Args) != len(b.Args) {
		return false
	}
	for k, v := range a.Args {
		if b.Args[k] != v {
			return false
		}
	}
	return true
}
