package config

import "fmt"

// ObservabilityConfig configures the New Relic application shared by all
// three binaries. Mirrors the shape the teacher's config.go already commits
// to (Observability *ObservabilityConfig, filled with ServiceName/Environment
// after load) but which never shipped a concrete struct in the retrieved
// pack; pulsegrid supplies one grounded on newrelic/go-agent/v3's own
// configuration options.
type ObservabilityConfig struct {
	LicenseKey         string `koanf:"license_key"`
	ServiceName        string `koanf:"service_name"`
	Environment        string `koanf:"environment"`
	Enabled            bool   `koanf:"enabled"`
	DistributedTracing bool   `koanf:"distributed_tracing"`
}

// DefaultObservabilityConfig returns a disabled-by-default configuration,
// matching the teacher's pattern of substituting one in when the operator
// hasn't set NEWRELIC_* env vars at all.
func DefaultObservabilityConfig() *ObservabilityConfig {
	return &ObservabilityConfig{
		Enabled:            false,
		DistributedTracing: true,
	}
}

// Validate rejects an enabled config with no license key; New Relic's own
// agent constructor would fail opaquely otherwise.
func (o *ObservabilityConfig) Validate() error {
	if o.Enabled && o.LicenseKey == "" {
		return fmt.Errorf("observability: enabled but no license_key set")
	}
	if o.ServiceName == "" {
		return fmt.Errorf("observability: service_name is required")
	}
	return nil
}
