package telemetry

// Config controls trace export
type Config struct {
	// Enabled installs an SDK tracer provider. When false spans are dropped.
	Enabled bool `mapstructure:"enabled"`

	// Endpoint is the OTLP/HTTP collector host:port. Empty keeps spans in process.
	Endpoint string `mapstructure:"endpoint"`

	// Insecure sends to the collector over plain HTTP
	Insecure bool `mapstructure:"insecure"`

	// SampleRate is the fraction of root spans sampled, 0 to 1
	SampleRate float64 `mapstructure:"sample_rate"`
}

// DefaultConfig keeps tracing off
func DefaultConfig() Config {
	return Config{SampleRate: 1.0}
}
