package config

// TelemetryConfig defines tracing configuration
type TelemetryConfig struct {
	// TracingEnabled determines whether to collect and export traces
	TracingEnabled bool `default:"false"`
	// ServiceName is reported as the service name of exported spans
	ServiceName string `default:"fork-journal"`
}

var _ configGetter = &TelemetryConfig{}

func (c *TelemetryConfig) getConfig() {
	getEnv("TELEMETRY", c)
}
