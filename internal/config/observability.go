package config

// TracingConfig holds OTLP trace export configuration.
//
// Traces are exported over OTLP/HTTP to a local collector endpoint.
// See internal/observability/otel.go for detailed setup instructions.
type TracingConfig struct {
	// Endpoint is the OTLP/HTTP collector endpoint (default: localhost:4318)
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName is the service name in the tracing backend (default: raglet)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}
