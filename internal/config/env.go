package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Env holds process-level overrides read from the environment.
// Flags take precedence over these; these take precedence over defaults.
type Env struct {
	MetricsBackend string `envconfig:"METRICS_BACKEND"`
	PushgatewayURL string `envconfig:"PUSHGATEWAY_URL"`
	MetricsTags    string `envconfig:"METRICS_TAGS"`
	Input          string `envconfig:"FUNNEL_INPUT"`
	LogLevel       string `envconfig:"FUNNEL_LOG_LEVEL"`
}

// LoadEnv reads Env from the process environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := envconfig.Process("", &e); err != nil {
		return Env{}, fmt.Errorf("env: %w", err)
	}
	return e, nil
}
