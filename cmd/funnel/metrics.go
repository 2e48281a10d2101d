package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"funnel/internal/metrics"
	"funnel/internal/metrics/datadog"
	"funnel/internal/metrics/prompush"
)

// metricsBackend is what main needs from the Datadog backend at exit.
type metricsBackend interface {
	Close() error
}

// pushBackend is what main needs from the Pushgateway backend at exit.
type pushBackend interface {
	Flush() error
}

// Seams for tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (pushBackend, error) {
		return prompush.NewBackend(job, url)
	}
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	logPrintf = log.Printf
)

// initMetrics installs the backend named by mc.Backend. The returned cleanup
// is never nil, runs at most once and restores the no-op backend.
func initMetrics(ctx context.Context, jobName string, mc metricsConfig) (func(), error) {
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(mc.Backend)) {
	case "", "none", "noop":
		return noop, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName: jobName,
			Tags:    datadog.ParseTagsCSV(mc.Tags),
		})
		if err != nil {
			return noop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return sync.OnceFunc(func() {
			setMetricsBackend(metrics.Nop())
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}), nil

	case "pushgateway", "prometheus":
		b, err := newPushBackend(jobName, mc.PushgatewayURL)
		if err != nil {
			return noop, err
		}
		setMetricsBackend(b)
		return sync.OnceFunc(func() {
			setMetricsBackend(metrics.Nop())
			if err := b.Flush(); err != nil {
				logPrintf("metrics: pushgateway push error: %v", err)
			}
		}), nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", mc.Backend)
	}
}
