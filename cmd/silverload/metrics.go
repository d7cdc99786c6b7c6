package main

import (
	"go.uber.org/zap"

	"silverload/internal/config"
	"silverload/internal/metrics"
	"silverload/internal/metrics/datadog"
	"silverload/internal/metrics/prompush"
)

// setupMetrics installs the configured backend and returns the function
// that flushes it. A backend that fails to initialize leaves metrics off.
func setupMetrics(logger *zap.SugaredLogger, job string, m config.Metrics) func() {
	switch m.Backend {
	case "prometheus":
		url := m.PushgatewayURL
		if url == "" {
			url = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(job, url)
		if err != nil {
			logger.Warnw("metrics disabled", "backend", m.Backend, zap.Error(err))
			return func() {}
		}
		metrics.SetBackend(b)
		logger.Infow("metrics enabled", "backend", m.Backend, "url", url)
	case "datadog":
		addr := m.DatadogAddr
		if addr == "" {
			addr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       addr,
			Namespace:  "silverload.",
			GlobalTags: []string{"job:" + job},
		})
		if err != nil {
			logger.Warnw("metrics disabled", "backend", m.Backend, zap.Error(err))
			return func() {}
		}
		metrics.SetBackend(b)
		logger.Infow("metrics enabled", "backend", m.Backend, "addr", addr)
		return func() {
			if err := metrics.Flush(); err != nil {
				logger.Warnw("metrics flush failed", zap.Error(err))
			}
			_ = b.Close()
		}
	default:
		return func() {}
	}
	return func() {
		if err := metrics.Flush(); err != nil {
			logger.Warnw("metrics flush failed", zap.Error(err))
		}
	}
}
